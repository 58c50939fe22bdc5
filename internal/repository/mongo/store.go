// Package mongo implements repository.Store on MongoDB.
//
// Every balance change is a single FindOneAndUpdate whose filter carries the
// balance condition, so the check and the $inc happen in one document write.
// Duplicate webhook deliveries are caught by the unique _id of the claim.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository"
)

// compile-time interface check
var _ repository.Store = (*Store)(nil)

// Store implements repository.Store using the official MongoDB driver.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// New connects to uri, selects database and creates indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	s := &Store{client: client, db: client.Database(database)}

	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates the indexes the queries rely on.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if _, err := s.db.Collection(col).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("mongo: ping: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// ==================== Users ====================

func (s *Store) Upsert(ctx context.Context, user *model.User) error {
	t := now()
	status := user.SubscriptionStatus
	if status == "" {
		status = model.StatusNone
	}

	_, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": user.ID},
		bson.M{
			"$set": bson.M{
				"provider":   user.Provider,
				"email":      user.Email,
				"name":       user.Name,
				"updated_at": t,
			},
			"$setOnInsert": bson.M{
				"credits":             user.Credits,
				"subscription_id":     "",
				"subscription_status": string(status),
				"subscription_plan":   "",
				"created_at":          t,
			},
		},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo: upsert user %s: %w", user.ID, err)
	}

	stored, err := s.GetUserByID(ctx, user.ID)
	if err != nil {
		return err
	}
	*user = *stored
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	var m userModel
	err := s.db.Collection(colUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("mongo: get user %s: %w", id, err)
	}
	return fromUserModel(&m), nil
}

func (s *Store) SetUserSubscription(ctx context.Context, userID, subscriptionID string, status model.SubscriptionStatus, plan model.PlanID) error {
	res, err := s.db.Collection(colUsers).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$set": bson.M{
			"subscription_id":     subscriptionID,
			"subscription_status": string(status),
			"subscription_plan":   string(plan),
			"updated_at":          now(),
		}},
	)
	if err != nil {
		return fmt.Errorf("mongo: update subscription of user %s: %w", userID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

// ==================== Credits ====================

func (s *Store) GetCredits(ctx context.Context, userID string) (int64, error) {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return 0, err
	}
	return u.Credits, nil
}

func (s *Store) AddCredits(ctx context.Context, userID string, delta int64) (int64, error) {
	var m userModel
	err := s.db.Collection(colUsers).FindOneAndUpdate(ctx,
		bson.M{"_id": userID, "credits": bson.M{"$gte": -delta}},
		bson.M{
			"$inc": bson.M{"credits": delta},
			"$set": bson.M{"updated_at": now()},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&m)
	if err == nil {
		return m.Credits, nil
	}
	if !isNoDocuments(err) {
		return 0, fmt.Errorf("mongo: add %d credits to %s: %w", delta, userID, err)
	}

	current, err := s.GetCredits(ctx, userID)
	if err != nil {
		return 0, err
	}
	return 0, apperror.InsufficientCredits(current, -delta)
}

// AppendTransaction inserts tx then deletes whatever falls past keep.
// History ordering is timestamp then _id, xids sort by creation time.
func (s *Store) AppendTransaction(ctx context.Context, tx *model.CreditTransaction, keep int) error {
	col := s.db.Collection(colTransactions)
	if _, err := col.InsertOne(ctx, toTransactionModel(tx)); err != nil {
		return fmt.Errorf("mongo: insert transaction %s: %w", tx.ID, err)
	}
	if keep <= 0 {
		return nil
	}

	cursor, err := col.Find(ctx,
		bson.M{"user_id": tx.UserID},
		options.Find().
			SetSort(historySort()).
			SetSkip(int64(keep)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return fmt.Errorf("mongo: find evictable transactions: %w", err)
	}
	var stale []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &stale); err != nil {
		return fmt.Errorf("mongo: decode evictable transactions: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	ids := make(bson.A, len(stale))
	for i, doc := range stale {
		ids[i] = doc.ID
	}
	if _, err := col.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		return fmt.Errorf("mongo: trim history of %s: %w", tx.UserID, err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, limit int) ([]model.CreditTransaction, error) {
	cursor, err := s.db.Collection(colTransactions).Find(ctx,
		bson.M{"user_id": userID},
		options.Find().SetSort(historySort()).SetLimit(int64(limit)),
	)
	if err != nil {
		return nil, fmt.Errorf("mongo: list transactions of %s: %w", userID, err)
	}
	var models []transactionModel
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("mongo: decode transactions: %w", err)
	}

	txs := make([]model.CreditTransaction, len(models))
	for i := range models {
		txs[i] = fromTransactionModel(&models[i])
	}
	return txs, nil
}

// ==================== Subscriptions ====================

// SaveSubscription upserts with a pipeline update so the event-time check
// and the write happen in one step: an older event never moves status, plan
// or price back, but it may fill in a plan or price that is still empty.
func (s *Store) SaveSubscription(ctx context.Context, sub *model.Subscription) error {
	t := now()
	sub.UpdatedAt = t

	var fresh any = true
	set := bson.M{
		"user_id":    bson.M{"$literal": sub.UserID},
		"created_at": bson.M{"$ifNull": bson.A{"$created_at", t}},
		"updated_at": t,
	}
	if !sub.LastEventAt.IsZero() {
		at := sub.LastEventAt.UTC()
		fresh = bson.M{"$lte": bson.A{bson.M{"$ifNull": bson.A{"$last_event_at", at}}, at}}
		set["last_event_at"] = bson.M{"$max": bson.A{"$last_event_at", at}}
	}

	set["status"] = bson.M{"$cond": bson.A{fresh, bson.M{"$literal": string(sub.Status)}, "$status"}}
	if sub.Plan != "" {
		set["plan"] = fillOrAdvance("$plan", string(sub.Plan), fresh)
	}
	if sub.PriceID != "" {
		set["price_id"] = fillOrAdvance("$price_id", sub.PriceID, fresh)
	}

	_, err := s.db.Collection(colSubscriptions).UpdateOne(ctx,
		bson.M{"_id": sub.ID}, bson.A{bson.M{"$set": set}}, options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo: save subscription %s: %w", sub.ID, err)
	}
	return nil
}

// fillOrAdvance takes value when the event is fresh or field is still empty.
func fillOrAdvance(field, value string, fresh any) bson.M {
	empty := bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{field, ""}}, ""}}
	return bson.M{"$cond": bson.A{
		bson.M{"$or": bson.A{fresh, empty}},
		bson.M{"$literal": value},
		field,
	}}
}

func (s *Store) GetSubscription(ctx context.Context, id string) (*model.Subscription, error) {
	var m subscriptionModel
	err := s.db.Collection(colSubscriptions).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("subscription", id)
		}
		return nil, fmt.Errorf("mongo: get subscription %s: %w", id, err)
	}
	return fromSubscriptionModel(&m), nil
}

func (s *Store) ApplySubscriptionChange(ctx context.Context, id string, status model.SubscriptionStatus, plan model.PlanID, occurredAt time.Time) (bool, error) {
	filter := bson.M{"_id": id}
	set := bson.M{"status": string(status), "updated_at": now()}
	if plan != "" {
		set["plan"] = string(plan)
	}
	update := bson.M{"$set": set}

	if !occurredAt.IsZero() {
		// nil matches both a missing field and an explicit null.
		filter["$or"] = bson.A{
			bson.M{"last_event_at": nil},
			bson.M{"last_event_at": bson.M{"$lte": occurredAt.UTC()}},
		}
		update["$max"] = bson.M{"last_event_at": occurredAt.UTC()}
	}

	res, err := s.db.Collection(colSubscriptions).UpdateOne(ctx, filter, update)
	if err != nil {
		return false, fmt.Errorf("mongo: update subscription %s: %w", id, err)
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	if _, err := s.GetSubscription(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetSubscriptionOwner(ctx context.Context, subscriptionID, userID string) error {
	_, err := s.db.Collection(colSubscriptionOwners).UpdateOne(ctx,
		bson.M{"_id": subscriptionID},
		bson.M{"$set": bson.M{"user_id": userID}},
		options.UpdateOne().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("mongo: index subscription %s: %w", subscriptionID, err)
	}
	return nil
}

func (s *Store) GetSubscriptionOwner(ctx context.Context, subscriptionID string) (string, error) {
	var m ownerModel
	err := s.db.Collection(colSubscriptionOwners).FindOne(ctx, bson.M{"_id": subscriptionID}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return "", apperror.NotFound("subscription owner", subscriptionID)
		}
		return "", fmt.Errorf("mongo: owner of %s: %w", subscriptionID, err)
	}
	return m.UserID, nil
}

// ==================== Webhook events ====================

func (s *Store) ClaimEvent(ctx context.Context, event *model.WebhookEvent) (bool, error) {
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = now()
	}
	_, err := s.db.Collection(colWebhookEvents).InsertOne(ctx, &webhookEventModel{
		ID:         eventKey(event.Provider, event.EventID),
		Provider:   event.Provider,
		EventID:    event.EventID,
		EventType:  event.EventType,
		ReceivedAt: event.ReceivedAt,
	})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, fmt.Errorf("mongo: claim event %s: %w", event.EventID, err)
	}
	return true, nil
}

func (s *Store) ReleaseEvent(ctx context.Context, provider, eventID string) error {
	_, err := s.db.Collection(colWebhookEvents).DeleteOne(ctx, bson.M{"_id": eventKey(provider, eventID)})
	if err != nil {
		return fmt.Errorf("mongo: release event %s: %w", eventID, err)
	}
	return nil
}

// ==================== Reservations ====================

func (s *Store) CreateReservation(ctx context.Context, r *model.Reservation) error {
	t := now()
	r.CreatedAt = t
	r.UpdatedAt = t
	_, err := s.db.Collection(colReservations).InsertOne(ctx, &reservationModel{
		ID:        r.ID,
		UserID:    r.UserID,
		Amount:    r.Amount,
		Reason:    r.Reason,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("mongo: create reservation %s: %w", r.ID, err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, id string) (*model.Reservation, error) {
	var m reservationModel
	err := s.db.Collection(colReservations).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if isNoDocuments(err) {
			return nil, apperror.NotFound("reservation", id)
		}
		return nil, fmt.Errorf("mongo: get reservation %s: %w", id, err)
	}
	return fromReservationModel(&m), nil
}

func (s *Store) TransitionReservation(ctx context.Context, id string, from, to model.ReservationStatus) error {
	res, err := s.db.Collection(colReservations).UpdateOne(ctx,
		bson.M{"_id": id, "status": string(from)},
		bson.M{"$set": bson.M{"status": string(to), "updated_at": now()}},
	)
	if err != nil {
		return fmt.Errorf("mongo: transition reservation %s: %w", id, err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := s.GetReservation(ctx, id); err != nil {
		return err
	}
	return apperror.Conflict("reservation", id)
}

// ==================== Helpers ====================

func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colTransactions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}},
		},
		colSubscriptions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		colReservations: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}},
		},
	}
}

func historySort() bson.D {
	return bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// now truncates to milliseconds, the resolution BSON dates keep.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

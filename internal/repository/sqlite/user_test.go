package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/model"
)

// newTestDB returns a fresh in-memory database that is closed when the test ends.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser inserts a user with the given opening balance.
func createTestUser(t *testing.T, db *DB, id string, credits int64) *model.User {
	t.Helper()
	user := &model.User{
		ID:       id,
		Provider: "github",
		Email:    id + "@example.com",
		Name:     "Test " + id,
		Credits:  credits,
	}
	if err := db.Upsert(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// UPSERT TESTS
// =========================================================================

func TestUpsert_NewUser(t *testing.T) {
	db := newTestDB(t)

	user := &model.User{ID: "github:1", Provider: "github", Email: "a@example.com", Name: "A"}
	if err := db.Upsert(context.Background(), user); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if user.CreatedAt.IsZero() {
		t.Error("Upsert() did not set CreatedAt")
	}
	if user.Credits != 0 {
		t.Errorf("Credits = %d, want 0", user.Credits)
	}
	if user.SubscriptionStatus != model.StatusNone {
		t.Errorf("SubscriptionStatus = %q, want %q", user.SubscriptionStatus, model.StatusNone)
	}
}

func TestUpsert_ExistingUserKeepsCredits(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "github:2", 40)

	if err := db.SetUserSubscription(ctx, "github:2", "sub_1", model.StatusActive, model.PlanPro); err != nil {
		t.Fatalf("SetUserSubscription() error = %v", err)
	}

	relogin := &model.User{ID: "github:2", Provider: "github", Email: "new@example.com", Name: "Renamed", Credits: 0}
	if err := db.Upsert(ctx, relogin); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	if relogin.Email != "new@example.com" {
		t.Errorf("Email = %q, want profile to be overwritten", relogin.Email)
	}
	if relogin.Credits != 40 {
		t.Errorf("Credits = %d, want 40 (login must not reset the balance)", relogin.Credits)
	}
	if relogin.SubscriptionPlan != model.PlanPro {
		t.Errorf("SubscriptionPlan = %q, want %q", relogin.SubscriptionPlan, model.PlanPro)
	}
}

// =========================================================================
// GET / SUBSCRIPTION MIRROR TESTS
// =========================================================================

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "github:missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestSetUserSubscription_UnknownUser(t *testing.T) {
	db := newTestDB(t)

	err := db.SetUserSubscription(context.Background(), "github:missing", "sub_1", model.StatusActive, model.PlanPro)
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("SetUserSubscription() error = %v, want ErrNotFound", err)
	}
}

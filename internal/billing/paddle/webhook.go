package paddle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
)

// Signature headers, in the order they are looked up.
var signatureHeaders = []string{"Paddle-Signature", "X-Paddle-Signature"}

// webhookPayload is the subset of a Paddle notification we read. data is a
// subscription for subscription.* events and a transaction for
// transaction.* events.
type webhookPayload struct {
	EventID    string `json:"event_id"`
	EventType  string `json:"event_type"`
	Type       string `json:"type"`
	OccurredAt string `json:"occurred_at"`
	Data       struct {
		ID             string `json:"id"`
		Status         string `json:"status"`
		SubscriptionID string `json:"subscription_id"`
		PriceID        string `json:"price_id"`
		CustomData     struct {
			UserID string `json:"user_id"`
		} `json:"custom_data"`
		Items []struct {
			PriceID string `json:"price_id"`
			Price   struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"items"`
	} `json:"data"`
}

// ParseWebhook verifies the HMAC-SHA256 signature over the raw body and
// decodes the notification.
func (c *Client) ParseWebhook(header http.Header, body []byte) (*billing.Event, error) {
	var sig string
	for _, h := range signatureHeaders {
		if sig = header.Get(h); sig != "" {
			break
		}
	}
	if sig == "" {
		return nil, apperror.SignatureInvalid("missing Paddle-Signature header")
	}
	if !c.verify(sig, body) {
		return nil, apperror.SignatureInvalid("signature does not match")
	}

	var p webhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperror.ValidationFailed("body", "webhook body is not valid JSON")
	}
	return p.event()
}

// verify accepts the signature header formats Paddle has used:
//
//	ts=1671552777;h1=eb4d0d...   signed payload is "<ts>:<body>"
//	h1=eb4d0d...                 signed payload is the body
//	signature=eb4d0d...          signed payload is the body
//	eb4d0d...                    signed payload is the body
//
// Several h1 values may be present while a secret is being rotated, any
// match is enough. A ts further than the tolerance from our clock fails, so
// a captured delivery cannot be replayed later under a new event id.
func (c *Client) verify(header string, body []byte) bool {
	var ts string
	var candidates []string

	for part := range strings.SplitSeq(header, ";") {
		part = strings.TrimSpace(part)
		key, value, found := strings.Cut(part, "=")
		switch {
		case !found:
			candidates = append(candidates, part)
		case key == "ts":
			ts = value
		case key == "h1" || key == "signature":
			candidates = append(candidates, value)
		}
	}

	payload := body
	if ts != "" {
		if !c.fresh(ts) {
			return false
		}
		payload = append([]byte(ts+":"), body...)
	}
	expected := c.sign(payload)

	for _, got := range candidates {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(got))) {
			return true
		}
	}
	return false
}

// fresh reports whether the unix-seconds ts is within the tolerance.
func (c *Client) fresh(ts string) bool {
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false
	}
	skew := c.now().Sub(time.Unix(sec, 0))
	return skew <= c.tolerance && skew >= -c.tolerance
}

func (c *Client) sign(payload []byte) string {
	mac := hmac.New(sha256.New, c.webhookSecret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (p *webhookPayload) event() (*billing.Event, error) {
	eventType := p.EventType
	if eventType == "" {
		eventType = p.Type
	}
	if eventType == "" {
		return nil, apperror.ValidationFailed("event_type", "webhook has no event type")
	}

	ev := &billing.Event{
		Provider: name,
		ID:       p.EventID,
		Type:     billing.EventType(eventType),
		UserID:   p.Data.CustomData.UserID,
		Status:   p.Data.Status,
		PriceID:  p.priceID(),
	}

	if p.OccurredAt != "" {
		at, err := time.Parse(time.RFC3339Nano, p.OccurredAt)
		if err != nil {
			return nil, apperror.ValidationFailed("occurred_at", "occurred_at is not an RFC 3339 time")
		}
		ev.OccurredAt = at.UTC()
	}

	switch {
	case strings.HasPrefix(eventType, "subscription."):
		ev.SubscriptionID = p.Data.ID
	case strings.HasPrefix(eventType, "transaction."):
		ev.TransactionID = p.Data.ID
		ev.SubscriptionID = p.Data.SubscriptionID
	default:
		ev.SubscriptionID = p.Data.SubscriptionID
	}
	return ev, nil
}

func (p *webhookPayload) priceID() string {
	if len(p.Data.Items) > 0 {
		item := p.Data.Items[0]
		if item.PriceID != "" {
			return item.PriceID
		}
		if item.Price.ID != "" {
			return item.Price.ID
		}
	}
	return p.Data.PriceID
}

package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripeapi "github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/sakif/resize-credits/internal/apperror"
	"github.com/sakif/resize-credits/internal/billing"
)

const testWebhookSecret = "whsec_test_secret"

func newTestClient(t *testing.T, backends *stripeapi.Backends) *Client {
	t.Helper()
	c, err := New(Config{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret, Backends: backends})
	require.NoError(t, err)
	return c
}

func signedHeader(payload string) http.Header {
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	h := http.Header{}
	h.Set("Stripe-Signature", signed.Header)
	return h
}

// =========================================================================
// Webhooks
// =========================================================================

func TestParseWebhook_Events(t *testing.T) {
	c := newTestClient(t, nil)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		payload string
		want    billing.Event
	}{
		{
			name: "subscription created",
			payload: `{"id":"evt_1","object":"event","type":"customer.subscription.created","created":1772366400,
				"data":{"object":{"id":"sub_1","object":"subscription","status":"active",
				"metadata":{"user_id":"github:42"},
				"items":{"object":"list","data":[{"id":"si_1","price":{"id":"price_pro"}}]}}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_1", Type: billing.SubscriptionCreated, OccurredAt: created,
				SubscriptionID: "sub_1", UserID: "github:42", PriceID: "price_pro", Status: "active",
			},
		},
		{
			name: "subscription deleted",
			payload: `{"id":"evt_2","object":"event","type":"customer.subscription.deleted","created":1772366400,
				"data":{"object":{"id":"sub_1","object":"subscription","status":"canceled"}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_2", Type: billing.SubscriptionCanceled, OccurredAt: created,
				SubscriptionID: "sub_1", Status: "canceled",
			},
		},
		{
			name: "subscription paused",
			payload: `{"id":"evt_3","object":"event","type":"customer.subscription.paused","created":1772366400,
				"data":{"object":{"id":"sub_1","object":"subscription","status":"paused"}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_3", Type: billing.SubscriptionCanceled, OccurredAt: created,
				SubscriptionID: "sub_1", Status: "paused",
			},
		},
		{
			name: "invoice paid",
			payload: `{"id":"evt_4","object":"event","type":"invoice.paid","created":1772366400,
				"data":{"object":{"id":"in_1","object":"invoice","status":"paid","subscription":"sub_1",
				"subscription_details":{"metadata":{"user_id":"github:42"}},
				"lines":{"object":"list","data":[{"id":"il_1","price":{"id":"price_pro"}}]}}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_4", Type: billing.TransactionCompleted, OccurredAt: created,
				SubscriptionID: "sub_1", TransactionID: "in_1", UserID: "github:42", PriceID: "price_pro", Status: "paid",
			},
		},
		{
			name: "invoice payment failed",
			payload: `{"id":"evt_5","object":"event","type":"invoice.payment_failed","created":1772366400,
				"data":{"object":{"id":"in_2","object":"invoice","status":"open","subscription":"sub_1"}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_5", Type: billing.TransactionFailed, OccurredAt: created,
				SubscriptionID: "sub_1", TransactionID: "in_2", Status: "open",
			},
		},
		{
			name: "unrelated type passes through",
			payload: `{"id":"evt_6","object":"event","type":"customer.created","created":1772366400,
				"data":{"object":{"id":"cus_1","object":"customer"}}}`,
			want: billing.Event{
				Provider: "stripe", ID: "evt_6", Type: "customer.created", OccurredAt: created,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := c.ParseWebhook(signedHeader(tt.payload), []byte(tt.payload))
			require.NoError(t, err)
			assert.Equal(t, tt.want, *ev)
		})
	}
}

func TestParseWebhook_BadSignature(t *testing.T) {
	c := newTestClient(t, nil)
	payload := `{"id":"evt_1","object":"event","type":"invoice.paid","created":1772366400,"data":{"object":{}}}`

	tests := []struct {
		name   string
		header http.Header
	}{
		{"missing header", http.Header{}},
		{"garbage header", http.Header{"Stripe-Signature": []string{"nonsense"}}},
		{"other secret", func() http.Header {
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload: []byte(payload), Secret: "whsec_someone_else", Timestamp: time.Now(),
			})
			return http.Header{"Stripe-Signature": []string{signed.Header}}
		}()},
		{"too old", func() http.Header {
			signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
				Payload: []byte(payload), Secret: testWebhookSecret, Timestamp: time.Now().Add(-time.Hour),
			})
			return http.Header{"Stripe-Signature": []string{signed.Header}}
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ParseWebhook(tt.header, []byte(payload))
			assert.True(t, errors.Is(err, apperror.ErrSignatureInvalid), "error = %v", err)
		})
	}
}

func TestParseWebhook_SignedGarbage(t *testing.T) {
	c := newTestClient(t, nil)
	payload := `not json at all`

	_, err := c.ParseWebhook(signedHeader(payload), []byte(payload))
	assert.True(t, errors.Is(err, apperror.ErrValidation), "error = %v", err)
}

// =========================================================================
// Checkout
// =========================================================================

func TestCreateCheckout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "subscription", r.PostForm.Get("mode"))
		assert.Equal(t, "github:42", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "github:42", r.PostForm.Get("subscription_data[metadata][user_id]"))
		assert.Equal(t, "price_pro", r.PostForm.Get("line_items[0][price]"))
		assert.Equal(t, "octo@example.com", r.PostForm.Get("customer_email"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	}))
	defer srv.Close()

	backend := stripeapi.GetBackendWithConfig(stripeapi.APIBackend, &stripeapi.BackendConfig{
		URL:               stripeapi.String(srv.URL),
		MaxNetworkRetries: stripeapi.Int64(0),
		LeveledLogger:     &stripeapi.LeveledLogger{Level: stripeapi.LevelNull},
	})
	c := newTestClient(t, &stripeapi.Backends{API: backend, Connect: backend, Uploads: backend})

	url, err := c.CreateCheckout(context.Background(), billing.CheckoutRequest{
		PriceID: "price_pro", UserID: "github:42", Email: "octo@example.com",
		SuccessURL: "https://app.example.com/?checkout=success",
		CancelURL:  "https://app.example.com/?checkout=cancelled",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", url)
}

func TestNew_RequiresSecrets(t *testing.T) {
	_, err := New(Config{WebhookSecret: "whsec"})
	assert.Error(t, err)
	_, err = New(Config{SecretKey: "sk"})
	assert.Error(t, err)
}

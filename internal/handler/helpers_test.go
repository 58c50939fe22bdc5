package handler_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/resize-credits/internal/auth"
	"github.com/sakif/resize-credits/internal/billing"
	"github.com/sakif/resize-credits/internal/executor"
	"github.com/sakif/resize-credits/internal/model"
	"github.com/sakif/resize-credits/internal/repository/memory"
	"github.com/sakif/resize-credits/internal/service"
)

// =========================================================================
// FIXTURES
// =========================================================================
//
// Handler tests run the real services on the memory store. Only the edges
// (payment provider, image executor, OAuth provider) are faked.

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testPriceIDs = map[model.PlanID]string{
	model.PlanStarter:  "pri_starter",
	model.PlanPro:      "pri_pro",
	model.PlanBusiness: "pri_business",
}

type fixture struct {
	store       *memory.Store
	ledger      *service.LedgerService
	entitlement *service.EntitlementService
	catalog     *service.PlanCatalog
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.New()
	ledger := service.NewLedgerService(store, 100, nil, quietLogger())
	catalog, err := service.NewPlanCatalog(testPriceIDs)
	require.NoError(t, err)
	return &fixture{
		store:       store,
		ledger:      ledger,
		entitlement: service.NewEntitlementService(ledger, store, quietLogger()),
		catalog:     catalog,
	}
}

func (f *fixture) seedUser(t *testing.T, id string, credits int64) {
	t.Helper()
	require.NoError(t, f.store.Upsert(context.Background(), &model.User{
		ID: id, Provider: "github", Email: id + "@example.com", Credits: credits,
	}))
}

func (f *fixture) balance(t *testing.T, id string) int64 {
	t.Helper()
	n, err := f.store.GetCredits(context.Background(), id)
	require.NoError(t, err)
	return n
}

// asUser returns a request that already passed RequireAuth for userID.
func asUser(method, target, body, userID string) *http.Request {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req = req.WithContext(auth.WithUserID(req.Context(), userID))
	}
	return req
}

// =========================================================================
// FAKES
// =========================================================================

// mockExecutor records the request and returns a canned result.
type mockExecutor struct {
	mu       sync.Mutex
	calls    int
	captured executor.ExpandRequest
	result   *executor.ExpandResult
	err      error
}

func (m *mockExecutor) Execute(_ context.Context, req executor.ExpandRequest) (*executor.ExpandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.captured = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

// fakeProvider is a billing.Provider whose webhook parsing is scripted.
type fakeProvider struct {
	name        string
	checkoutURL string
	checkoutErr error
	lastReq     billing.CheckoutRequest
	event       *billing.Event
	parseErr    error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) CreateCheckout(_ context.Context, req billing.CheckoutRequest) (string, error) {
	p.lastReq = req
	if p.checkoutErr != nil {
		return "", p.checkoutErr
	}
	return p.checkoutURL, nil
}

func (p *fakeProvider) ParseWebhook(http.Header, []byte) (*billing.Event, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.event, nil
}

// fakeEvents records events handed to the reconciler.
type fakeEvents struct {
	got []*billing.Event
	err error
}

func (f *fakeEvents) HandleEvent(_ context.Context, ev *billing.Event) error {
	f.got = append(f.got, ev)
	return f.err
}

// fakeOAuth is an auth.Provider that accepts the code "good".
type fakeOAuth struct {
	profile *auth.Profile
}

func (p *fakeOAuth) Name() string { return "github" }

func (p *fakeOAuth) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (p *fakeOAuth) Exchange(_ context.Context, code string) (*auth.Profile, error) {
	if code != "good" {
		return nil, io.ErrUnexpectedEOF
	}
	return p.profile, nil
}

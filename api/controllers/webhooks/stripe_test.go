package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/rmoralesdev/ledgerflow-backend/internal/reconcile"
	"github.com/rmoralesdev/ledgerflow-backend/pkg/logger"
)

const testSigningSecret = "whsec_test_secret"

type fakeReconcileService struct {
	result *reconcile.Result
	err    error
	calls  int
	lastID string
}

func (f *fakeReconcileService) HandleEvent(ctx context.Context, event *stripe.Event) (*reconcile.Result, error) {
	f.calls++
	f.lastID = event.ID
	return f.result, f.err
}

type fakeSigningClient struct{}

func (fakeSigningClient) SigningSecret() string { return testSigningSecret }

type inMemoryStore struct {
	mu      sync.Mutex
	values  map[string]string
	deletes []string
}

func newInMemoryStore() *inMemoryStore {
	return &inMemoryStore{values: map[string]string{}}
}

func (s *inMemoryStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *inMemoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = fmt.Sprint(value)
	return true, nil
}

func (s *inMemoryStore) IdempotencyKey(scope, id string) string {
	return "test:idem:" + scope + ":" + id
}

func (s *inMemoryStore) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range keys {
		s.deletes = append(s.deletes, key)
		delete(s.values, key)
	}
	return nil
}

func buildStripeSignatureHeader(t *testing.T, payload []byte, secret string, ts time.Time) string {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func buildSignedEvent(t *testing.T, eventID, eventType string) ([]byte, string) {
	t.Helper()

	sub := stripe.Subscription{
		ID:       "sub_1",
		Status:   "active",
		Metadata: map[string]string{"workspace_id": uuid.NewString()},
	}
	object, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}

	payload, err := json.Marshal(map[string]any{
		"id":          eventID,
		"object":      "event",
		"api_version": stripe.APIVersion,
		"type":        eventType,
		"data":        map[string]any{"object": json.RawMessage(object)},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}

	return payload, buildStripeSignatureHeader(t, payload, testSigningSecret, time.Now())
}

func newGuard(t *testing.T, store *inMemoryStore) *reconcile.IdempotencyGuard {
	t.Helper()
	guard, err := reconcile.NewIdempotencyGuard(store, time.Hour, "stripe-webhook")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return guard
}

func postWebhook(handler http.HandlerFunc, payload []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", bytes.NewReader(payload))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestStripeWebhookProcessesSignedEvent(t *testing.T) {
	svc := &fakeReconcileService{result: &reconcile.Result{Plan: "pro"}}
	store := newInMemoryStore()
	handler := StripeWebhook(svc, fakeSigningClient{}, newGuard(t, store), logger.New(logger.Options{ServiceName: "test"}))

	payload, signature := buildSignedEvent(t, "evt_1", "customer.subscription.updated")
	rec := postWebhook(handler, payload, signature)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.calls != 1 || svc.lastID != "evt_1" {
		t.Fatalf("service not invoked with the event: calls=%d id=%q", svc.calls, svc.lastID)
	}

	var body struct {
		Data struct {
			Plan string `json:"plan"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body.Data.Plan != "pro" {
		t.Fatalf("result not echoed: %s", rec.Body.String())
	}
}

func TestStripeWebhookReplayShortCircuits(t *testing.T) {
	svc := &fakeReconcileService{result: &reconcile.Result{}}
	store := newInMemoryStore()
	handler := StripeWebhook(svc, fakeSigningClient{}, newGuard(t, store), logger.New(logger.Options{ServiceName: "test"}))

	payload, signature := buildSignedEvent(t, "evt_replay", "customer.subscription.updated")
	if rec := postWebhook(handler, payload, signature); rec.Code != http.StatusOK {
		t.Fatalf("first delivery failed: %d", rec.Code)
	}
	if rec := postWebhook(handler, payload, signature); rec.Code != http.StatusOK {
		t.Fatalf("replay must still return 200, got %d", rec.Code)
	}
	if svc.calls != 1 {
		t.Fatalf("replay must not reach the service, got %d calls", svc.calls)
	}
}

func TestStripeWebhookMissingSignature(t *testing.T) {
	handler := StripeWebhook(&fakeReconcileService{}, fakeSigningClient{}, newGuard(t, newInMemoryStore()), nil)

	payload, _ := buildSignedEvent(t, "evt_1", "customer.subscription.updated")
	rec := postWebhook(handler, payload, "")

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestStripeWebhookInvalidSignature(t *testing.T) {
	svc := &fakeReconcileService{}
	handler := StripeWebhook(svc, fakeSigningClient{}, newGuard(t, newInMemoryStore()), nil)

	payload, _ := buildSignedEvent(t, "evt_1", "customer.subscription.updated")
	badSignature := buildStripeSignatureHeader(t, payload, "whsec_wrong", time.Now())
	rec := postWebhook(handler, payload, badSignature)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if svc.calls != 0 {
		t.Fatalf("unverified payload must never reach the service")
	}
}

func TestStripeWebhookServiceFailureClearsGuardMark(t *testing.T) {
	svc := &fakeReconcileService{err: errors.New("db down")}
	store := newInMemoryStore()
	handler := StripeWebhook(svc, fakeSigningClient{}, newGuard(t, store), logger.New(logger.Options{ServiceName: "test"}))

	payload, signature := buildSignedEvent(t, "evt_fail", "customer.subscription.updated")
	rec := postWebhook(handler, payload, signature)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if len(store.deletes) != 1 {
		t.Fatalf("failed processing must clear the fast-path mark, deletes=%v", store.deletes)
	}

	// The provider retry is not treated as a replay.
	svc.err = nil
	svc.result = &reconcile.Result{}
	if rec := postWebhook(handler, payload, signature); rec.Code != http.StatusOK {
		t.Fatalf("retry after failure must succeed, got %d", rec.Code)
	}
	if svc.calls != 2 {
		t.Fatalf("retry must reach the service, got %d calls", svc.calls)
	}
}

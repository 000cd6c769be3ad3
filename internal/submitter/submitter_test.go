package submitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/repositories/sqlite"
	"github.com/yoockh/yoocall/internal/utils"
)

type memOutbox struct {
	mu      sync.Mutex
	entries map[string]models.OutboxEntry
}

func newMemOutbox() *memOutbox { return &memOutbox{entries: map[string]models.OutboxEntry{}} }

func (m *memOutbox) Save(_ context.Context, e *models.OutboxEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.SessionID] = *e
	return nil
}

func (m *memOutbox) ListPending(_ context.Context, limit int) ([]models.OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.OutboxEntry
	for _, e := range m.entries {
		if e.Status == models.OutboxPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memOutbox) MarkDelivered(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Status = models.OutboxDelivered
	m.entries[id] = e
	return nil
}

func (m *memOutbox) RecordFailure(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[id]
	e.Attempts++
	e.LastError = reason
	m.entries[id] = e
	return nil
}

func (m *memOutbox) CountPending(ctx context.Context) (int64, error) {
	p, _ := m.ListPending(ctx, 1<<30)
	return int64(len(p)), nil
}

func newTestSubmitter(t *testing.T, baseURL string, outbox Outbox) *Submitter {
	t.Helper()
	c, err := cache.NewLRUCache(64)
	if err != nil {
		t.Fatal(err)
	}
	return New(Config{
		BaseURL:        baseURL,
		ServiceSecret:  "svc-secret",
		RequestTimeout: time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}, NewCacheDeduper(c, time.Hour), outbox, nil, logger.Discard())
}

func intPtr(v int) *int { return &v }

func sampleRecord() models.SubmissionRecord {
	return models.SubmissionRecord{
		SessionID: "call-123",
		CallerID:  "+966500000000",
		Answers: []models.Answer{
			{QuestionOrder: 1, Text: "نعم", Category: models.CategoryYes, NormalizedValue: intPtr(1), Confidence: 0.93},
			{QuestionOrder: 2, Category: models.CategoryUnanswered},
		},
		DurationSeconds: 42,
		Outcome:         models.OutcomeCompleted,
		Status:          models.StatusCompleted,
	}
}

func TestSubmitSendsContract(t *testing.T) {
	var got requestBody
	var path, idem, auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		idem = r.Header.Get("Idempotency-Key")
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"response_id":"r-1"}`))
	}))
	defer srv.Close()

	s := newTestSubmitter(t, srv.URL+"/api/", newMemOutbox())
	ack, err := s.Submit(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if ack.ResponseID != "r-1" || ack.Duplicate || ack.Attempts != 1 {
		t.Fatalf("ack = %+v", ack)
	}
	if path != "/api/sessions/call-123/responses" {
		t.Fatalf("path = %s", path)
	}
	if idem != "call-123" {
		t.Fatalf("idempotency key = %q", idem)
	}
	if len(got.Answers) != 2 || got.Answers[0].QuestionOrder != 1 || *got.Answers[0].NormalizedValue != 1 {
		t.Fatalf("body answers = %+v", got.Answers)
	}
	if got.Answers[1].NormalizedValue != nil || got.Outcome != models.OutcomeCompleted || got.DurationSeconds != 42 {
		t.Fatalf("body = %+v", got)
	}

	raw := strings.TrimPrefix(auth, "Bearer ")
	claims := &serviceClaims{}
	if _, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return []byte("svc-secret"), nil }); err != nil {
		t.Fatalf("service token: %v", err)
	}
	if claims.Role != "voice_service" {
		t.Fatalf("role = %q", claims.Role)
	}
}

func TestSubmitTwiceDeliversOnce(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSubmitter(t, srv.URL, newMemOutbox())
	rec := sampleRecord()
	if _, err := s.Submit(context.Background(), rec); err != nil {
		t.Fatal(err)
	}
	ack, err := s.Submit(context.Background(), rec)
	if err != nil {
		t.Fatal(err)
	}
	if !ack.Duplicate {
		t.Fatal("second submit should be reported as duplicate")
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("downstream saw %d requests", n)
	}
}

func TestSubmitRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := newTestSubmitter(t, srv.URL, newMemOutbox())
	ack, err := s.Submit(context.Background(), sampleRecord())
	if err != nil {
		t.Fatal(err)
	}
	if ack.Attempts != 3 {
		t.Fatalf("attempts = %d", ack.Attempts)
	}
}

func TestConflictCountsAsAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	s := newTestSubmitter(t, srv.URL, newMemOutbox())
	ack, err := s.Submit(context.Background(), sampleRecord())
	if err != nil || !ack.Duplicate {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
}

func TestPermanentFailureIsNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	outbox := newMemOutbox()
	s := newTestSubmitter(t, srv.URL, outbox)
	_, err := s.Submit(context.Background(), sampleRecord())
	if !utils.IsCode(err, utils.CodeSubmissionFailure) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 1 {
		t.Fatalf("400 retried %d times", n)
	}
	if n, _ := outbox.CountPending(context.Background()); n != 1 {
		t.Fatalf("expected parked record, pending = %d", n)
	}
}

func TestExhaustionParksAndReconcileDelivers(t *testing.T) {
	var healthy atomic.Bool
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	outbox := newMemOutbox()
	s := newTestSubmitter(t, srv.URL, outbox)

	_, err := s.Submit(ctx, sampleRecord())
	if !utils.IsCode(err, utils.CodeSubmissionFailure) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if n := atomic.LoadInt32(&hits); n != 3 {
		t.Fatalf("expected 3 attempts, got %d", n)
	}
	entry := outbox.entries["call-123"]
	var parked models.SubmissionRecord
	if err := json.Unmarshal(entry.Payload, &parked); err != nil || len(parked.Answers) != 2 {
		t.Fatalf("parked payload: %v %+v", err, parked)
	}

	healthy.Store(true)
	delivered, failed, err := s.Reconcile(ctx, 10)
	if err != nil || delivered != 1 || failed != 0 {
		t.Fatalf("reconcile delivered=%d failed=%d err=%v", delivered, failed, err)
	}
	if n, _ := s.PendingCount(ctx); n != 0 {
		t.Fatalf("pending after reconcile = %d", n)
	}

	// a resubmission after reconciliation stays a duplicate
	ack, err := s.Submit(ctx, sampleRecord())
	if err != nil || !ack.Duplicate {
		t.Fatalf("ack=%+v err=%v", ack, err)
	}
}

func TestServiceTokenExpiry(t *testing.T) {
	now := time.Now()
	tok, err := ServiceToken("k", now)
	if err != nil {
		t.Fatal(err)
	}
	claims := &serviceClaims{}
	if _, err := jwt.ParseWithClaims(tok, claims, func(*jwt.Token) (any, error) { return []byte("k"), nil }); err != nil {
		t.Fatal(err)
	}
	if d := claims.ExpiresAt.Sub(now); d < 4*time.Minute || d > 5*time.Minute+time.Second {
		t.Fatalf("expiry in %s", d)
	}
}

func TestExpiredCallerContextStillParks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(400 * time.Millisecond):
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	outbox, err := sqlite.OpenOutbox(context.Background(), filepath.Join(t.TempDir(), "outbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer outbox.Close()

	s := newTestSubmitter(t, srv.URL, outbox)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err = s.Submit(ctx, sampleRecord())
	if !utils.IsCode(err, utils.CodeSubmissionFailure) {
		t.Fatalf("expected submission failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "kept for reconciliation") {
		t.Fatalf("record was not parked: %v", err)
	}
	n, err := outbox.CountPending(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("pending = %d err = %v", n, err)
	}
	pending, err := outbox.ListPending(context.Background(), 10)
	if err != nil || len(pending) != 1 || pending[0].SessionID != "call-123" {
		t.Fatalf("pending = %+v err = %v", pending, err)
	}
}

func TestBudgetCoversEveryAttempt(t *testing.T) {
	s := New(Config{
		BaseURL:        "http://records.invalid",
		RequestTimeout: 10 * time.Second,
		MaxAttempts:    5,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
	}, nil, newMemOutbox(), nil, logger.Discard())

	// 5 timeouts, 4 waits of up to 45s, then the outbox write
	want := 50*time.Second + 180*time.Second + parkTimeout
	if got := s.Budget(); got != want {
		t.Fatalf("budget = %s, want %s", got, want)
	}
}

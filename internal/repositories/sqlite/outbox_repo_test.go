package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/yoockh/yoocall/internal/models"
)

func openTestOutbox(t *testing.T) *OutboxRepo {
	t.Helper()
	r, err := OpenOutbox(context.Background(), filepath.Join(t.TempDir(), "data", "outbox.db"))
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestOutboxSaveAndList(t *testing.T) {
	ctx := context.Background()
	r := openTestOutbox(t)

	err := r.Save(ctx, &models.OutboxEntry{
		SessionID: "s-1",
		Payload:   []byte(`{"session_id":"s-1"}`),
		Attempts:  5,
		LastError: "502",
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, err := r.ListPending(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d", len(pending))
	}
	e := pending[0]
	if e.SessionID != "s-1" || e.Attempts != 5 || e.LastError != "502" || e.Status != models.OutboxPending {
		t.Fatalf("entry = %+v", e)
	}
	if string(e.Payload) != `{"session_id":"s-1"}` {
		t.Fatalf("payload = %s", e.Payload)
	}
}

func TestOutboxUpsertIsIdempotentBySession(t *testing.T) {
	ctx := context.Background()
	r := openTestOutbox(t)

	for i := 0; i < 3; i++ {
		if err := r.Save(ctx, &models.OutboxEntry{SessionID: "s-1", Payload: []byte(`{}`), Attempts: 2}); err != nil {
			t.Fatal(err)
		}
	}
	n, err := r.CountPending(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count=%d err=%v", n, err)
	}
	pending, _ := r.ListPending(ctx, 10)
	if pending[0].Attempts != 6 {
		t.Fatalf("attempts = %d", pending[0].Attempts)
	}
}

func TestOutboxDeliverAndPurge(t *testing.T) {
	ctx := context.Background()
	r := openTestOutbox(t)
	now := time.Now()
	r.clock = func() time.Time { return now }

	_ = r.Save(ctx, &models.OutboxEntry{SessionID: "a", Payload: []byte(`{}`)})
	_ = r.Save(ctx, &models.OutboxEntry{SessionID: "b", Payload: []byte(`{}`)})

	if err := r.RecordFailure(ctx, "a", "still down"); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkDelivered(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	pending, _ := r.ListPending(ctx, 10)
	if len(pending) != 1 || pending[0].SessionID != "a" || pending[0].LastError != "still down" {
		t.Fatalf("pending = %+v", pending)
	}

	now = now.Add(48 * time.Hour)
	purged, err := r.PurgeDelivered(ctx, 24*time.Hour)
	if err != nil || purged != 1 {
		t.Fatalf("purged=%d err=%v", purged, err)
	}
}

func TestOutboxReopenKeepsRows(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outbox.db")
	r, err := OpenOutbox(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	_ = r.Save(ctx, &models.OutboxEntry{SessionID: "persist", Payload: []byte(`{}`)})
	r.Close()

	r, err = OpenOutbox(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if n, _ := r.CountPending(ctx); n != 1 {
		t.Fatalf("pending after reopen = %d", n)
	}
}

package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/utils"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs map[string][]StatusMessage
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, message any) *redis.IntCmd {
	var m StatusMessage
	_ = json.Unmarshal(message.([]byte), &m)
	p.mu.Lock()
	p.msgs[channel] = append(p.msgs[channel], m)
	p.mu.Unlock()
	return redis.NewIntResult(1, nil)
}

type memCallLogs struct {
	mu   sync.Mutex
	logs map[string]*models.CallLog
}

func (m *memCallLogs) Create(_ context.Context, l *models.CallLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.logs[l.SessionID] = &cp
	return nil
}

func (m *memCallLogs) GetBySessionID(_ context.Context, id string) (*models.CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.logs[id]
	if !ok {
		return nil, utils.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memCallLogs) SetStatus(_ context.Context, id, status string, idx int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[id]; ok {
		l.Status = status
		l.QuestionIndex = idx
	}
	return nil
}

func (m *memCallLogs) Finish(_ context.Context, rec models.SubmissionRecord, endedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.logs[rec.SessionID]; ok {
		l.Status = string(rec.Status)
		l.Outcome = string(rec.Outcome)
		l.AnswerCount = len(rec.Answers)
		l.EndedAt = &endedAt
	}
	return nil
}

func (m *memCallLogs) ListRecent(context.Context, int64) ([]models.CallLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.CallLog
	for _, l := range m.logs {
		out = append(out, *l)
	}
	return out, nil
}

func TestCallTrackerLifecycle(t *testing.T) {
	pub := &recordingPublisher{msgs: map[string][]StatusMessage{}}
	logs := &memCallLogs{logs: map[string]*models.CallLog{}}
	tr := NewCallTracker(pub, logs, logger.Discard(), 16)

	ctx := context.Background()
	tr.Started(ctx, models.Session{ID: "c1", CallerID: "+9665", Status: models.StatusInitiated, StartedAt: time.Now()})
	tr.StatusChanged(ctx, "c1", models.StatusAwaitingAnswer, 1)
	tr.Progress("c1", "ringing")
	tr.Finished(ctx, models.SubmissionRecord{
		SessionID: "c1",
		Status:    models.StatusCompleted,
		Outcome:   models.OutcomeCompleted,
		Answers:   []models.Answer{{QuestionOrder: 1}},
	})
	tr.Close()

	got, err := tr.Get(ctx, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.Outcome != "completed" || got.AnswerCount != 1 || got.EndedAt == nil {
		t.Fatalf("call log = %+v", got)
	}

	msgs := pub.msgs[StatusChannel("c1")]
	if len(msgs) != 4 {
		t.Fatalf("published %d messages", len(msgs))
	}
	if msgs[1].Status != "awaiting_answer" || msgs[1].QuestionIndex != 1 || msgs[1].Type != "status" {
		t.Fatalf("status message = %+v", msgs[1])
	}
	if msgs[2].Message != "ringing" || msgs[3].Outcome != "completed" {
		t.Fatalf("messages = %+v", msgs)
	}
}

func TestCallTrackerWithoutStores(t *testing.T) {
	tr := NewCallTracker(nil, nil, logger.Discard(), 1)
	tr.StatusChanged(context.Background(), "c1", models.StatusGreeting, 0)
	tr.Close()
	tr.StatusChanged(context.Background(), "c1", models.StatusGreeting, 0)

	if _, err := tr.Recent(context.Background(), 10); !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if _, err := tr.Get(context.Background(), "c1"); !utils.IsCode(err, utils.CodeUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

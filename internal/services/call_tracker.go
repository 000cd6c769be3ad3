package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/models"
	mongorepo "github.com/yoockh/yoocall/internal/repositories/mongo"
	"github.com/yoockh/yoocall/internal/utils"
)

// Publisher is the part of the redis client the status feed needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

func StatusChannel(sessionID string) string { return "session:" + sessionID + ":status" }

type StatusMessage struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	QuestionIndex int    `json:"question_index"`
	Outcome       string `json:"outcome,omitempty"`
	Message       string `json:"message,omitempty"`
}

// CallTracker publishes lifecycle changes on the status feed and keeps the call
// log. Work is queued to one background goroutine so a slow store never holds
// up a conversation; when the queue is full the update is dropped.
type CallTracker struct {
	pub  Publisher
	logs mongorepo.CallLogRepository
	log  *logrus.Logger

	opTimeout time.Duration
	queue     chan func(context.Context)
	done      chan struct{}
	mu        sync.RWMutex
	closed    bool
	dropped   atomic.Int64
}

// NewCallTracker starts the tracker. Either pub or logs may be nil.
func NewCallTracker(pub Publisher, logs mongorepo.CallLogRepository, log *logrus.Logger, queueSize int) *CallTracker {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	t := &CallTracker{
		pub:       pub,
		logs:      logs,
		log:       log,
		opTimeout: 3 * time.Second,
		queue:     make(chan func(context.Context), queueSize),
		done:      make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *CallTracker) loop() {
	defer close(t.done)
	for fn := range t.queue {
		ctx, cancel := context.WithTimeout(context.Background(), t.opTimeout)
		fn(ctx)
		cancel()
	}
}

func (t *CallTracker) enqueue(fn func(context.Context)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- fn:
	default:
		if n := t.dropped.Add(1); n%100 == 1 {
			t.log.WithField("dropped", n).Warn("call tracker queue full")
		}
	}
}

// Close drains queued updates and stops the tracker.
func (t *CallTracker) Close() {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
}

func (t *CallTracker) Dropped() int64 { return t.dropped.Load() }

func (t *CallTracker) publish(ctx context.Context, msg StatusMessage) {
	if t.pub == nil {
		return
	}
	msg.Type = "status"
	b, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := t.pub.Publish(ctx, StatusChannel(msg.SessionID), b).Err(); err != nil {
		t.log.WithError(err).WithField("session_id", msg.SessionID).Debug("status publish failed")
	}
}

func (t *CallTracker) Started(_ context.Context, s models.Session) {
	entry := &models.CallLog{
		SessionID: s.ID,
		CallerID:  s.CallerID,
		SurveyID:  s.SurveyID,
		Status:    string(s.Status),
		CreatedAt: s.StartedAt.UTC(),
	}
	t.enqueue(func(ctx context.Context) {
		if t.logs != nil {
			if err := t.logs.Create(ctx, entry); err != nil {
				t.log.WithError(err).WithField("session_id", entry.SessionID).Warn("call log create failed")
			}
		}
		t.publish(ctx, StatusMessage{SessionID: entry.SessionID, Status: entry.Status})
	})
}

func (t *CallTracker) StatusChanged(_ context.Context, sessionID string, status models.SessionStatus, questionIndex int) {
	t.enqueue(func(ctx context.Context) {
		if t.logs != nil && !status.Terminal() {
			if err := t.logs.SetStatus(ctx, sessionID, string(status), questionIndex); err != nil {
				t.log.WithError(err).WithField("session_id", sessionID).Debug("call log status update failed")
			}
		}
		t.publish(ctx, StatusMessage{SessionID: sessionID, Status: string(status), QuestionIndex: questionIndex})
	})
}

func (t *CallTracker) Finished(_ context.Context, rec models.SubmissionRecord) {
	endedAt := time.Now().UTC()
	t.enqueue(func(ctx context.Context) {
		if t.logs != nil {
			if err := t.logs.Finish(ctx, rec, endedAt); err != nil {
				t.log.WithError(err).WithField("session_id", rec.SessionID).Warn("call log finish failed")
			}
		}
		t.publish(ctx, StatusMessage{
			SessionID:     rec.SessionID,
			Status:        string(rec.Status),
			QuestionIndex: len(rec.Answers),
			Outcome:       string(rec.Outcome),
			Message:       rec.FailureReason,
		})
	})
}

// Progress forwards a channel progress notice to the status feed.
func (t *CallTracker) Progress(sessionID, detail string) {
	t.enqueue(func(ctx context.Context) {
		t.publish(ctx, StatusMessage{SessionID: sessionID, Status: "progress", Message: detail})
	})
}

// Recent lists the newest call log entries.
func (t *CallTracker) Recent(ctx context.Context, limit int64) ([]models.CallLog, error) {
	const op = "CallTracker.Recent"
	if t.logs == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "call log not configured", nil)
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	out, err := t.logs.ListRecent(ctx, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list calls", err)
	}
	return out, nil
}

func (t *CallTracker) Get(ctx context.Context, sessionID string) (*models.CallLog, error) {
	const op = "CallTracker.Get"
	if sessionID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "session_id is required", nil)
	}
	if t.logs == nil {
		return nil, utils.E(utils.CodeUnavailable, op, "call log not configured", nil)
	}
	out, err := t.logs.GetBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return nil, utils.E(utils.CodeNotFound, op, "call not found", err)
		}
		return nil, utils.E(utils.CodeInternal, op, "failed to get call", err)
	}
	return out, nil
}

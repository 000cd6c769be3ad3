package submitter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/telemetry"
	"github.com/yoockh/yoocall/internal/utils"
)

// Outbox keeps records whose delivery budget ran out.
type Outbox interface {
	Save(ctx context.Context, e *models.OutboxEntry) error
	ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error)
	MarkDelivered(ctx context.Context, sessionID string) error
	RecordFailure(ctx context.Context, sessionID, reason string) error
	CountPending(ctx context.Context) (int64, error)
}

// parkTimeout bounds the outbox write after delivery gave up.
const parkTimeout = 5 * time.Second

type Config struct {
	BaseURL        string
	ServiceSecret  string
	RequestTimeout time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type Ack struct {
	SessionID  string `json:"session_id"`
	Duplicate  bool   `json:"duplicate"`
	ResponseID string `json:"response_id,omitempty"`
	Attempts   int    `json:"attempts"`
}

type Submitter struct {
	cfg     Config
	http    *http.Client
	dedup   Deduper
	outbox  Outbox
	metrics *telemetry.Metrics
	log     *logrus.Logger
}

func New(cfg Config, dedup Deduper, outbox Outbox, metrics *telemetry.Metrics, log *logrus.Logger) *Submitter {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}
	return &Submitter{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		dedup:   dedup,
		outbox:  outbox,
		metrics: metrics,
		log:     log,
	}
}

type answerBody struct {
	QuestionOrder   int             `json:"questionOrder"`
	Category        models.Category `json:"category"`
	NormalizedValue *int            `json:"normalizedValue"`
	Confidence      float64         `json:"confidence"`
	Text            string          `json:"text,omitempty"`
}

type requestBody struct {
	Answers         []answerBody         `json:"answers"`
	DurationSeconds int64                `json:"durationSeconds"`
	Outcome         models.Outcome       `json:"outcome"`
	CallerID        string               `json:"callerId,omitempty"`
	SurveyID        string               `json:"surveyId,omitempty"`
	Status          models.SessionStatus `json:"status"`
	FailureReason   string               `json:"failureReason,omitempty"`
}

// Budget is the longest a Submit call can take: every attempt timing out,
// the largest randomized backoff between attempts, and the outbox write.
func (s *Submitter) Budget() time.Duration {
	n := time.Duration(s.cfg.MaxAttempts)
	maxWait := s.cfg.MaxBackoff + s.cfg.MaxBackoff/2
	return n*s.cfg.RequestTimeout + (n-1)*maxWait + parkTimeout
}

// Submit delivers rec at most once per session id. When the retry budget is
// spent the record goes to the outbox and SUBMISSION_FAILURE is returned.
func (s *Submitter) Submit(ctx context.Context, rec models.SubmissionRecord) (Ack, error) {
	const op = "Submitter.Submit"
	log := s.log.WithField("session_id", rec.SessionID)

	if rec.SessionID == "" {
		return Ack{}, utils.E(utils.CodeInvalidArgument, op, "session id is required", nil)
	}

	claimed, err := s.dedup.Claim(ctx, rec.SessionID)
	switch {
	case err != nil:
		// the receiver still dedups on Idempotency-Key
		log.WithError(err).Warn("dedup store unavailable, sending anyway")
	case !claimed:
		s.metrics.Submission(ctx, "duplicate")
		log.Info("session already submitted, skipping")
		return Ack{SessionID: rec.SessionID, Duplicate: true}, nil
	}

	ack, err := s.deliver(ctx, rec)
	if err == nil {
		s.metrics.Submission(ctx, "ok")
		log.WithFields(logrus.Fields{"attempts": ack.Attempts, "outcome": rec.Outcome}).Info("submission delivered")
		return ack, nil
	}

	s.metrics.Submission(ctx, "failed")
	// the retry budget may have ended because ctx expired; parking must not
	// depend on it
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), parkTimeout)
	defer cancel()
	if rerr := s.dedup.Release(pctx, rec.SessionID); rerr != nil {
		log.WithError(rerr).Warn("failed to release dedup claim")
	}
	if oerr := s.park(pctx, rec, err); oerr != nil {
		log.WithError(oerr).Error("failed to persist submission to outbox")
		return Ack{}, utils.E(utils.CodeSubmissionFailure, op, "delivery failed and record could not be persisted", err)
	}
	log.WithError(err).Warn("submission parked in outbox")
	return Ack{}, utils.E(utils.CodeSubmissionFailure, op, "delivery failed, record kept for reconciliation", err)
}

func (s *Submitter) park(ctx context.Context, rec models.SubmissionRecord, cause error) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.outbox.Save(ctx, &models.OutboxEntry{
		SessionID: rec.SessionID,
		Payload:   datatypes.JSON(payload),
		Status:    models.OutboxPending,
		Attempts:  s.cfg.MaxAttempts,
		LastError: cause.Error(),
	})
}

// Reconcile retries up to limit parked records.
func (s *Submitter) Reconcile(ctx context.Context, limit int) (delivered, failed int, err error) {
	entries, err := s.outbox.ListPending(ctx, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		if ctx.Err() != nil {
			return delivered, failed, ctx.Err()
		}
		log := s.log.WithField("session_id", e.SessionID)

		var rec models.SubmissionRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			log.WithError(err).Error("outbox payload unreadable")
			_ = s.outbox.RecordFailure(ctx, e.SessionID, "unreadable payload: "+err.Error())
			failed++
			continue
		}

		claimed, cerr := s.dedup.Claim(ctx, e.SessionID)
		if cerr == nil && !claimed {
			_ = s.outbox.MarkDelivered(ctx, e.SessionID)
			delivered++
			continue
		}

		if _, derr := s.deliver(ctx, rec); derr != nil {
			if cerr == nil {
				_ = s.dedup.Release(ctx, e.SessionID)
			}
			_ = s.outbox.RecordFailure(ctx, e.SessionID, derr.Error())
			s.metrics.Submission(ctx, "failed")
			failed++
			continue
		}
		if err := s.outbox.MarkDelivered(ctx, e.SessionID); err != nil {
			log.WithError(err).Warn("delivered but outbox not updated")
		}
		s.metrics.Submission(ctx, "reconciled")
		log.Info("parked submission delivered")
		delivered++
	}
	return delivered, failed, nil
}

func (s *Submitter) PendingCount(ctx context.Context) (int64, error) {
	return s.outbox.CountPending(ctx)
}

func (s *Submitter) ListPending(ctx context.Context, limit int) ([]models.OutboxEntry, error) {
	return s.outbox.ListPending(ctx, limit)
}

func (s *Submitter) deliver(ctx context.Context, rec models.SubmissionRecord) (Ack, error) {
	body, err := json.Marshal(buildBody(rec))
	if err != nil {
		return Ack{}, err
	}
	endpoint := strings.TrimRight(s.cfg.BaseURL, "/") + "/sessions/" + url.PathEscape(rec.SessionID) + "/responses"

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.InitialBackoff
	b.MaxInterval = s.cfg.MaxBackoff

	attempts := 0
	ack, err := backoff.Retry(ctx, func() (Ack, error) {
		attempts++
		return s.post(ctx, endpoint, rec.SessionID, body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(s.cfg.MaxAttempts)), backoff.WithMaxElapsedTime(0))
	ack.Attempts = attempts
	return ack, err
}

func (s *Submitter) post(ctx context.Context, endpoint, sessionID string, body []byte) (Ack, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Ack{}, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", sessionID)
	if s.cfg.ServiceSecret != "" {
		tok, err := ServiceToken(s.cfg.ServiceSecret, time.Now())
		if err != nil {
			return Ack{}, backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return Ack{}, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out struct {
			ResponseID string `json:"response_id"`
			ID         string `json:"id"`
		}
		_ = json.Unmarshal(raw, &out)
		if out.ResponseID == "" {
			out.ResponseID = out.ID
		}
		return Ack{SessionID: sessionID, ResponseID: out.ResponseID}, nil
	case resp.StatusCode == http.StatusConflict:
		return Ack{SessionID: sessionID, Duplicate: true}, nil
	}

	statusErr := fmt.Errorf("records service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			return Ack{}, backoff.RetryAfter(secs)
		}
		return Ack{}, statusErr
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return Ack{}, backoff.Permanent(statusErr)
	}
	return Ack{}, statusErr
}

func buildBody(rec models.SubmissionRecord) requestBody {
	answers := make([]answerBody, 0, len(rec.Answers))
	for _, a := range rec.Answers {
		answers = append(answers, answerBody{
			QuestionOrder:   a.QuestionOrder,
			Category:        a.Category,
			NormalizedValue: a.NormalizedValue,
			Confidence:      a.Confidence,
			Text:            a.Text,
		})
	}
	return requestBody{
		Answers:         answers,
		DurationSeconds: rec.DurationSeconds,
		Outcome:         rec.Outcome,
		CallerID:        rec.CallerID,
		SurveyID:        rec.SurveyID,
		Status:          rec.Status,
		FailureReason:   rec.FailureReason,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/classifier"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/speech"
	"github.com/yoockh/yoocall/internal/telemetry"
	"github.com/yoockh/yoocall/internal/utils"
)

const (
	// preRollMS of audio is kept ahead of the detected onset.
	preRollMS = 300
	// maxAttempts per question: the prompt and one clarifying re-prompt.
	maxAttempts = 2
)

// ended is returned when the caller went away. It is not a failure.
type ended struct{ reason string }

func (e *ended) Error() string { return "call ended: " + e.reason }

type Deps struct {
	Speech   Speech
	Channel  Channel
	Events   <-chan Event
	Observer Observer
	Archiver Archiver
	Metrics  *telemetry.Metrics
	Log      *logrus.Entry
}

// Machine drives one call through greeting, questions and closing. All session
// state is touched only from the goroutine running Run.
type Machine struct {
	s       *models.Session
	prompts Prompts
	cfg     Config

	speech   Speech
	ch       Channel
	events   <-chan Event
	obs      Observer
	archiver Archiver
	metrics  *telemetry.Metrics
	log      *logrus.Entry
	now      func() time.Time
}

func New(s *models.Session, prompts Prompts, cfg Config, d Deps) *Machine {
	cfg = cfg.withDefaults()
	if s.Language == "" {
		s.Language = cfg.Language
	}
	if s.Status == "" {
		s.Status = models.StatusInitiated
	}
	if d.Observer == nil {
		d.Observer = NopObserver{}
	}
	if d.Log == nil {
		d.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Machine{
		s:        s,
		prompts:  prompts,
		cfg:      cfg,
		speech:   d.Speech,
		ch:       d.Channel,
		events:   d.Events,
		obs:      d.Observer,
		archiver: d.Archiver,
		metrics:  d.Metrics,
		log:      d.Log,
		now:      time.Now,
	}
}

// Run converses until the session is terminal and returns its submission
// record. It never panics; an internal fault ends the session as failed.
func (m *Machine) Run(ctx context.Context) (rec models.SubmissionRecord) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if m.s.StartedAt.IsZero() {
		m.s.StartedAt = m.now()
	}
	m.obs.Started(ctx, *m.s)

	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", fmt.Sprint(r)).Error("session machine panicked")
			m.fail(ctx, utils.E(utils.CodeInternal, "session.Run", "internal fault", nil))
		}
		m.s.EndedAt = m.now()
		rec = m.s.Record()
		m.obs.Finished(context.WithoutCancel(ctx), rec)
		m.metrics.SessionFinished(ctx, string(rec.Outcome))
		m.log.WithFields(logrus.Fields{
			"status":   rec.Status,
			"outcome":  rec.Outcome,
			"answers":  len(rec.Answers),
			"duration": rec.DurationSeconds,
		}).Info("session finished")
	}()

	err := m.converse(ctx)
	var gone *ended
	switch {
	case err == nil:
	case errors.As(err, &gone):
		m.s.FailureReason = gone.reason
		m.transition(ctx, models.StatusCancelled)
	default:
		m.fail(ctx, err)
	}
	return
}

func (m *Machine) converse(ctx context.Context) error {
	m.transition(ctx, models.StatusGreeting)
	if err := m.say(ctx, m.prompts.Greeting); err != nil {
		return err
	}
	for i := range m.s.Questions {
		m.s.Index = i
		if err := m.ask(ctx, i); err != nil {
			return err
		}
	}
	m.s.Index = len(m.s.Questions)
	m.transition(ctx, models.StatusCompleted)
	m.finishCall(ctx, m.prompts.Closing)
	return nil
}

func (m *Machine) ask(ctx context.Context, i int) error {
	q := m.s.Questions[i]
	order := q.Order
	if order == 0 {
		order = i + 1
	}

	m.transition(ctx, models.StatusAskingQuestion)
	if err := m.ch.Mark(ctx, i); err != nil {
		return &ended{reason: "disconnect"}
	}

	prompt := q.Text
	for attempt := 1; ; attempt++ {
		if err := m.say(ctx, prompt); err != nil {
			return err
		}
		m.transition(ctx, models.StatusAwaitingAnswer)

		ans, clarify, err := m.listen(ctx, q, order, attempt)
		if err != nil {
			return err
		}
		if clarify && attempt < maxAttempts {
			m.log.WithFields(logrus.Fields{"question": order, "category": ans.Category, "confidence": ans.Confidence}).
				Info("answer not usable, clarifying")
			prompt = joinPrompt(m.prompts.Clarify, q.Text)
			m.transition(ctx, models.StatusAskingQuestion)
			continue
		}
		if clarify && ans.Category == "" {
			// second recognition timeout
			ans = models.Unanswered(order, m.now())
		}
		m.record(ctx, ans)
		return nil
	}
}

// listen waits for one answer to q. clarify reports that the answer should be
// re-asked when attempts remain.
func (m *Machine) listen(ctx context.Context, q models.QuestionSpec, order, attempt int) (models.Answer, bool, error) {
	pause := q.PauseSeconds
	if pause < models.MinPauseUnits || pause > models.MaxPauseUnits {
		pause = m.cfg.DefaultPause
	}
	m.s.Deadline = m.now().Add(time.Duration(pause) * m.cfg.TimeUnit)
	// onsets extend the wait up to this bound and never past it, so noise
	// that never yields a transcript still ends the attempt
	hardDeadline := m.s.Deadline.Add(m.cfg.MaxUtterance)

	ep := audio.NewEndpointer(m.cfg.Endpoint)
	preRoll := m.cfg.Endpoint.SampleRate * 2 * preRollMS / 1000
	var buf []byte

	timer := time.NewTimer(time.Until(m.s.Deadline))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.Answer{}, false, &ended{reason: "shutdown"}

		case ev, ok := <-m.events:
			if !ok {
				return models.Answer{}, false, &ended{reason: "disconnect"}
			}
			if ev.Kind != EventAudio {
				if err := m.control(ev); err != nil {
					return models.Answer{}, false, err
				}
				continue
			}

			buf = append(buf, ev.PCM...)
			r := ep.Push(ev.PCM)
			if r.Onset {
				m.s.Deadline = m.now().Add(m.cfg.MaxUtterance)
				if m.s.Deadline.After(hardDeadline) {
					m.s.Deadline = hardDeadline
				}
				resetTimer(timer, time.Until(m.s.Deadline))
			}
			if !ep.SpeechStarted() && len(buf) > preRoll {
				buf = append(buf[:0], buf[len(buf)-preRoll:]...)
			}
			if !r.End {
				continue
			}

			tr, err := m.recognize(ctx, buf, order, attempt)
			if err != nil {
				if utils.IsCode(err, utils.CodeRecognitionTimeout) {
					return models.Answer{}, true, nil
				}
				return models.Answer{}, false, err
			}
			if tr.Text == "" {
				buf = buf[:0]
				ep.Reset()
				continue
			}
			ans, clarify := m.judge(q, order, tr)
			return ans, clarify, nil

		case <-timer.C:
			if !ep.SpeechStarted() {
				return models.Unanswered(order, m.now()), false, nil
			}
			tr, err := m.recognize(ctx, buf, order, attempt)
			if err != nil {
				if utils.IsCode(err, utils.CodeRecognitionTimeout) {
					return models.Answer{}, true, nil
				}
				return models.Answer{}, false, err
			}
			if tr.Text == "" {
				return models.Unanswered(order, m.now()), false, nil
			}
			ans, clarify := m.judge(q, order, tr)
			return ans, clarify, nil
		}
	}
}

func (m *Machine) judge(q models.QuestionSpec, order int, tr speech.Transcript) (models.Answer, bool) {
	res := classifier.ForQuestion(tr.Text, q)
	ans := models.Answer{
		QuestionOrder:   order,
		Text:            tr.Text,
		Category:        res.Category,
		NormalizedValue: res.Value,
		Confidence:      tr.Confidence,
		At:              m.now(),
	}
	clarify := res.Category == models.CategoryUnrecognized ||
		!q.Accepts(res.Category) ||
		tr.Confidence < m.cfg.ConfidenceThreshold
	return ans, clarify
}

func (m *Machine) record(ctx context.Context, ans models.Answer) {
	m.s.Answers = append(m.s.Answers, ans)
	m.metrics.AnswerRecorded(ctx, string(ans.Category))
	m.log.WithFields(logrus.Fields{
		"question":   ans.QuestionOrder,
		"category":   ans.Category,
		"confidence": ans.Confidence,
	}).Info("answer recorded")
}

// recognize calls the engine once more if the first call fails.
func (m *Machine) recognize(ctx context.Context, pcm []byte, order, attempt int) (speech.Transcript, error) {
	call := func(c context.Context) (speech.Transcript, error) { return m.speech.Recognize(c, pcm) }
	tr, err := await(ctx, m, call)
	if retryable(err) {
		m.log.WithError(err).Warn("recognition failed, retrying")
		tr, err = await(ctx, m, call)
	}
	if err == nil && tr.Text != "" && m.archiver != nil {
		m.archiver.Archive(m.s.ID, order, attempt, pcm)
	}
	return tr, err
}

func (m *Machine) synthesize(ctx context.Context, text string) ([]byte, error) {
	call := func(c context.Context) ([]byte, error) { return m.speech.Synthesize(c, text, m.s.Language) }
	pcm, err := await(ctx, m, call)
	if retryable(err) {
		m.log.WithError(err).Warn("synthesis failed, retrying")
		pcm, err = await(ctx, m, call)
	}
	return pcm, err
}

// say synthesizes text and plays it while still watching for hangups.
func (m *Machine) say(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	pcm, err := m.synthesize(ctx, text)
	if err != nil {
		return err
	}
	_, err = await(ctx, m, func(c context.Context) (struct{}, error) {
		if err := m.ch.Play(c, pcm); err != nil {
			return struct{}{}, &ended{reason: "disconnect"}
		}
		return struct{}{}, nil
	})
	return err
}

// control handles a non-audio event.
func (m *Machine) control(ev Event) error {
	switch ev.Kind {
	case EventHangup:
		return &ended{reason: "hangup"}
	case EventDisconnect:
		return &ended{reason: "disconnect"}
	case EventAudioFailure:
		if utils.CodeOf(ev.Err) != "" {
			return ev.Err
		}
		return utils.E(utils.CodeAudioQualityFailure, "session.control", "inbound audio unusable", ev.Err)
	case EventProgress:
		m.log.WithField("detail", ev.Detail).Debug("channel progress")
	}
	return nil
}

// fail ends the call with the fallback prompt. It does not watch events; the
// prompt is bounded by FallbackTimeout.
func (m *Machine) fail(ctx context.Context, err error) {
	if m.s.Status.Terminal() {
		m.log.WithError(err).Warn("fault after session ended")
		return
	}
	code := utils.CodeOf(err)
	if code == "" {
		code = utils.CodeInternal
	}
	m.s.FailureReason = string(code)
	m.transition(ctx, models.StatusFailed)
	m.log.WithError(err).WithField("code", code).Error("session failed")

	defer func() {
		if r := recover(); r != nil {
			m.log.WithField("panic", fmt.Sprint(r)).Error("fallback prompt panicked")
		}
	}()
	m.finishCall(ctx, m.prompts.Fallback)
}

// finishCall plays a last prompt and asks the channel to hang up. Errors here
// do not change the outcome.
func (m *Machine) finishCall(ctx context.Context, text string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.cfg.FallbackTimeout)
	defer cancel()
	if strings.TrimSpace(text) != "" {
		pcm, err := m.speech.Synthesize(cctx, text, m.s.Language)
		if err == nil {
			err = m.ch.Play(cctx, pcm)
		}
		if err != nil {
			m.log.WithError(err).Warn("final prompt not played")
		}
	}
	if err := m.ch.Hangup(cctx); err != nil {
		m.log.WithError(err).Debug("hangup not sent")
	}
}

func (m *Machine) transition(ctx context.Context, to models.SessionStatus) {
	if m.s.Status.Terminal() {
		return
	}
	m.log.WithFields(logrus.Fields{"from": m.s.Status, "to": to, "question_index": m.s.Index}).Debug("session transition")
	m.s.Status = to
	m.obs.StatusChanged(ctx, m.s.ID, to, m.s.Index)
}

// await runs fn in its own goroutine and keeps consuming events until it
// returns. Audio that arrives meanwhile is dropped.
func await[T any](ctx context.Context, m *Machine, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: utils.E(utils.CodeInternal, "session.await", fmt.Sprintf("panic: %v", r), nil)}
			}
		}()
		v, err := fn(cctx)
		done <- result{v: v, err: err}
	}()

	for {
		select {
		case r := <-done:
			return r.v, r.err
		case <-ctx.Done():
			return zero, &ended{reason: "shutdown"}
		case ev, ok := <-m.events:
			if !ok {
				return zero, &ended{reason: "disconnect"}
			}
			if ev.Kind == EventAudio {
				continue
			}
			if err := m.control(ev); err != nil {
				return zero, err
			}
		}
	}
}

func retryable(err error) bool {
	switch utils.CodeOf(err) {
	case utils.CodeRecognitionTimeout, utils.CodeRecognitionUnavailable, utils.CodeSynthesisUnavailable:
		return true
	}
	return false
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func joinPrompt(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/logger"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/registry"
	"github.com/yoockh/yoocall/internal/session"
	"github.com/yoockh/yoocall/internal/submitter"
	"github.com/yoockh/yoocall/internal/telemetry"
	"github.com/yoockh/yoocall/internal/utils"
)

type Options struct {
	// Credential is the shared secret or its bcrypt hash.
	Credential      string
	AuthTimeout     time.Duration
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	CloseGrace      time.Duration
	PacePlayback    bool
	MaxMessageBytes int64
	CanonicalRate   int
	// SubmitTimeout bounds delivery of the finished record. It should cover
	// the submitter's whole retry budget.
	SubmitTimeout time.Duration
	Session       session.Config
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 5 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 20 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.CloseGrace < 0 {
		o.CloseGrace = 0
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.CanonicalRate <= 0 {
		o.CanonicalRate = 16000
	}
	if o.SubmitTimeout <= 0 {
		o.SubmitTimeout = 2 * time.Minute
	}
	return o
}

type Submitter interface {
	Submit(ctx context.Context, rec models.SubmissionRecord) (submitter.Ack, error)
}

type Surveys interface {
	Get(id string) (models.Survey, error)
}

// Tracker observes sessions and receives channel progress notices.
type Tracker interface {
	session.Observer
	Progress(sessionID, detail string)
}

type Deps struct {
	Registry  *registry.Registry
	Speech    session.Speech
	Surveys   Surveys
	Submitter Submitter
	Tracker   Tracker
	Archiver  session.Archiver
	Metrics   *telemetry.Metrics
	Log       *logrus.Logger
}

// Gateway accepts telephony channels and runs one survey session per channel.
type Gateway struct {
	opt      Options
	d        Deps
	upgrader websocket.Upgrader
	calls    sync.WaitGroup

	// base outlives request contexts; cancelling it ends every live call.
	base context.Context
	stop context.CancelFunc
}

func NewGateway(opt Options, d Deps) (*Gateway, error) {
	opt = opt.withDefaults()
	if _, err := audio.NewTranscoder(opt.CanonicalRate); err != nil {
		return nil, err
	}
	if d.Registry == nil || d.Speech == nil || d.Surveys == nil || d.Submitter == nil {
		return nil, utils.E(utils.CodeInvalidArgument, "channel.NewGateway", "registry, speech, surveys and submitter are required", nil)
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
	base, stop := context.WithCancel(context.Background())
	return &Gateway{
		opt: opt,
		d:   d,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// telephony platforms do not send browser origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		base: base,
		stop: stop,
	}, nil
}

// Shutdown waits for live calls, including their submissions, to finish. When
// ctx expires first the remaining calls are cancelled and still submitted.
func (g *Gateway) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.calls.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.stop()
		return ctx.Err()
	}
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrade already wrote response
		return
	}
	g.calls.Add(1)
	defer g.calls.Done()
	defer conn.Close()

	conn.SetReadLimit(g.opt.MaxMessageBytes)
	log := g.d.Log.WithField("remote", r.RemoteAddr)

	hello, err := g.authenticate(conn)
	if err != nil {
		log.WithError(err).Warn("channel authentication failed")
		g.d.Metrics.ChannelRejected(r.Context(), "auth")
		g.closeWith(conn, CloseAuthFailed, "auth failed")
		return
	}

	slot, err := g.d.Registry.TryAcquire()
	if err != nil {
		log.WithField("active", g.d.Registry.Active()).Warn("channel rejected at capacity")
		g.d.Metrics.ChannelRejected(r.Context(), "capacity")
		g.closeWith(conn, CloseCapacityExceeded, "capacity exceeded")
		return
	}
	defer slot.Release()

	survey, err := g.d.Surveys.Get(hello.SurveyID)
	if err != nil {
		log.WithError(err).WithField("survey_id", hello.SurveyID).Warn("channel rejected, unknown survey")
		g.d.Metrics.ChannelRejected(r.Context(), "survey")
		g.closeWith(conn, CloseUnknownSurvey, "unknown survey")
		return
	}

	rec := g.runCall(conn, slot, r.RemoteAddr, hello, survey)

	ctx, cancel := context.WithTimeout(context.Background(), g.opt.SubmitTimeout)
	defer cancel()
	clog := logger.ForCall(g.d.Log, rec.SessionID, rec.CallerID)
	ack, err := g.d.Submitter.Submit(ctx, rec)
	if err != nil {
		clog.WithError(err).Error("submission failed, record parked")
		return
	}
	clog.WithFields(logrus.Fields{"duplicate": ack.Duplicate, "attempts": ack.Attempts, "response_id": ack.ResponseID}).
		Info("submission acknowledged")
}

func (g *Gateway) authenticate(conn *websocket.Conn) (inbound, error) {
	const op = "channel.authenticate"
	_ = conn.SetReadDeadline(time.Now().Add(g.opt.AuthTimeout))
	kind, data, err := conn.ReadMessage()
	if err != nil {
		return inbound{}, utils.E(utils.CodeAuthFailure, op, "no auth message", err)
	}
	if kind != websocket.TextMessage {
		return inbound{}, utils.E(utils.CodeAuthFailure, op, "first message must be text", nil)
	}
	msg, err := parseInbound(data)
	if err != nil || msg.Type != TypeAuth {
		return inbound{}, utils.E(utils.CodeAuthFailure, op, "first message must be auth", err)
	}
	if !utils.CheckSecret(g.opt.Credential, msg.Credential) {
		return inbound{}, utils.E(utils.CodeAuthFailure, op, "credential rejected", nil)
	}
	return msg, nil
}

func (g *Gateway) closeWith(conn *websocket.Conn, code int, text string) {
	deadline := time.Now().Add(g.opt.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
	time.Sleep(g.opt.CloseGrace)
}

// runCall owns the connection from authentication to close and returns the
// session's record. The registry slot is released as soon as the conversation
// ends.
func (g *Gateway) runCall(conn *websocket.Conn, slot *registry.Slot, remote string, hello inbound, survey models.Survey) models.SubmissionRecord {
	sessionID := hello.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	language := hello.Language
	if language == "" {
		language = survey.Language
	}
	log := logger.ForCall(g.d.Log, sessionID, hello.CallerID)
	slot.Describe(registry.CallInfo{SessionID: sessionID, CallerID: hello.CallerID, SurveyID: survey.ID, Remote: remote})

	// rate checked in NewGateway
	inTC, _ := audio.NewTranscoder(g.opt.CanonicalRate)

	ctx, cancel := context.WithCancel(g.base)
	defer cancel()

	w := newWriter(conn, g.opt.WriteTimeout)
	defer w.close()

	events := make(chan session.Event, 64)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		g.readLoop(ctx, conn, inTC, events, sessionID, log)
	}()
	go g.keepalive(ctx, conn)

	s := &models.Session{
		ID:        sessionID,
		CallerID:  hello.CallerID,
		SurveyID:  survey.ID,
		Language:  language,
		Questions: survey.Questions,
		Status:    models.StatusInitiated,
	}
	var obs session.Observer = session.NopObserver{}
	if g.d.Tracker != nil {
		obs = g.d.Tracker
	}
	m := session.New(s, session.Prompts{
		Greeting: survey.Greeting,
		Clarify:  survey.Clarify,
		Fallback: survey.Fallback,
		Closing:  survey.Closing,
	}, g.opt.Session, session.Deps{
		Speech:   g.d.Speech,
		Channel:  &callChannel{w: w, tc: inTC, pace: g.opt.PacePlayback},
		Events:   events,
		Observer: obs,
		Archiver: g.d.Archiver,
		Metrics:  g.d.Metrics,
		Log:      log,
	})

	log.WithField("survey_id", survey.ID).Info("call accepted")
	rec := m.Run(ctx)
	slot.Release()

	w.close()
	deadline := time.Now().Add(g.opt.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(rec.Outcome)), deadline)
	select {
	case <-readerDone:
	case <-time.After(g.opt.CloseGrace):
	}
	cancel()
	_ = conn.Close()
	<-readerDone
	return rec
}

// readLoop turns inbound frames into session events until the socket fails.
func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, tc *audio.Transcoder, events chan<- session.Event, sessionID string, log *logrus.Entry) {
	emit := func(ev session.Event) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	_ = conn.SetReadDeadline(time.Now().Add(g.opt.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(g.opt.ReadTimeout))
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug("channel closed by peer")
			} else if ctx.Err() == nil {
				log.WithError(err).Info("channel read ended")
			}
			emit(session.Event{Kind: session.EventDisconnect, Err: err})
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(g.opt.ReadTimeout))

		switch kind {
		case websocket.BinaryMessage:
			pcm, err := tc.ToCanonical(data)
			if err != nil {
				if utils.IsCode(err, utils.CodeAudioQualityFailure) {
					if !emit(session.Event{Kind: session.EventAudioFailure, Err: err}) {
						return
					}
					continue
				}
				log.WithError(err).WithField("code", utils.CodeOf(err)).Warn("bad audio chunk dropped")
			}
			if len(pcm) > 0 && !emit(session.Event{Kind: session.EventAudio, PCM: pcm}) {
				return
			}

		case websocket.TextMessage:
			msg, err := parseInbound(data)
			if err != nil || msg.Type != TypeControl {
				log.WithField("payload", truncate(data, 128)).Warn("unknown text message ignored")
				continue
			}
			switch msg.Event {
			case EventHangup:
				if !emit(session.Event{Kind: session.EventHangup}) {
					return
				}
			case EventProgress:
				if g.d.Tracker != nil {
					g.d.Tracker.Progress(sessionID, msg.Detail)
				}
				if !emit(session.Event{Kind: session.EventProgress, Detail: msg.Detail}) {
					return
				}
			default:
				log.WithField("event", msg.Event).Warn("unknown control event ignored")
			}
		}
	}
}

func (g *Gateway) keepalive(ctx context.Context, conn *websocket.Conn) {
	t := time.NewTicker(g.opt.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(g.opt.WriteTimeout)); err != nil {
				return
			}
		}
	}
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}

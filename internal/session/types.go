package session

import (
	"context"
	"time"

	"github.com/yoockh/yoocall/internal/audio"
	"github.com/yoockh/yoocall/internal/models"
	"github.com/yoockh/yoocall/internal/speech"
)

type EventKind int

const (
	// EventAudio carries canonical PCM from the caller.
	EventAudio EventKind = iota
	EventHangup
	EventDisconnect
	EventProgress
	// EventAudioFailure reports that the inbound stream is unusable.
	EventAudioFailure
)

func (k EventKind) String() string {
	switch k {
	case EventAudio:
		return "audio"
	case EventHangup:
		return "hangup"
	case EventDisconnect:
		return "disconnect"
	case EventProgress:
		return "progress"
	case EventAudioFailure:
		return "audio_failure"
	default:
		return "unknown"
	}
}

// Event is one inbound message from the channel gateway.
type Event struct {
	Kind   EventKind
	PCM    []byte
	Err    error
	Detail string
}

// Speech is the subset of the speech gateway the conversation needs.
type Speech interface {
	Recognize(ctx context.Context, pcm []byte) (speech.Transcript, error)
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// Channel is the outbound half of the call. Play returns once the last frame
// of pcm has been written to the caller.
type Channel interface {
	Play(ctx context.Context, pcm []byte) error
	Mark(ctx context.Context, questionIndex int) error
	Hangup(ctx context.Context) error
}

// Observer is told about lifecycle changes. Implementations must not block.
type Observer interface {
	Started(ctx context.Context, s models.Session)
	StatusChanged(ctx context.Context, sessionID string, status models.SessionStatus, questionIndex int)
	Finished(ctx context.Context, rec models.SubmissionRecord)
}

// Archiver receives each recognized utterance. Implementations must not block.
type Archiver interface {
	Archive(sessionID string, questionOrder, attempt int, pcm []byte)
}

type NopObserver struct{}

func (NopObserver) Started(context.Context, models.Session) {}
func (NopObserver) StatusChanged(context.Context, string, models.SessionStatus, int) {}
func (NopObserver) Finished(context.Context, models.SubmissionRecord) {}

// Prompts are the fixed texts spoken around the questions.
type Prompts struct {
	Greeting string
	Clarify  string
	Fallback string
	Closing  string
}

type Config struct {
	Language            string
	TimeUnit            time.Duration
	DefaultPause        int
	MaxUtterance        time.Duration
	ConfidenceThreshold float64
	Endpoint            audio.EndpointConfig
	// FallbackTimeout bounds the fallback prompt on the failure path.
	FallbackTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.DefaultPause < models.MinPauseUnits || c.DefaultPause > models.MaxPauseUnits {
		c.DefaultPause = 5
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = 8 * time.Second
	}
	if c.ConfidenceThreshold <= 0 {
		c.ConfidenceThreshold = 0.6
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 3 * time.Second
	}
	if c.Endpoint.SampleRate <= 0 {
		c.Endpoint.SampleRate = 16000
	}
	return c
}

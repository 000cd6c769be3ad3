package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/yoockh/yoocall/internal/cache"
	"github.com/yoockh/yoocall/internal/providers/stt"
	"github.com/yoockh/yoocall/internal/providers/tts"
	"github.com/yoockh/yoocall/internal/telemetry"
	"github.com/yoockh/yoocall/internal/utils"
)

type Transcript struct {
	Text       string
	Confidence float64
}

type Options struct {
	Language           string
	RecognitionTimeout time.Duration
	SynthesisTimeout   time.Duration
	// PromptCache holds synthesized prompt PCM; nil disables caching.
	PromptCache cache.Cache
	PromptTTL   time.Duration
	Metrics     *telemetry.Metrics
	Log         *logrus.Logger
}

// Gateway is the single entry point to the speech engines. It holds no per-call
// state and is shared by all sessions.
type Gateway struct {
	rec stt.Provider
	syn tts.Provider
	opt Options
}

func NewGateway(rec stt.Provider, syn tts.Provider, opt Options) *Gateway {
	if opt.RecognitionTimeout <= 0 {
		opt.RecognitionTimeout = 8 * time.Second
	}
	if opt.SynthesisTimeout <= 0 {
		opt.SynthesisTimeout = 8 * time.Second
	}
	if opt.Log == nil {
		opt.Log = logrus.StandardLogger()
	}
	return &Gateway{rec: rec, syn: syn, opt: opt}
}

// CheckFormat verifies both engines work at the canonical rate. Called once at startup.
func (g *Gateway) CheckFormat(rate int) error {
	const op = "speech.CheckFormat"
	if r := g.rec.SampleRate(); r != rate {
		return utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("recognizer expects %d Hz, canonical is %d Hz", r, rate), nil)
	}
	if r := g.syn.SampleRate(); r != rate {
		return utils.E(utils.CodeInvalidArgument, op, fmt.Sprintf("synthesizer produces %d Hz, canonical is %d Hz", r, rate), nil)
	}
	return nil
}

func (g *Gateway) Recognize(ctx context.Context, pcm []byte) (Transcript, error) {
	const op = "speech.Recognize"
	cctx, cancel := context.WithTimeout(ctx, g.opt.RecognitionTimeout)
	defer cancel()

	start := time.Now()
	text, conf, err := g.rec.Transcribe(cctx, pcm, g.opt.Language)
	g.opt.Metrics.SpeechCall(ctx, "recognize", time.Since(start).Seconds(), err == nil)
	if err != nil {
		return Transcript{}, engineError(ctx, op, err, utils.CodeRecognitionTimeout, utils.CodeRecognitionUnavailable)
	}
	return Transcript{Text: strings.TrimSpace(text), Confidence: conf}, nil
}

// Synthesize returns canonical PCM for text. Prompts are served from the cache
// when present; cache failures only cost an engine call.
func (g *Gateway) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	const op = "speech.Synthesize"
	if language == "" {
		language = g.opt.Language
	}

	key := PromptKey(language, g.syn.SampleRate(), text)
	if g.opt.PromptCache != nil {
		var pcm []byte
		hit, err := g.opt.PromptCache.GetJSON(ctx, key, &pcm)
		if err != nil {
			g.opt.Log.WithError(err).Warn("prompt cache read failed")
		}
		if hit {
			return pcm, nil
		}
	}

	cctx, cancel := context.WithTimeout(ctx, g.opt.SynthesisTimeout)
	defer cancel()

	start := time.Now()
	pcm, err := g.syn.Synthesize(cctx, text, language)
	g.opt.Metrics.SpeechCall(ctx, "synthesize", time.Since(start).Seconds(), err == nil)
	if err != nil {
		// synthesis has no separate timeout code
		return nil, engineError(ctx, op, err, utils.CodeSynthesisUnavailable, utils.CodeSynthesisUnavailable)
	}

	if g.opt.PromptCache != nil {
		if err := g.opt.PromptCache.SetJSON(ctx, key, pcm, g.opt.PromptTTL); err != nil {
			g.opt.Log.WithError(err).Warn("prompt cache write failed")
		}
	}
	return pcm, nil
}

// Warm synthesizes prompts ahead of the first call so the greeting and fallback
// come out of the cache.
func (g *Gateway) Warm(ctx context.Context, language string, texts ...string) {
	for _, t := range texts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if _, err := g.Synthesize(ctx, t, language); err != nil {
			g.opt.Log.WithError(err).WithField("text", t).Warn("prompt warmup failed")
		}
	}
}

func (g *Gateway) SampleRate() int { return g.syn.SampleRate() }

func PromptKey(language string, rate int, text string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s", language, rate, text)))
	return "prompt:" + hex.EncodeToString(sum[:])
}

// engineError types an engine failure. Cancellation by the caller is returned
// as is; only the gateway's own deadline counts as a timeout.
func engineError(parent context.Context, op string, err error, timeout, unavailable utils.Code) error {
	if perr := parent.Err(); perr != nil {
		return perr
	}
	if errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded {
		return utils.E(timeout, op, "engine timed out", err)
	}
	return utils.E(unavailable, op, "engine unavailable", err)
}

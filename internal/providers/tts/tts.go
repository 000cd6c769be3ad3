package tts

import "context"

// Provider produces canonical PCM (16-bit LE mono) at SampleRate.
type Provider interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
	SampleRate() int
	Close() error
}

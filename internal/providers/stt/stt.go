package stt

import "context"

// Provider recognizes canonical PCM (16-bit LE mono) at SampleRate.
type Provider interface {
	Transcribe(ctx context.Context, pcm []byte, language string) (text string, confidence float64, err error)
	SampleRate() int
	Close() error
}

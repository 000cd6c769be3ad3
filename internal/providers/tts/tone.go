package tts

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"
	"unicode/utf8"
)

// Tone renders text as a short sine burst whose length follows the text length.
// It backs speech mode "mock" and tests; Fail makes the next calls error.
type Tone struct {
	Rate      int
	MSPerRune int
	MaxMS     int
	Delay     time.Duration

	mu    sync.Mutex
	fails []error
	calls int
}

func NewTone(rate int) *Tone {
	return &Tone{Rate: rate, MSPerRune: 5, MaxMS: 1500}
}

// Fail queues errors returned by the next len(errs) calls.
func (t *Tone) Fail(errs ...error) {
	t.mu.Lock()
	t.fails = append(t.fails, errs...)
	t.mu.Unlock()
}

func (t *Tone) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Tone) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	t.mu.Lock()
	t.calls++
	var err error
	if len(t.fails) > 0 {
		err = t.fails[0]
		t.fails = t.fails[1:]
	}
	t.mu.Unlock()

	if t.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(t.Delay):
		}
	}
	if err != nil {
		return nil, err
	}

	ms := utf8.RuneCountInString(text) * t.MSPerRune
	if ms < 20 {
		ms = 20
	}
	if t.MaxMS > 0 && ms > t.MaxMS {
		ms = t.MaxMS
	}
	n := t.Rate * ms / 1000
	pcm := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		s := int16(2000 * math.Sin(2*math.Pi*440*float64(i)/float64(t.Rate)))
		pcm = binary.LittleEndian.AppendUint16(pcm, uint16(s))
	}
	return pcm, nil
}

func (t *Tone) SampleRate() int { return t.Rate }

func (t *Tone) Close() error { return nil }

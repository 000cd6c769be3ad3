package stt

import (
	"context"
	"sync"
	"time"
)

// Reply is one canned recognition result.
type Reply struct {
	Text       string
	Confidence float64
	Err        error
	Delay      time.Duration
}

// Scripted returns queued replies in order, then Fallback forever. It is the
// recognizer behind speech mode "mock" and the session tests.
type Scripted struct {
	Rate     int
	Fallback Reply

	mu      sync.Mutex
	replies []Reply
	calls   int
}

func NewScripted(rate int, replies ...Reply) *Scripted {
	return &Scripted{Rate: rate, replies: replies}
}

// Push appends replies to the queue.
func (s *Scripted) Push(replies ...Reply) {
	s.mu.Lock()
	s.replies = append(s.replies, replies...)
	s.mu.Unlock()
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Transcribe(ctx context.Context, _ []byte, _ string) (string, float64, error) {
	s.mu.Lock()
	s.calls++
	r := s.Fallback
	if len(s.replies) > 0 {
		r = s.replies[0]
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()

	if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", 0, ctx.Err()
		case <-time.After(r.Delay):
		}
	}
	if r.Err != nil {
		return "", 0, r.Err
	}
	return r.Text, r.Confidence, nil
}

func (s *Scripted) SampleRate() int { return s.Rate }

func (s *Scripted) Close() error { return nil }

package registry

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/yoockh/yoocall/internal/utils"
)

// CallInfo describes a live call for operators. It is kept in memory only and
// disappears with the slot.
type CallInfo struct {
	SessionID string
	CallerID  string
	SurveyID  string
	Remote    string
	StartedAt time.Time
}

// Registry bounds the number of live call sessions. The semaphore and the
// listing of live calls are the only state shared between sessions.
type Registry struct {
	sem chan struct{}

	mu   sync.Mutex
	live map[*Slot]CallInfo
}

func New(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{sem: make(chan struct{}, capacity), live: map[*Slot]CallInfo{}}
}

// Slot is one granted session place. Release may be called any number of times
// from any goroutine; only the first call frees the place.
type Slot struct {
	r       *Registry
	once    sync.Once
	release func()
}

func (s *Slot) Release() {
	if s == nil {
		return
	}
	s.once.Do(s.release)
}

// Describe attaches call details to the slot. StartedAt keeps the acquire time
// when info leaves it zero. A released slot is not listed again.
func (s *Slot) Describe(info CallInfo) {
	if s == nil || s.r == nil {
		return
	}
	s.r.mu.Lock()
	defer s.r.mu.Unlock()
	cur, ok := s.r.live[s]
	if !ok {
		return
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = cur.StartedAt
	}
	s.r.live[s] = info
}

// TryAcquire never waits: a full registry is an immediate CAPACITY_EXCEEDED.
func (r *Registry) TryAcquire() (*Slot, error) {
	select {
	case r.sem <- struct{}{}:
	default:
		return nil, utils.E(utils.CodeCapacityExceeded, "Registry.TryAcquire",
			fmt.Sprintf("all %d session slots in use", cap(r.sem)), nil)
	}
	s := &Slot{r: r}
	s.release = func() {
		r.mu.Lock()
		delete(r.live, s)
		r.mu.Unlock()
		<-r.sem
	}
	r.mu.Lock()
	r.live[s] = CallInfo{StartedAt: time.Now()}
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) Active() int   { return len(r.sem) }
func (r *Registry) Capacity() int { return cap(r.sem) }

// Live lists the calls currently holding a slot, oldest first.
func (r *Registry) Live() []CallInfo {
	r.mu.Lock()
	out := make([]CallInfo, 0, len(r.live))
	for _, info := range r.live {
		out = append(out, info)
	}
	r.mu.Unlock()
	slices.SortFunc(out, func(a, b CallInfo) int { return a.StartedAt.Compare(b.StartedAt) })
	return out
}

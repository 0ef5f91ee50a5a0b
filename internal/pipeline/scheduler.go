package pipeline

import (
	"sync"
	"time"
)

// Scheduler runs one-shot callbacks aligned to the display refresh.
type Scheduler interface {
	// RequestFrame runs fn once on the next refresh. The returned cancel
	// func removes fn if it has not run yet.
	RequestFrame(fn func()) (cancel func())
}

// RefreshScheduler fires pending callbacks from a single ticker.
type RefreshScheduler struct {
	mu      sync.Mutex
	pending map[uint64]func()
	next    uint64

	ticker *time.Ticker
	stop   chan struct{}
	once   sync.Once
}

// NewRefreshScheduler starts a scheduler ticking hz times per second.
func NewRefreshScheduler(hz int) *RefreshScheduler {
	if hz <= 0 {
		hz = 60
	}
	s := &RefreshScheduler{
		pending: make(map[uint64]func()),
		ticker:  time.NewTicker(time.Second / time.Duration(hz)),
		stop:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *RefreshScheduler) RequestFrame(fn func()) func() {
	s.mu.Lock()
	id := s.next
	s.next++
	s.pending[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// Stop halts the ticker. Pending callbacks never run.
func (s *RefreshScheduler) Stop() {
	s.once.Do(func() {
		s.ticker.Stop()
		close(s.stop)
	})
}

func (s *RefreshScheduler) run() {
	for {
		select {
		case <-s.ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

// tick runs the callbacks pending at the start of the tick. Callbacks they
// request land on the following tick.
func (s *RefreshScheduler) tick() {
	s.mu.Lock()
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	due := s.pending
	s.pending = make(map[uint64]func())
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
}

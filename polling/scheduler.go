// Package polling provides a cancellable repeating-task scheduler with
// at-most-one-active-session semantics: starting a new session always stops
// the previous one, and stopping is synchronous and idempotent.
package polling

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// DefaultMaxTicks bounds a session that never reaches a terminal status:
// roughly five minutes at the standard three second interval. Zero disables
// the budget.
const DefaultMaxTicks = 100

// Token represents platform background-execution time held open for the
// session. End releases it; End must be safe to call once per Begin.
type Token interface {
	End()
}

// Extender grants background-execution tokens. It is optional and entirely
// decoupled from scheduling; a nil Extender means no tokens are taken.
type Extender interface {
	Begin(name string) Token
}

// Observer receives session lifecycle notifications, at most one Started and
// one Stopped per session.
type Observer interface {
	SessionStarted(name string)
	SessionStopped(name string)
	BudgetExhausted(name string)
}

// Session is one running polling loop.
type Session struct {
	name      string
	stop      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool
	token     Token
	onStop    func()
}

// Name returns the task name the session was started with.
func (s *Session) Name() string { return s.name }

// Cancelled reports whether the session has been stopped.
func (s *Session) Cancelled() bool { return s.cancelled.Load() }

// Cancel stops the session. Synchronous with respect to the cancellation
// flag and idempotent; a tick already executing is allowed to finish.
func (s *Session) Cancel() {
	s.cancelled.Store(true)
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.token != nil {
			s.token.End()
		}
		if s.onStop != nil {
			s.onStop()
		}
	})
}

// Scheduler runs at most one session at a time.
type Scheduler struct {
	// Extender optionally supplies background-execution tokens per session.
	Extender Extender
	// Observer optionally receives lifecycle notifications, e.g. for
	// metrics.
	Observer Observer
	// MaxTicks bounds the number of ticks per session; zero means
	// DefaultMaxTicks, negative means unbounded.
	MaxTicks int
	// OnExhausted fires when a session runs out of its tick budget, after
	// the session has been stopped. The value is captured when the session
	// starts.
	OnExhausted func(name string)
	// Log receives session lifecycle events.
	Log zerolog.Logger

	mu      sync.Mutex
	current *Session
}

// Start stops any previous session and schedules tick at the given interval.
// The first tick fires immediately. The returned session is already running.
func (s *Scheduler) Start(name string, interval time.Duration, tick func()) *Session {
	session := &Session{name: name, stop: make(chan struct{})}

	s.mu.Lock()
	if prev := s.current; prev != nil {
		prev.Cancel()
	}
	if s.Extender != nil {
		session.token = s.Extender.Begin(name)
	}
	if obs := s.Observer; obs != nil {
		session.onStop = func() { obs.SessionStopped(name) }
	}
	s.current = session
	budget := s.MaxTicks
	if budget == 0 {
		budget = DefaultMaxTicks
	}
	onExhausted := s.OnExhausted
	s.mu.Unlock()

	s.Log.Debug().Str("task", name).Dur("interval", interval).Msg("polling started")
	if s.Observer != nil {
		s.Observer.SessionStarted(name)
	}

	go s.run(session, interval, budget, tick, onExhausted)
	return session
}

// Stop cancels the active session, if any. Idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	session := s.current
	s.current = nil
	s.mu.Unlock()
	if session != nil {
		session.Cancel()
		s.Log.Debug().Str("task", session.name).Msg("polling stopped")
	}
}

// Active reports whether a session is currently running.
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil && !s.current.Cancelled()
}

func (s *Scheduler) run(session *Session, interval time.Duration, budget int, tick func(), onExhausted func(name string)) {
	ticks := 0
	timer := time.NewTimer(0) // immediate first tick
	defer timer.Stop()

	for {
		select {
		case <-session.stop:
			return
		case <-timer.C:
		}
		if session.Cancelled() {
			return
		}

		tick()
		ticks++

		if budget > 0 && ticks >= budget {
			s.Log.Warn().Str("task", session.name).Int("ticks", ticks).Msg("polling budget exhausted")
			if s.Observer != nil {
				s.Observer.BudgetExhausted(session.name)
			}
			s.stopSession(session)
			if onExhausted != nil {
				onExhausted(session.name)
			}
			return
		}
		timer.Reset(interval)
	}
}

// stopSession cancels the session and clears it from the scheduler when it is
// still the current one.
func (s *Scheduler) stopSession(session *Session) {
	s.mu.Lock()
	if s.current == session {
		s.current = nil
	}
	s.mu.Unlock()
	session.Cancel()
}

package polling_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudpayments/cloudpayments-go/polling"
)

func TestFirstTickIsImmediate(t *testing.T) {
	s := &polling.Scheduler{}
	ticked := make(chan struct{}, 1)
	s.Start("task", time.Hour, func() {
		select {
		case ticked <- struct{}{}:
		default:
		}
	})
	t.Cleanup(s.Stop)

	select {
	case <-ticked:
	case <-time.After(2 * time.Second):
		t.Fatal("first tick did not fire immediately")
	}
}

func TestStartCancelsPreviousSession(t *testing.T) {
	s := &polling.Scheduler{}
	block := make(chan struct{})
	first := s.Start("first", time.Hour, func() {
		<-block
	})

	second := s.Start("second", time.Hour, func() {})
	t.Cleanup(s.Stop)
	close(block)

	// The old session is cancelled synchronously inside Start.
	require.True(t, first.Cancelled())
	require.False(t, second.Cancelled())
	require.Equal(t, "second", second.Name())
}

func TestStopIsSynchronousAndIdempotent(t *testing.T) {
	s := &polling.Scheduler{}
	var ticks atomic.Int64
	session := s.Start("task", 10*time.Millisecond, func() {
		ticks.Add(1)
	})

	s.Stop()
	require.True(t, session.Cancelled())
	require.False(t, s.Active())
	s.Stop()

	settled := ticks.Load()
	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, ticks.Load(), settled+1)
}

func TestBudgetExhaustionStopsSessionAndNotifies(t *testing.T) {
	exhausted := make(chan string, 1)
	s := &polling.Scheduler{
		MaxTicks:    3,
		OnExhausted: func(name string) { exhausted <- name },
	}
	var ticks atomic.Int64
	s.Start("task", time.Millisecond, func() { ticks.Add(1) })

	select {
	case name := <-exhausted:
		require.Equal(t, "task", name)
	case <-time.After(2 * time.Second):
		t.Fatal("budget exhaustion never fired")
	}
	require.EqualValues(t, 3, ticks.Load())
	require.False(t, s.Active())
}

func TestNegativeBudgetIsUnbounded(t *testing.T) {
	s := &polling.Scheduler{
		MaxTicks:    -1,
		OnExhausted: func(string) { t.Error("unbounded session reported exhaustion") },
	}
	var ticks atomic.Int64
	s.Start("task", time.Millisecond, func() { ticks.Add(1) })
	t.Cleanup(s.Stop)

	require.Eventually(t, func() bool {
		return ticks.Load() > polling.DefaultMaxTicks
	}, 5*time.Second, 5*time.Millisecond)
}

type countingObserver struct {
	mu                          sync.Mutex
	started, stopped, exhausted int
}

func (o *countingObserver) SessionStarted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *countingObserver) SessionStopped(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopped++
}

func (o *countingObserver) BudgetExhausted(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.exhausted++
}

func (o *countingObserver) snapshot() (int, int, int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.started, o.stopped, o.exhausted
}

func TestObserverSeesOneStartOneStopPerSession(t *testing.T) {
	observer := &countingObserver{}
	s := &polling.Scheduler{Observer: observer}

	s.Start("first", time.Hour, func() {})
	s.Start("second", time.Hour, func() {})
	s.Stop()
	s.Stop()

	started, stopped, exhausted := observer.snapshot()
	require.Equal(t, 2, started)
	require.Equal(t, 2, stopped)
	require.Zero(t, exhausted)
}

type fakeToken struct {
	mu    sync.Mutex
	ended int
}

func (f *fakeToken) End() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended++
}

type fakeExtender struct {
	token *fakeToken
	names []string
}

func (f *fakeExtender) Begin(name string) polling.Token {
	f.names = append(f.names, name)
	return f.token
}

func TestExtenderTokenReleasedOnStop(t *testing.T) {
	token := &fakeToken{}
	ext := &fakeExtender{token: token}
	s := &polling.Scheduler{Extender: ext}

	s.Start("task", time.Hour, func() {})
	s.Stop()
	s.Stop()

	require.Equal(t, []string{"task"}, ext.names)
	token.mu.Lock()
	defer token.mu.Unlock()
	require.Equal(t, 1, token.ended)
}

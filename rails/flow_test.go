package rails_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudpayments/cloudpayments-go/intent"
	"github.com/cloudpayments/cloudpayments-go/polling"
	"github.com/cloudpayments/cloudpayments-go/rails"
)

type fakeAPI struct {
	mu          sync.Mutex
	linkStatus  int
	link        *intent.RailLinkResult
	linkErr     error
	linkCalls   int
	gotSchema   string
	puid        string
	statusFn    func(call int, puid string) (int, *intent.TransactionStatus, error)
	statusCalls int
}

func (f *fakeAPI) RailLink(_ context.Context, _, puid, schema string) (int, *intent.RailLinkResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.linkCalls++
	f.puid = puid
	f.gotSchema = schema
	return f.linkStatus, f.link, f.linkErr
}

func (f *fakeAPI) Status(_ context.Context, _ string) (int, *intent.TransactionStatus, error) {
	f.mu.Lock()
	call := f.statusCalls
	f.statusCalls++
	fn := f.statusFn
	puid := f.puid
	f.mu.Unlock()
	if fn == nil {
		return 200, &intent.TransactionStatus{}, nil
	}
	return fn(call, puid)
}

func (f *fakeAPI) calls() (link, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.linkCalls, f.statusCalls
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
	err  error
}

func (o *fakeOpener) OpenURL(_ context.Context, raw string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.urls = append(o.urls, raw)
	return o.err
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.urls))
	copy(out, o.urls)
	return out
}

func newTPayFlow(api *fakeAPI, opener *fakeOpener) (*rails.TPay, chan rails.Resolution, *polling.Scheduler) {
	resolved := make(chan rails.Resolution, 4)
	scheduler := &polling.Scheduler{}
	rail := rails.NewTPay(rails.Config{
		IntentID:  "int_1",
		API:       api,
		Opener:    opener,
		Interval:  5 * time.Millisecond,
		Scheduler: scheduler,
		OnResolved: func(res rails.Resolution) {
			resolved <- res
		},
	}, "https://intent.example/tpay/link")
	return rail, resolved, scheduler
}

func waitResolution(t *testing.T, ch chan rails.Resolution) rails.Resolution {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no resolution delivered")
		return rails.Resolution{}
	}
}

func TestFlowSuccessThroughPolling(t *testing.T) {
	api := &fakeAPI{
		linkStatus: 200,
		link:       &intent.RailLinkResult{Link: "bank://pay"},
		statusFn: func(call int, puid string) (int, *intent.TransactionStatus, error) {
			if call == 0 {
				return 200, &intent.TransactionStatus{}, nil
			}
			return 200, &intent.TransactionStatus{Transactions: []intent.Transaction{
				{TransactionID: 42, Puid: puid, Status: intent.StatusCompleted},
			}}, nil
		},
	}
	opener := &fakeOpener{}
	rail, resolved, scheduler := newTPayFlow(api, opener)

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeSuccess, res.Outcome)
	require.NotNil(t, res.Transaction)
	require.EqualValues(t, 42, res.Transaction.TransactionID)
	require.Equal(t, []string{"bank://pay"}, opener.opened())
	require.False(t, scheduler.Active())
	require.Equal(t, rails.StateResolved, rail.State())
}

func TestFlowConflictNeverPolls(t *testing.T) {
	api := &fakeAPI{linkStatus: 409}
	opener := &fakeOpener{}
	rail, resolved, scheduler := newTPayFlow(api, opener)

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeDeclined, res.Outcome)
	require.Equal(t, "Заказ уже оплачен", res.Message)
	require.Empty(t, opener.opened())
	require.False(t, scheduler.Active())

	time.Sleep(30 * time.Millisecond)
	_, statusCalls := api.calls()
	require.Zero(t, statusCalls)
}

func TestFlowIgnoresForeignPuid(t *testing.T) {
	api := &fakeAPI{
		linkStatus: 200,
		link:       &intent.RailLinkResult{Link: "bank://pay"},
		statusFn: func(call int, puid string) (int, *intent.TransactionStatus, error) {
			if call == 0 {
				// A declined transaction from a different attempt must not
				// resolve this one.
				return 200, &intent.TransactionStatus{Transactions: []intent.Transaction{
					{TransactionID: 1, Puid: "someone-else", Status: intent.StatusDeclined, Code: "5001"},
				}}, nil
			}
			return 200, &intent.TransactionStatus{Transactions: []intent.Transaction{
				{TransactionID: 2, Puid: "someone-else", Status: intent.StatusDeclined, Code: "5001"},
				{TransactionID: 3, Puid: puid, Status: intent.StatusDeclined, Code: "5051"},
			}}, nil
		},
	}
	rail, resolved, _ := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeDeclined, res.Outcome)
	require.Equal(t, "Недостаточно средств на карте", res.Message)
	require.EqualValues(t, 3, res.Transaction.TransactionID)
}

func TestFlowPendingStatusKeepsPolling(t *testing.T) {
	api := &fakeAPI{
		linkStatus: 200,
		link:       &intent.RailLinkResult{Link: "bank://pay"},
		statusFn: func(call int, puid string) (int, *intent.TransactionStatus, error) {
			if call < 3 {
				return 200, &intent.TransactionStatus{Transactions: []intent.Transaction{
					{TransactionID: 9, Puid: puid, Status: "Pending"},
				}}, nil
			}
			return 200, &intent.TransactionStatus{Transactions: []intent.Transaction{
				{TransactionID: 9, Puid: puid, Status: intent.StatusAuthorized},
			}}, nil
		},
	}
	rail, resolved, _ := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeSuccess, res.Outcome)
	_, statusCalls := api.calls()
	require.GreaterOrEqual(t, statusCalls, 4)
}

func TestFlowConnectivityGiveUp(t *testing.T) {
	api := &fakeAPI{
		linkStatus: 200,
		link:       &intent.RailLinkResult{Link: "bank://pay"},
		statusFn: func(int, string) (int, *intent.TransactionStatus, error) {
			return 0, nil, errors.New("dial tcp: connection refused")
		},
	}
	rail, resolved, scheduler := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeDeclined, res.Outcome)
	require.Equal(t, "Ошибка соединения#Платеж будет отклонен. Попробуйте позже", res.Message)
	require.False(t, scheduler.Active())
	_, statusCalls := api.calls()
	require.Equal(t, 3, statusCalls)
}

func TestFlowOpenFailureDeclines(t *testing.T) {
	api := &fakeAPI{linkStatus: 200, link: &intent.RailLinkResult{Link: "bank://pay"}}
	opener := &fakeOpener{err: errors.New("no app installed")}
	rail, resolved, scheduler := newTPayFlow(api, opener)

	rail.Pay(context.Background())
	res := waitResolution(t, resolved)

	require.Equal(t, rails.OutcomeDeclined, res.Outcome)
	require.False(t, scheduler.Active())
}

func TestFlowCloseStopsPollingExactlyOnce(t *testing.T) {
	api := &fakeAPI{linkStatus: 200, link: &intent.RailLinkResult{Link: "bank://pay"}}
	rail, resolved, scheduler := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	rail.Close()
	rail.Close()

	res := waitResolution(t, resolved)
	require.Equal(t, rails.OutcomeClosed, res.Outcome)
	require.False(t, scheduler.Active())

	select {
	case extra := <-resolved:
		t.Fatalf("second resolution delivered: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlowIntentSucceededStopsPollingWithoutResolution(t *testing.T) {
	api := &fakeAPI{
		linkStatus: 200,
		link:       &intent.RailLinkResult{Link: "bank://pay"},
		statusFn: func(int, string) (int, *intent.TransactionStatus, error) {
			// Another rail finished the intent; no transaction carries our
			// puid, so there is nothing to resolve but polling must end.
			return 200, &intent.TransactionStatus{Status: intent.WaitStatusSucceeded}, nil
		},
	}
	rail, resolved, scheduler := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	require.Eventually(t, func() bool {
		return !scheduler.Active()
	}, 2*time.Second, 5*time.Millisecond)

	_, settled := api.calls()
	time.Sleep(30 * time.Millisecond)
	_, after := api.calls()
	require.Equal(t, settled, after)

	select {
	case res := <-resolved:
		t.Fatalf("safety net produced a resolution: %+v", res)
	case <-time.After(50 * time.Millisecond):
	}
	require.NotEqual(t, rails.StateResolved, rail.State())
}

func TestFlowLateStatusAfterResolutionIgnored(t *testing.T) {
	api := &fakeAPI{linkStatus: 409}
	rail, resolved, _ := newTPayFlow(api, &fakeOpener{})

	rail.Pay(context.Background())
	waitResolution(t, resolved)

	rail.HandleStatus(intent.TransactionStatus{Transactions: []intent.Transaction{
		{TransactionID: 1, Puid: rail.Puid(), Status: intent.StatusCompleted},
	}})

	select {
	case extra := <-resolved:
		t.Fatalf("late status produced a resolution: %+v", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFlowPuidIsFreshPerAttempt(t *testing.T) {
	first := &fakeAPI{linkStatus: 409}
	railA, resolvedA, _ := newTPayFlow(first, &fakeOpener{})
	railA.Pay(context.Background())
	waitResolution(t, resolvedA)

	second := &fakeAPI{linkStatus: 409}
	railB, resolvedB, _ := newTPayFlow(second, &fakeOpener{})
	railB.Pay(context.Background())
	waitResolution(t, resolvedB)

	require.NotEmpty(t, railA.Puid())
	require.NotEqual(t, railA.Puid(), railB.Puid())
}

// Package rails orchestrates the redirect payment rails (SBP, SberPay, TPay):
// fetch a rail deeplink, hand it to the host app, poll the intent status and
// reconcile broadcast transaction updates against this attempt's puid.
package rails

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cloudpayments/cloudpayments-go/intent"
	"github.com/cloudpayments/cloudpayments-go/polling"
)

// Messages for resolutions that carry no merchant decline code.
const (
	MessageAlreadyPaid = "Заказ уже оплачен"
	messageGeneric     = "Операция не может быть обработана"
	connectivityCode   = "3007"
)

const (
	defaultInterval = 3 * time.Second
	// Consecutive poll-fuel failures tolerated before the attempt gives up
	// with a connectivity error.
	maxTransientFailures = 3
)

// Outcome of a redirect-rail attempt.
type Outcome int

const (
	// OutcomeSuccess means a transaction with our puid reached
	// Authorized or Completed.
	OutcomeSuccess Outcome = iota
	// OutcomeDeclined covers declines, conflicts and give-ups.
	OutcomeDeclined
	// OutcomeClosed means the host closed the flow with no resolution.
	// It is terminal but not an error.
	OutcomeClosed
)

// Resolution is the single terminal value of an attempt.
type Resolution struct {
	Outcome     Outcome
	Message     string
	Transaction *intent.Transaction
}

// State of the flow.
type State int

const (
	StateIdle State = iota
	StateLinkRequested
	StatePolling
	StateResolved
)

// API is the slice of the intent client the rails need.
type API interface {
	RailLink(ctx context.Context, linkURL, puid, schema string) (int, *intent.RailLinkResult, error)
	Status(ctx context.Context, intentID string) (int, *intent.TransactionStatus, error)
}

// URLOpener hands a deeplink or web URL to the host app.
type URLOpener interface {
	OpenURL(ctx context.Context, raw string) error
}

// Config wires a rail flow. OnResolved is the per-attempt status sink: it
// receives the resolution exactly once.
type Config struct {
	IntentID   string
	API        API
	Opener     URLOpener
	Interval   time.Duration
	Scheduler  *polling.Scheduler
	Log        zerolog.Logger
	OnResolved func(Resolution)
}

// Flow is the shared engine behind all three rails. One Flow is one attempt:
// it owns a fresh puid and at most one polling session.
type Flow struct {
	rail      intent.Rail
	intentID  string
	api       API
	opener    URLOpener
	interval  time.Duration
	scheduler *polling.Scheduler
	log       zerolog.Logger
	done      func(Resolution)

	mu         sync.Mutex
	state      State
	puid       string
	failStreak int
}

func newFlow(rail intent.Rail, cfg Config) *Flow {
	f := &Flow{
		rail:      rail,
		intentID:  cfg.IntentID,
		api:       cfg.API,
		opener:    cfg.Opener,
		interval:  cfg.Interval,
		scheduler: cfg.Scheduler,
		log:       cfg.Log,
		done:      cfg.OnResolved,
		state:     StateIdle,
	}
	if f.interval <= 0 {
		f.interval = defaultInterval
	}
	if f.scheduler == nil {
		f.scheduler = &polling.Scheduler{Log: f.log}
	}
	if f.done == nil {
		f.done = func(Resolution) {}
	}
	return f
}

// Rail identifies which rail this flow drives.
func (f *Flow) Rail() intent.Rail { return f.rail }

// Puid returns the correlation id generated for this attempt.
func (f *Flow) Puid() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puid
}

// State reports the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Begin generates a fresh puid, requests the rail link and, on success, opens
// it via the host collaborator and starts polling. 409 resolves immediately
// as "order already paid" and never polls.
func (f *Flow) Begin(ctx context.Context, linkURL, schema string) {
	f.mu.Lock()
	if f.state != StateIdle {
		f.mu.Unlock()
		return
	}
	f.state = StateLinkRequested
	f.puid = uuid.NewString()
	puid := f.puid
	f.mu.Unlock()

	f.log.Debug().Str("rail", string(f.rail)).Str("puid", puid).Msg("requesting rail link")

	status, link, err := f.api.RailLink(ctx, linkURL, puid, schema)
	if err != nil {
		f.resolve(Resolution{Outcome: OutcomeDeclined, Message: messageGeneric})
		return
	}
	switch {
	case status == 200 && link != nil && link.BestURL() != "":
		if openErr := f.opener.OpenURL(ctx, link.BestURL()); openErr != nil {
			f.resolve(Resolution{Outcome: OutcomeDeclined, Message: messageGeneric})
			return
		}
		f.startPolling(ctx)
	case status == 409:
		f.log.Info().Err(intent.ErrAlreadyPaid).Str("rail", string(f.rail)).Msg("link conflict")
		f.resolve(Resolution{Outcome: OutcomeDeclined, Message: MessageAlreadyPaid})
	default:
		f.resolve(Resolution{Outcome: OutcomeDeclined, Message: messageGeneric})
	}
}

// HandleStatus is the typed per-attempt status sink. The payload is
// intent-wide, so transactions are filtered down to this attempt's puid;
// matches with a recognized final status resolve the flow, everything else is
// ignored. An intent-level Succeeded stops polling as a safety net against
// missed pushes.
func (f *Flow) HandleStatus(model intent.TransactionStatus) {
	f.mu.Lock()
	if f.state == StateResolved {
		f.mu.Unlock()
		return
	}
	puid := f.puid
	f.mu.Unlock()

	for _, tx := range model.Transactions {
		if tx.Puid != puid {
			continue
		}
		switch tx.Status {
		case intent.StatusAuthorized, intent.StatusCompleted:
			tx := tx
			f.resolve(Resolution{Outcome: OutcomeSuccess, Transaction: &tx})
			return
		case intent.StatusDeclined, intent.StatusCancelled:
			tx := tx
			decline := &intent.DeclineError{Code: tx.Code}
			f.log.Debug().Err(decline).Int64("transaction_id", tx.TransactionID).Msg("transaction declined")
			f.resolve(Resolution{
				Outcome:     OutcomeDeclined,
				Message:     decline.Message(),
				Transaction: &tx,
			})
			return
		default:
			// Not a final status; keep polling.
		}
	}

	if model.Status == intent.WaitStatusSucceeded {
		f.scheduler.Stop()
	}
}

// Close records that the host dismissed the flow without a resolution. It
// stops polling and is terminal but not an error.
func (f *Flow) Close() {
	f.resolve(Resolution{Outcome: OutcomeClosed})
}

func (f *Flow) startPolling(ctx context.Context) {
	f.mu.Lock()
	f.state = StatePolling
	f.failStreak = 0
	f.mu.Unlock()

	f.scheduler.OnExhausted = func(string) {
		f.resolve(Resolution{Outcome: OutcomeDeclined, Message: intent.DescribeCode(connectivityCode)})
	}
	f.scheduler.Start(string(f.rail)+"TransactionPolling", f.interval, func() {
		f.pollTick(ctx)
	})
}

// pollTick fetches status once. Non-200 fuel is a connectivity signal, not a
// payment outcome; it is tolerated a few times before the attempt gives up.
func (f *Flow) pollTick(ctx context.Context) {
	status, model, err := f.api.Status(ctx, f.intentID)
	if err != nil || status != 200 || model == nil {
		f.mu.Lock()
		f.failStreak++
		exhausted := f.failStreak >= maxTransientFailures
		f.mu.Unlock()
		if exhausted {
			f.resolve(Resolution{Outcome: OutcomeDeclined, Message: intent.DescribeCode(connectivityCode)})
		}
		return
	}
	f.mu.Lock()
	f.failStreak = 0
	f.mu.Unlock()
	f.HandleStatus(*model)
}

// resolve delivers the terminal value exactly once and stops polling.
func (f *Flow) resolve(res Resolution) {
	f.mu.Lock()
	if f.state == StateResolved {
		f.mu.Unlock()
		return
	}
	f.state = StateResolved
	f.mu.Unlock()

	f.scheduler.Stop()
	f.log.Info().
		Str("rail", string(f.rail)).
		Int("outcome", int(res.Outcome)).
		Str("message", res.Message).
		Msg("rail attempt resolved")
	f.done(res)
}

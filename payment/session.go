package payment

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"github.com/cloudpayments/cloudpayments-go/cryptogram"
	"github.com/cloudpayments/cloudpayments-go/intent"
	"github.com/cloudpayments/cloudpayments-go/polling"
	"github.com/cloudpayments/cloudpayments-go/rails"
	"github.com/cloudpayments/cloudpayments-go/threeds"
)

// Stage of a checkout session.
type Stage int

const (
	StageCreated Stage = iota
	StageRailSelection
	StageSubmitting
	StageChallengePending
	StagePolling
	StageTerminal
)

// Delegate receives the terminal outcome of the session. Exactly one of the
// three methods is invoked, exactly once, regardless of which rail produced
// the outcome or how many late responses arrive afterwards.
type Delegate interface {
	PaymentSucceeded(tx *intent.Transaction)
	PaymentDeclined(message string, tx *intent.Transaction)
	SessionClosed()
}

// Session errors for calls made in the wrong state.
var (
	ErrNotBootstrapped = errors.New("payment: session not bootstrapped")
	ErrSessionFinished = errors.New("payment: session already finished")
	ErrRailUnavailable = errors.New("payment: rail not offered by the intent")
	ErrBusy            = errors.New("payment: another attempt is in flight")
)

const transportErrorCode = "3007"

// Session drives one checkout: bootstrap once, then pay through exactly one
// rail to a terminal outcome.
type Session struct {
	cfg       Config
	client    *intent.Client
	opener    rails.URLOpener
	surface   threeds.Surface
	delegate  Delegate
	scheduler *polling.Scheduler
	log       zerolog.Logger

	mu        sync.Mutex
	stage     Stage
	pi        *intent.PaymentIntent
	merchant  *intent.MerchantConfiguration
	encoder   *cryptogram.Encoder
	challenge *threeds.Challenge
	flow      *rails.Flow
	terminal  bool
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithLogger attaches a structured logger.
func WithLogger(log zerolog.Logger) SessionOption {
	return func(s *Session) { s.log = log }
}

// WithScheduler replaces the polling scheduler, mostly for tests.
func WithScheduler(sched *polling.Scheduler) SessionOption {
	return func(s *Session) {
		if sched != nil {
			s.scheduler = sched
		}
	}
}

// NewSession validates the config and assembles a session. opener receives
// redirect-rail deeplinks, surface renders 3DS challenge documents and
// delegate gets the terminal outcome.
func NewSession(cfg Config, client *intent.Client, opener rails.URLOpener, surface threeds.Surface, delegate Delegate, opts ...SessionOption) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if client == nil {
		return nil, errors.New("payment: client is required")
	}
	if delegate == nil {
		return nil, errors.New("payment: delegate is required")
	}
	s := &Session{
		cfg:      cfg,
		client:   client,
		opener:   opener,
		surface:  surface,
		delegate: delegate,
		log:      zerolog.Nop(),
		stage:    StageCreated,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = &polling.Scheduler{MaxTicks: cfg.PollBudget, Log: s.log}
	}
	return s, nil
}

// Stage reports the current session stage.
func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Intent returns the bootstrapped payment intent, or nil before Bootstrap.
func (s *Session) Intent() *intent.PaymentIntent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pi
}

// Bootstrap prepares the session: fetches the merchant public key, creates the
// intent, applies the redirect-URL patch best-effort and loads the terminal
// configuration. Idempotent; a second call on a live session is a no-op.
func (s *Session) Bootstrap(ctx context.Context) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	if s.pi != nil {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	pk, err := s.client.PublicKey(ctx)
	if err != nil {
		return err
	}
	encoder, err := cryptogram.NewEncoder(pk.Pem, pk.Version)
	if err != nil {
		return err
	}

	merchant, err := s.client.MerchantConfiguration(ctx)
	if err != nil {
		// Without the configuration the redirect rails stay hidden; the
		// card rail still works.
		s.log.Warn().Err(err).Msg("merchant configuration unavailable")
	}

	pi, err := s.client.CreateIntent(ctx, intent.CreateParams{
		TerminalPublicID: s.cfg.PublicID,
		Amount:           s.cfg.Amount,
		Currency:         s.cfg.Currency,
		Culture:          s.cfg.Culture,
		Schema:           s.cfg.Schema,
		Email:            s.cfg.Email,
		AccountID:        s.cfg.AccountID,
		Description:      s.cfg.Description,
		Payer:            s.cfg.Payer,
		Metadata:         s.cfg.Metadata,
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.encoder = encoder
	s.merchant = merchant
	s.pi = pi
	s.stage = StageRailSelection
	s.mu.Unlock()

	s.log.Info().Str("intent_id", pi.ID).Str("status", pi.Status).Msg("session bootstrapped")

	if s.cfg.SuccessRedirectURL != "" || s.cfg.FailRedirectURL != "" {
		s.patchRedirectURLs(ctx, pi)
	}
	return nil
}

// patchRedirectURLs is fire-and-forget: a failed patch must never block the
// checkout.
func (s *Session) patchRedirectURLs(ctx context.Context, pi *intent.PaymentIntent) {
	var b intent.PatchBuilder
	if s.cfg.SuccessRedirectURL != "" {
		b.Replace("/successRedirectUrl", s.cfg.SuccessRedirectURL)
	}
	if s.cfg.FailRedirectURL != "" {
		b.Replace("/failRedirectUrl", s.cfg.FailRedirectURL)
	}
	if _, err := s.client.PatchIntent(ctx, pi.ID, pi.Secret, b.Build()); err != nil {
		s.log.Warn().Err(err).Str("intent_id", pi.ID).Msg("redirect url patch failed")
	}
}

// SaveCardMode reports the terminal's save-card feature flag, empty when the
// terminal does not advertise one.
func (s *Session) SaveCardMode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pi == nil || s.pi.TerminalInfo == nil || s.pi.TerminalInfo.Features == nil {
		return ""
	}
	return s.pi.TerminalInfo.Features.IsSaveCard
}

// RailEnabled reports whether a redirect rail is both offered by the intent
// and switched on in the merchant configuration. Card is governed by the
// intent alone.
func (s *Session) RailEnabled(rail intent.Rail) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methodFor(rail); !ok {
		return false
	}
	if rail == intent.RailCard {
		return true
	}
	if s.merchant == nil {
		return false
	}
	switch rail {
	case intent.RailTPay:
		return s.merchant.TPayEnabled
	case intent.RailSBP:
		return s.merchant.SBPEnabled
	case intent.RailSberPay:
		return s.merchant.SberPayEnabled
	}
	return false
}

// SBPBanks lists the bank directory for the SBP rail.
func (s *Session) SBPBanks() ([]intent.Bank, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	method, ok := s.methodFor(intent.RailSBP)
	if !ok {
		return nil, ErrRailUnavailable
	}
	return method.Banks, nil
}

// SetTokenize patches the intent's tokenize flag.
func (s *Session) SetTokenize(ctx context.Context, enabled bool) error {
	return s.patchField(ctx, "/tokenize", enabled)
}

// SetReceiptEmail patches the receipt email.
func (s *Session) SetReceiptEmail(ctx context.Context, email string) error {
	return s.patchField(ctx, "/receiptEmail", email)
}

func (s *Session) patchField(ctx context.Context, path string, value any) error {
	s.mu.Lock()
	pi := s.pi
	s.mu.Unlock()
	if pi == nil {
		return ErrNotBootstrapped
	}
	var b intent.PatchBuilder
	updated, err := s.client.PatchIntent(ctx, pi.ID, pi.Secret, b.Replace(path, value).Build())
	if err != nil {
		return err
	}
	s.mu.Lock()
	if !s.terminal {
		s.pi = updated
	}
	s.mu.Unlock()
	return nil
}

// BinInfo fetches BIN metadata for a partially entered card number.
// Best-effort; callers are expected to swallow errors.
func (s *Session) BinInfo(ctx context.Context, firstSix string) (*intent.BankInfo, error) {
	s.mu.Lock()
	pi := s.pi
	s.mu.Unlock()
	if pi == nil {
		return nil, ErrNotBootstrapped
	}
	return s.client.BinInfo(ctx, pi.ID, firstSix)
}

// PayWithCard builds the cryptogram and submits the charge. Validation errors
// return immediately and leave the session live; everything after the wire
// call resolves through the delegate. 202 opens a 3DS challenge, 200 carries
// the final transaction, any other answer is a decline.
func (s *Session) PayWithCard(ctx context.Context, card cryptogram.Card) error {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return ErrSessionFinished
	}
	if s.pi == nil || s.encoder == nil {
		s.mu.Unlock()
		return ErrNotBootstrapped
	}
	if s.stage == StageSubmitting || s.stage == StageChallengePending || s.stage == StagePolling {
		s.mu.Unlock()
		return ErrBusy
	}
	pi := s.pi
	encoder := s.encoder
	skipExpiry := pi.TerminalInfo != nil && pi.TerminalInfo.SkipExpiryValidation
	s.mu.Unlock()

	cg, err := encoder.Encode(card, s.cfg.PublicID, skipExpiry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.stage = StageSubmitting
	s.mu.Unlock()

	status, res, err := s.client.Pay(ctx, intent.PayParams{IntentID: pi.ID, Cryptogram: cg})
	if err != nil {
		// Status 0 means nothing came back at all; anything else reached
		// the gateway but the body was undecodable, which is a decline,
		// not a connectivity problem.
		if status == 0 {
			s.finishDeclined(intent.DescribeCode(transportErrorCode), nil)
		} else {
			s.finishDeclined(intent.DescribeCode(""), nil)
		}
		return nil
	}

	switch status {
	case 202:
		s.beginChallenge(ctx, res)
	case 200:
		s.settleCharge(res)
	default:
		s.declineFromIntent(res)
	}
	return nil
}

// beginChallenge spins up the 3DS runtime from a 202 charge answer.
func (s *Session) beginChallenge(ctx context.Context, res *intent.PaymentIntent) {
	if res == nil || res.AcsURL == "" || res.Transaction == nil {
		s.finishDeclined(intent.DescribeCode(""), nil)
		return
	}
	tx := res.Transaction
	data := threeds.Data{
		TransactionID: formatTransactionID(tx.TransactionID),
		PaReq:         res.PaReq,
		AcsURL:        res.AcsURL,
		CallbackID:    res.ThreeDsCallbackID,
	}
	challenge := threeds.New(data, s.client.IntentBaseURL(), s.intentID(), s.surface, func(result threeds.Result) {
		s.challengeDone(result, tx)
	}, threeds.WithLogger(s.log))

	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.challenge = challenge
	s.stage = StageChallengePending
	s.mu.Unlock()

	if err := challenge.Begin(ctx); err != nil {
		s.log.Warn().Err(err).Msg("3ds challenge failed to start")
		s.finishDeclined(intent.DescribeCode(""), tx)
	}
}

// challengeDone maps the 3DS terminal result onto the session outcome. A
// payer-cancelled challenge is not an error; it closes the session.
func (s *Session) challengeDone(result threeds.Result, tx *intent.Transaction) {
	switch {
	case result.Success:
		s.finishSucceeded(tx)
	case result.Cancelled:
		s.finishClosed()
	case result.ParseError:
		s.finishDeclined(intent.DescribeCode(""), tx)
	default:
		s.finishDeclined(intent.DescribeCode(result.Code), tx)
	}
}

// HandleChallengeNavigation forwards a rendering-surface navigation event to
// the active 3DS challenge. Reports whether the event resolved the challenge.
func (s *Session) HandleChallengeNavigation(navURL, document string) bool {
	s.mu.Lock()
	challenge := s.challenge
	s.mu.Unlock()
	if challenge == nil {
		return false
	}
	return challenge.HandleNavigation(navURL, document)
}

// settleCharge resolves a 200 charge answer: the final transaction status is
// already known.
func (s *Session) settleCharge(res *intent.PaymentIntent) {
	if res == nil || res.Transaction == nil {
		s.finishDeclined(intent.DescribeCode(""), nil)
		return
	}
	tx := res.Transaction
	switch tx.Status {
	case intent.StatusAuthorized, intent.StatusCompleted:
		s.finishSucceeded(tx)
	default:
		s.finishDeclined(intent.DescribeCode(tx.Code), tx)
	}
}

// declineFromIntent resolves a non-200/202 charge answer, preferring the
// transaction decline code when the body carried one.
func (s *Session) declineFromIntent(res *intent.PaymentIntent) {
	if res != nil && res.Transaction != nil {
		s.finishDeclined(intent.DescribeCode(res.Transaction.Code), res.Transaction)
		return
	}
	s.finishDeclined(intent.DescribeCode(""), nil)
}

// PayWithTPay starts the T-Bank redirect rail.
func (s *Session) PayWithTPay(ctx context.Context) error {
	method, cfg, err := s.railStart(intent.RailTPay)
	if err != nil {
		return err
	}
	rail := rails.NewTPay(cfg, method.Link)
	s.setFlow(rail.Flow)
	rail.Pay(ctx)
	return nil
}

// PayWithSberPay starts the SberPay redirect rail.
func (s *Session) PayWithSberPay(ctx context.Context) error {
	method, cfg, err := s.railStart(intent.RailSberPay)
	if err != nil {
		return err
	}
	link := method.Data
	if link == "" {
		link = method.Link
	}
	rail := rails.NewSberPay(cfg, link)
	s.setFlow(rail.Flow)
	rail.Pay(ctx)
	return nil
}

// PayWithSBP starts the SBP redirect rail through the chosen bank.
func (s *Session) PayWithSBP(ctx context.Context, bank intent.Bank) error {
	method, cfg, err := s.railStart(intent.RailSBP)
	if err != nil {
		return err
	}
	rail := rails.NewSBP(cfg, method.Link, method.Banks)
	s.setFlow(rail.Flow)
	if err := rail.PayWithBank(ctx, bank); err != nil {
		s.mu.Lock()
		s.flow = nil
		s.stage = StageRailSelection
		s.mu.Unlock()
		return err
	}
	return nil
}

// railStart validates the session state for a redirect attempt and builds the
// shared flow config.
func (s *Session) railStart(rail intent.Rail) (*intent.PaymentMethod, rails.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal {
		return nil, rails.Config{}, ErrSessionFinished
	}
	if s.pi == nil {
		return nil, rails.Config{}, ErrNotBootstrapped
	}
	if s.stage == StageSubmitting || s.stage == StageChallengePending || s.stage == StagePolling {
		return nil, rails.Config{}, ErrBusy
	}
	method, ok := s.methodFor(rail)
	if !ok {
		return nil, rails.Config{}, ErrRailUnavailable
	}
	s.stage = StagePolling
	cfg := rails.Config{
		IntentID:   s.pi.ID,
		API:        s.client,
		Opener:     s.opener,
		Interval:   s.cfg.PollInterval,
		Scheduler:  s.scheduler,
		Log:        s.log,
		OnResolved: s.railResolved,
	}
	return method, cfg, nil
}

func (s *Session) setFlow(flow *rails.Flow) {
	s.mu.Lock()
	s.flow = flow
	s.mu.Unlock()
}

// railResolved maps a redirect-rail resolution onto the session outcome.
func (s *Session) railResolved(res rails.Resolution) {
	switch res.Outcome {
	case rails.OutcomeSuccess:
		s.finishSucceeded(res.Transaction)
	case rails.OutcomeDeclined:
		s.finishDeclined(res.Message, res.Transaction)
	case rails.OutcomeClosed:
		s.finishClosed()
	}
}

// Close records that the host dismissed the checkout. Any in-flight challenge
// or polling attempt is torn down; their late results are dropped.
func (s *Session) Close() {
	s.mu.Lock()
	challenge := s.challenge
	flow := s.flow
	s.mu.Unlock()

	s.finishClosed()
	if flow != nil {
		flow.Close()
	}
	if challenge != nil {
		challenge.Cancel()
	}
	s.scheduler.Stop()
}

// finish runs the terminal transition exactly once.
func (s *Session) finish(deliver func()) {
	s.mu.Lock()
	if s.terminal {
		s.mu.Unlock()
		return
	}
	s.terminal = true
	s.stage = StageTerminal
	s.mu.Unlock()

	s.scheduler.Stop()
	deliver()
}

func (s *Session) finishSucceeded(tx *intent.Transaction) {
	s.finish(func() {
		s.log.Info().Str("intent_id", s.intentID()).Msg("payment succeeded")
		s.delegate.PaymentSucceeded(tx)
	})
}

func (s *Session) finishDeclined(message string, tx *intent.Transaction) {
	s.finish(func() {
		s.log.Info().Str("intent_id", s.intentID()).Str("reason", message).Msg("payment declined")
		s.delegate.PaymentDeclined(message, tx)
	})
}

func (s *Session) finishClosed() {
	s.finish(func() {
		s.log.Info().Str("intent_id", s.intentID()).Msg("session closed")
		s.delegate.SessionClosed()
	})
}

func (s *Session) intentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pi == nil {
		return ""
	}
	return s.pi.ID
}

func formatTransactionID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// methodFor finds the intent payment method for a rail. Callers hold s.mu.
func (s *Session) methodFor(rail intent.Rail) (*intent.PaymentMethod, bool) {
	if s.pi == nil {
		return nil, false
	}
	for i := range s.pi.PaymentMethods {
		if intent.Rail(s.pi.PaymentMethods[i].Type) == rail {
			return &s.pi.PaymentMethods[i], true
		}
	}
	return nil, false
}

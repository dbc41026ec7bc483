package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cloudpayments/cloudpayments-go/cryptogram"
	"github.com/cloudpayments/cloudpayments-go/intent"
	"github.com/cloudpayments/cloudpayments-go/internal/config"
	"github.com/cloudpayments/cloudpayments-go/internal/obs"
	"github.com/cloudpayments/cloudpayments-go/payment"
	"github.com/cloudpayments/cloudpayments-go/polling"
	"github.com/cloudpayments/cloudpayments-go/threeds"
)

// paydemo bootstraps a checkout session against a real terminal and runs one
// card payment from environment-provided card data. Redirect rails are listed
// but not driven: they need an app to open the deeplink.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := obs.InitTracer(context.Background(), obs.TracingConfig{
			ServiceName:   "paydemo",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TracingRatio,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	metrics := obs.NewClientMetrics("cloudpayments", nil)
	client := intent.NewClient(cfg.PublicID,
		intent.WithBaseURLs(cfg.APIBaseURL, cfg.IntentBaseURL),
		intent.WithTelemetry(obs.Recorder{Metrics: metrics, Log: logger}),
		intent.WithLogger(logger),
	)

	scheduler := &polling.Scheduler{
		Observer: obs.PollingObserver{Metrics: metrics},
		Log:      logger,
	}

	done := make(chan struct{})
	session, err := payment.NewSession(payment.Config{
		PublicID:     cfg.PublicID,
		Amount:       cfg.Amount,
		Currency:     cfg.Currency,
		AccountID:    cfg.AccountID,
		Email:        cfg.Email,
		Description:  cfg.Description,
		PollInterval: cfg.PollInterval,
	}, client, consoleOpener{log: logger}, consoleSurface{log: logger}, &consoleDelegate{log: logger, done: done},
		payment.WithLogger(logger),
		payment.WithScheduler(scheduler))
	if err != nil {
		logger.Fatal().Err(err).Msg("build session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := session.Bootstrap(ctx); err != nil {
		logger.Fatal().Err(err).Msg("bootstrap")
	}

	for _, rail := range []intent.Rail{intent.RailCard, intent.RailSBP, intent.RailSberPay, intent.RailTPay} {
		logger.Info().Str("rail", string(rail)).Bool("enabled", session.RailEnabled(rail)).Msg("rail availability")
	}

	card := cryptogram.Card{
		Number:   os.Getenv("CP_CARD_NUMBER"),
		ExpMonth: atoiOrZero(os.Getenv("CP_CARD_EXP_MONTH")),
		ExpYear:  atoiOrZero(os.Getenv("CP_CARD_EXP_YEAR")),
		CVV:      os.Getenv("CP_CARD_CVV"),
	}
	if card.Number == "" {
		logger.Info().Msg("no CP_CARD_NUMBER set, stopping after bootstrap")
		return
	}

	if err := session.PayWithCard(ctx, card); err != nil {
		logger.Fatal().Err(err).Msg("card submit rejected")
	}

	select {
	case <-done:
	case <-ctx.Done():
		logger.Error().Msg("timed out waiting for a payment outcome")
	}
}

type consoleOpener struct{ log zerolog.Logger }

func (o consoleOpener) OpenURL(_ context.Context, raw string) error {
	o.log.Info().Str("url", raw).Msg("open this link to continue the payment")
	return nil
}

type consoleSurface struct{ log zerolog.Logger }

func (s consoleSurface) Load(doc threeds.Document) {
	s.log.Info().
		Str("base_url", doc.BaseURL).
		Str("mime", doc.MIMEType).
		Int("bytes", len(doc.Body)).
		Msg("3ds challenge document received, render it in a browser")
}

type consoleDelegate struct {
	log  zerolog.Logger
	done chan struct{}
}

func (d *consoleDelegate) PaymentSucceeded(tx *intent.Transaction) {
	if tx != nil {
		d.log.Info().Int64("transaction_id", tx.TransactionID).Msg("payment succeeded")
	} else {
		d.log.Info().Msg("payment succeeded")
	}
	close(d.done)
}

func (d *consoleDelegate) PaymentDeclined(message string, tx *intent.Transaction) {
	evt := d.log.Error().Str("reason", message)
	if tx != nil {
		evt = evt.Int64("transaction_id", tx.TransactionID)
	}
	evt.Msg("payment declined")
	close(d.done)
}

func (d *consoleDelegate) SessionClosed() {
	d.log.Info().Msg("session closed")
	close(d.done)
}

func atoiOrZero(s string) int {
	var n int
	_, _ = fmt.Sscanf(s, "%d", &n)
	return n
}

// Package payment is the top-level checkout orchestrator: it owns one payment
// intent, exposes the card and redirect rails over it and delivers exactly one
// terminal outcome to the host.
package payment

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cloudpayments/cloudpayments-go/intent"
)

const (
	defaultCurrency     = "RUB"
	defaultCulture      = "ru-RU"
	defaultPollInterval = 3 * time.Second
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config describes one checkout session.
type Config struct {
	// PublicID is the merchant terminal public id.
	PublicID string `validate:"required"`
	// Amount is the decimal amount string, e.g. "100.00".
	Amount   string `validate:"required"`
	Currency string
	Culture  string
	// Schema selects single- or dual-message card processing.
	Schema      intent.Schema `validate:"omitempty,oneof=SingleStage DoubleStage"`
	Email       string        `validate:"omitempty,email"`
	AccountID   string
	Description string

	// Redirect URLs are patched onto the intent after creation,
	// best-effort.
	SuccessRedirectURL string `validate:"omitempty,url"`
	FailRedirectURL    string `validate:"omitempty,url"`

	Payer    *intent.Payer
	Metadata map[string]any

	// PollInterval is the redirect-rail status polling period. Zero means
	// the three second default.
	PollInterval time.Duration
	// PollBudget bounds ticks per polling session; zero keeps the
	// scheduler default, negative removes the bound.
	PollBudget int
}

// Validate checks the config and fills defaults in place.
func (c *Config) Validate() error {
	if c.Currency == "" {
		c.Currency = defaultCurrency
	}
	if c.Culture == "" {
		c.Culture = defaultCulture
	}
	if c.Schema == "" {
		c.Schema = intent.SchemaSingle
	}
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("payment: config: %w", err)
	}
	return nil
}

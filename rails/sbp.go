package rails

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudpayments/cloudpayments-go/intent"
)

// ErrBankScheme is returned when a bank directory entry has neither an app
// scheme nor a usable web client URL.
var ErrBankScheme = errors.New("rails: bank has no scheme or web client url")

// SBP pays through the faster payments system. The payer picks a bank from
// the directory shipped with the intent; the chosen bank determines whether
// the link opens the bank app or its web client.
type SBP struct {
	*Flow
	linkURL string
	banks   []intent.Bank
}

// NewSBP builds the SBP rail. linkURL and banks come from the intent's
// payment methods block for the Sbp type.
func NewSBP(cfg Config, linkURL string, banks []intent.Bank) *SBP {
	return &SBP{
		Flow:    newFlow(intent.RailSBP, cfg),
		linkURL: linkURL,
		banks:   banks,
	}
}

// Banks returns the full bank directory.
func (s *SBP) Banks() []intent.Bank { return s.banks }

// FilterBanks narrows the directory by a case-insensitive name substring.
// An empty query returns everything.
func (s *SBP) FilterBanks(query string) []intent.Bank {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.banks
	}
	var out []intent.Bank
	for _, b := range s.banks {
		if strings.Contains(strings.ToLower(b.BankName), query) {
			out = append(out, b)
		}
	}
	return out
}

// PayWithBank starts the attempt for the chosen bank. Web-client banks are
// addressed by their web client URL, app banks by their scheme; the value is
// forwarded as the schema query parameter of the link request.
func (s *SBP) PayWithBank(ctx context.Context, bank intent.Bank) error {
	scheme := bank.Schema
	if bank.WebClient() {
		scheme = bank.WebClientURL
	}
	if strings.TrimSpace(scheme) == "" {
		return ErrBankScheme
	}
	s.Flow.Begin(ctx, s.linkURL, scheme)
	return nil
}

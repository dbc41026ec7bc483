package rails

import (
	"context"

	"github.com/cloudpayments/cloudpayments-go/intent"
)

// TPay pays through the T-Bank app via a single deeplink.
type TPay struct {
	*Flow
	linkURL string
}

// NewTPay builds the TPay rail. linkURL comes from the intent's payment
// methods block for the TinkoffPay type.
func NewTPay(cfg Config, linkURL string) *TPay {
	return &TPay{
		Flow:    newFlow(intent.RailTPay, cfg),
		linkURL: linkURL,
	}
}

// Pay starts the attempt.
func (t *TPay) Pay(ctx context.Context) {
	t.Flow.Begin(ctx, t.linkURL, "")
}

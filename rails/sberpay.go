package rails

import (
	"context"

	"github.com/cloudpayments/cloudpayments-go/intent"
)

// SberPay pays through the Sber app. The intent's payment methods block
// carries a data URL that resolves to a structured link document; the flow
// prefers its deeplink when one is present.
type SberPay struct {
	*Flow
	dataURL string
}

// NewSberPay builds the SberPay rail. dataURL comes from the intent's payment
// methods block for the SberPay type.
func NewSberPay(cfg Config, dataURL string) *SberPay {
	return &SberPay{
		Flow:    newFlow(intent.RailSberPay, cfg),
		dataURL: dataURL,
	}
}

// Pay starts the attempt.
func (s *SberPay) Pay(ctx context.Context) {
	s.Flow.Begin(ctx, s.dataURL, "")
}

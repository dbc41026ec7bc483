package intent

import (
	"errors"
	"fmt"
)

// ErrParse signals a well-formed HTTP exchange whose body could not be
// decoded. It is classified separately from transport failure.
var ErrParse = errors.New("intent: response parse failed")

// ErrAlreadyPaid is the 409 conflict outcome of a rail link request: the
// order has already been paid and the attempt must not be retried.
var ErrAlreadyPaid = errors.New("intent: order already paid")

// DeclineError is a structured decline carrying the merchant-facing code.
type DeclineError struct {
	Code string
}

func (e *DeclineError) Error() string {
	return fmt.Sprintf("intent: payment declined (code %s)", e.Code)
}

// Message renders the payer-facing description for the decline.
func (e *DeclineError) Message() string {
	return DescribeCode(e.Code)
}

package cryptogram

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validation errors surfaced to the card entry form.
var (
	ErrCardNumber = errors.New("cryptogram: invalid card number")
	ErrCardExpiry = errors.New("cryptogram: invalid or past expiry date")
	ErrCardCVV    = errors.New("cryptogram: invalid cvv")
)

// Card holds the raw fields entered by the payer. It only ever lives in
// memory; nothing here is persisted.
type Card struct {
	Number   string
	ExpMonth int
	ExpYear  int
	CVV      string
}

// CleanNumber strips spaces and separators from a card number as entered.
func CleanNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FirstSix returns the card BIN, used for bank info lookups.
func (c Card) FirstSix() (string, error) {
	number := CleanNumber(c.Number)
	if len(number) < 6 {
		return "", ErrCardNumber
	}
	return number[:6], nil
}

// LastFour returns the trailing PAN digits used in the cryptogram header.
func (c Card) LastFour() (string, error) {
	number := CleanNumber(c.Number)
	if len(number) < 4 {
		return "", ErrCardNumber
	}
	return number[len(number)-4:], nil
}

// Validate checks number (Luhn), expiry and CVV shape. skipExpiry mirrors the
// terminal's skipExpiryValidation flag.
func (c Card) Validate(skipExpiry bool) error {
	number := CleanNumber(c.Number)
	if len(number) < 14 || len(number) > 19 || !luhnValid(number) {
		return ErrCardNumber
	}
	if !skipExpiry {
		if c.ExpMonth < 1 || c.ExpMonth > 12 {
			return ErrCardExpiry
		}
		year := c.ExpYear
		if year < 100 {
			year += 2000
		}
		endOfMonth := time.Date(year, time.Month(c.ExpMonth), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if !endOfMonth.After(time.Now().UTC()) {
			return ErrCardExpiry
		}
	}
	if n := len(c.CVV); n != 0 && (n < 3 || n > 4) {
		return ErrCardCVV
	}
	for _, r := range c.CVV {
		if r < '0' || r > '9' {
			return ErrCardCVV
		}
	}
	return nil
}

// expMMYY renders the expiry the way the packet header expects it.
func (c Card) expMMYY() string {
	return fmt.Sprintf("%02d%02d", c.ExpMonth, c.ExpYear%100)
}

func luhnValid(number string) bool {
	sum := 0
	double := false
	for i := len(number) - 1; i >= 0; i-- {
		d := int(number[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}

package cryptogram_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudpayments/cloudpayments-go/cryptogram"
)

func TestCleanNumberStripsSeparators(t *testing.T) {
	require.Equal(t, "4111111111111111", cryptogram.CleanNumber("4111 1111-1111 1111"))
}

func TestValidateAcceptsKnownGoodCard(t *testing.T) {
	card := cryptogram.Card{
		Number:   "4242 4242 4242 4242",
		ExpMonth: 12,
		ExpYear:  time.Now().Year()%100 + 2,
		CVV:      "123",
	}
	require.NoError(t, card.Validate(false))
}

func TestValidateRejectsLuhnFailure(t *testing.T) {
	card := cryptogram.Card{Number: "4242424242424241", ExpMonth: 12, ExpYear: 99, CVV: "123"}
	require.ErrorIs(t, card.Validate(false), cryptogram.ErrCardNumber)
}

func TestValidateRejectsPastExpiry(t *testing.T) {
	card := cryptogram.Card{Number: "4242424242424242", ExpMonth: 1, ExpYear: 2020, CVV: "123"}
	require.ErrorIs(t, card.Validate(false), cryptogram.ErrCardExpiry)
}

func TestValidateSkipExpiry(t *testing.T) {
	card := cryptogram.Card{Number: "4242424242424242", ExpMonth: 1, ExpYear: 2020, CVV: "123"}
	require.NoError(t, card.Validate(true))
}

func TestValidateCurrentMonthStillValid(t *testing.T) {
	now := time.Now().UTC()
	card := cryptogram.Card{
		Number:   "4242424242424242",
		ExpMonth: int(now.Month()),
		ExpYear:  now.Year(),
		CVV:      "123",
	}
	require.NoError(t, card.Validate(false))
}

func TestValidateRejectsBadCVV(t *testing.T) {
	card := cryptogram.Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: 99, CVV: "12a"}
	require.ErrorIs(t, card.Validate(false), cryptogram.ErrCardCVV)

	card.CVV = "12"
	require.ErrorIs(t, card.Validate(false), cryptogram.ErrCardCVV)
}

func TestValidateAllowsEmptyCVV(t *testing.T) {
	// Terminals with hideCvvInput submit without a CVV.
	card := cryptogram.Card{Number: "4242424242424242", ExpMonth: 12, ExpYear: 99, CVV: ""}
	require.NoError(t, card.Validate(false))
}

func TestFirstSixLastFour(t *testing.T) {
	card := cryptogram.Card{Number: "4242 4242 4242 4242"}
	six, err := card.FirstSix()
	require.NoError(t, err)
	require.Equal(t, "424242", six)

	four, err := card.LastFour()
	require.NoError(t, err)
	require.Equal(t, "4242", four)
}

package settle

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrNegativeAmount is returned when an investment or cash-out is below zero.
	ErrNegativeAmount = errors.New("settle: negative amount")

	// ErrPoolMismatch matches any *PoolMismatchError via errors.Is.
	ErrPoolMismatch = errors.New("settle: entered total doesn't match pot")
)

// PoolMismatchError reports a round whose cash-outs don't add up to the pot.
type PoolMismatchError struct {
	Pot     decimal.Decimal
	Entered decimal.Decimal
}

func (e *PoolMismatchError) Error() string {
	return fmt.Sprintf("settle: total (%s) doesn't match pot (%s)",
		e.Entered.StringFixed(2), e.Pot.StringFixed(2))
}

// Is lets errors.Is(err, ErrPoolMismatch) match.
func (e *PoolMismatchError) Is(target error) bool {
	return target == ErrPoolMismatch
}

// Difference is entered minus pot.
func (e *PoolMismatchError) Difference() decimal.Decimal {
	return e.Entered.Sub(e.Pot)
}

// Validate checks the caller-side preconditions of ComputeSettlements: no
// negative amounts, and total cash-out equal to total investment within
// Epsilon. Empty and single-participant lists are valid.
func Validate(participants []Participant) error {
	for _, p := range participants {
		if p.Investment.IsNegative() {
			return fmt.Errorf("%w: %s invested %s", ErrNegativeAmount, p.Name, p.Investment)
		}
		if p.CashOut.IsNegative() {
			return fmt.Errorf("%w: %s cashed out %s", ErrNegativeAmount, p.Name, p.CashOut)
		}
	}

	pot, entered := Totals(participants)
	if entered.Sub(pot).Abs().GreaterThanOrEqual(Epsilon) {
		return &PoolMismatchError{Pot: pot, Entered: entered}
	}
	return nil
}

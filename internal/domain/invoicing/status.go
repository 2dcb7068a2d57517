package invoicing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Status is the patient-side invoice state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusPartial   Status = "PARTIAL"
	StatusPaid      Status = "PAID"
	StatusControl   Status = "CONTROLE"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPartial, StatusPaid, StatusControl, StatusCancelled:
		return true
	}
	return false
}

// Facts are everything an invoice's status depends on.
type Facts struct {
	Paid      decimal.Decimal
	Owed      decimal.Decimal
	IsControl bool
	Cancelled bool
}

// Check rejects facts no committed data should produce.
func (f Facts) Check() error {
	if f.Paid.IsNegative() {
		return fmt.Errorf("%w: negative amount paid %s", ErrStatusDerivation, f.Paid)
	}
	if f.Owed.IsNegative() {
		return fmt.Errorf("%w: negative amount owed %s", ErrStatusDerivation, f.Owed)
	}
	return nil
}

// DeriveStatus computes the status from scratch. Control visits win over
// cancellation, and an invoice that owes nothing is PAID, never PENDING.
func DeriveStatus(f Facts) Status {
	switch {
	case f.IsControl:
		return StatusControl
	case f.Cancelled:
		return StatusCancelled
	case !f.Owed.IsPositive() || f.Paid.GreaterThanOrEqual(f.Owed):
		return StatusPaid
	case f.Paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

package invoicing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AdmissionRepository stores admissions together with their service lines.
type AdmissionRepository interface {
	Create(ctx context.Context, a *Admission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Admission, error)
	// UpdatePricing persists the control flag, totals and re-priced lines.
	UpdatePricing(ctx context.Context, a *Admission) error
}

type InvoiceRepository interface {
	Create(ctx context.Context, inv *PatientInvoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientInvoice, error)
	GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*PatientInvoice, error)
	// GetForUpdate reads the invoice and holds its row lock until the
	// surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*PatientInvoice, error)
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*PatientInvoice, int, error)
	Update(ctx context.Context, inv *PatientInvoice) error
	// IsClaimed reports whether an insurance invoice item references the invoice.
	IsClaimed(ctx context.Context, id uuid.UUID) (bool, error)
}

// PaymentRepository has no update or delete path.
type PaymentRepository interface {
	Append(ctx context.Context, p *Payment) error
	SumByInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error)
	ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error)
}

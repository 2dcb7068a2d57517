package insurance

import (
	"context"

	"github.com/google/uuid"
)

type CompanyRepository interface {
	Create(ctx context.Context, c *Company) error
	GetByID(ctx context.Context, id uuid.UUID) (*Company, error)
	Update(ctx context.Context, c *Company) error
	List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error)
}

type CoverageRateRepository interface {
	Upsert(ctx context.Context, r *CoverageRate) error
	Get(ctx context.Context, companyID uuid.UUID, serviceCode string) (*CoverageRate, error)
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*CoverageRate, error)
	Delete(ctx context.Context, companyID uuid.UUID, serviceCode string) error
}

type PolicyRepository interface {
	Create(ctx context.Context, p *PatientPolicy) error
	GetByID(ctx context.Context, id uuid.UUID) (*PatientPolicy, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*PatientPolicy, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
}

type InvoiceRepository interface {
	// ListClaimable returns the patient invoices of a company, dated inside
	// the period, that no insurer invoice has claimed yet.
	ListClaimable(ctx context.Context, companyID uuid.UUID, period Period) ([]*ClaimableInvoice, error)
	// LockCandidates row-locks the given patient invoices for the rest of
	// the transaction and returns their current claim facts. Unknown ids
	// are absent from the result.
	LockCandidates(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*ClaimCandidate, error)
	// Create inserts the invoice and its items.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)
	List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error)
	UpdateStatus(ctx context.Context, inv *Invoice) error
}

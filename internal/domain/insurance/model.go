// Package insurance holds insurer reference data (companies, per-service
// coverage rates, patient policies) and consolidates claimable patient
// invoices into periodic insurer invoices.
package insurance

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrNoInvoicesSelected     = errors.New("no invoices selected")
	ErrInvoiceAlreadyClaimed  = errors.New("invoice already claimed by an insurer invoice")
	ErrInvoiceNotClaimable    = errors.New("invoice is not claimable")
	ErrInvalidInsuranceStatus = errors.New("invalid insurance invoice status")
	ErrInvalidPeriod          = errors.New("invalid billing period")
	ErrValidation             = errors.New("invalid input")
	ErrDuplicateCode          = errors.New("insurance company code already exists")
)

// Company is an insurer the clinic bills.
type Company struct {
	ID                        uuid.UUID       `json:"id"`
	Name                      string          `json:"name"`
	Code                      string          `json:"code"`
	DefaultCoveragePercentage decimal.Decimal `json:"default_coverage_percentage"`
	Phone                     *string         `json:"phone,omitempty"`
	Email                     *string         `json:"email,omitempty"`
	Address                   *string         `json:"address,omitempty"`
	Active                    bool            `json:"active"`
	CreatedAt                 time.Time       `json:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at"`
}

// CoverageRate overrides a company's default for one service code.
type CoverageRate struct {
	ID                 uuid.UUID       `json:"id"`
	CompanyID          uuid.UUID       `json:"insurance_company_id"`
	ServiceCode        string          `json:"service_code"`
	CoveragePercentage decimal.Decimal `json:"coverage_percentage"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// PatientPolicy enrolls a patient with an insurer. A nil
// CoveragePercentage means the company default applies.
type PatientPolicy struct {
	ID                 uuid.UUID        `json:"id"`
	PatientID          uuid.UUID        `json:"patient_id"`
	CompanyID          uuid.UUID        `json:"insurance_company_id"`
	PolicyNumber       string           `json:"policy_number"`
	CoveragePercentage *decimal.Decimal `json:"coverage_percentage,omitempty"`
	ValidFrom          *time.Time       `json:"valid_from,omitempty"`
	ValidTo            *time.Time       `json:"valid_to,omitempty"`
	Active             bool             `json:"active"`
	CreatedAt          time.Time        `json:"created_at"`
}

// CoversDate reports whether the policy is active on t. Bounds are
// inclusive calendar days.
func (p *PatientPolicy) CoversDate(t time.Time) bool {
	if !p.Active {
		return false
	}
	day := truncateDay(t)
	if p.ValidFrom != nil && day.Before(truncateDay(*p.ValidFrom)) {
		return false
	}
	if p.ValidTo != nil && day.After(truncateDay(*p.ValidTo)) {
		return false
	}
	return true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// InvoiceStatus is the insurer-side settlement state, set by operators.
type InvoiceStatus string

const (
	StatusDraft   InvoiceStatus = "DRAFT"
	StatusSent    InvoiceStatus = "SENT"
	StatusPartial InvoiceStatus = "PARTIAL"
	StatusPaid    InvoiceStatus = "PAID"
)

func (s InvoiceStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPartial, StatusPaid:
		return true
	}
	return false
}

// Invoice is one consolidated bill sent to an insurer for a period.
type Invoice struct {
	ID            uuid.UUID       `json:"id"`
	InvoiceNumber string          `json:"invoice_number"`
	CompanyID     uuid.UUID       `json:"insurance_company_id"`
	CompanyName   string          `json:"insurance_company_name,omitempty"`
	PeriodStart   time.Time       `json:"period_start"`
	PeriodEnd     time.Time       `json:"period_end"`
	TotalInvoices int             `json:"total_invoices"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Status        InvoiceStatus   `json:"status"`
	Notes         *string         `json:"notes,omitempty"`
	SentAt        *time.Time      `json:"sent_at,omitempty"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	Items         []*InvoiceItem  `json:"items,omitempty"`
}

// InvoiceItem claims one patient invoice. The descriptive fields are
// snapshots taken at generation time.
type InvoiceItem struct {
	ID                 uuid.UUID       `json:"id"`
	InsuranceInvoiceID uuid.UUID       `json:"insurance_invoice_id"`
	PatientInvoiceID   uuid.UUID       `json:"patient_invoice_id"`
	InvoiceNumber      string          `json:"invoice_number"`
	PatientName        string          `json:"patient_name"`
	PolicyNumber       string          `json:"policy_number"`
	CoveragePercentage decimal.Decimal `json:"coverage_percentage"`
	Services           []string        `json:"services"`
	Amount             decimal.Decimal `json:"amount"`
	InvoiceDate        time.Time       `json:"invoice_date"`
}

// ClaimableInvoice is a patient invoice as seen by the consolidation
// engine.
type ClaimableInvoice struct {
	PatientInvoiceID   uuid.UUID       `json:"id"`
	InvoiceNumber      string          `json:"invoice_number"`
	AdmissionID        uuid.UUID       `json:"admission_id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	PatientName        string          `json:"patient_name"`
	PolicyNumber       string          `json:"policy_number"`
	CoveragePercentage decimal.Decimal `json:"coverage_percentage"`
	Services           []string        `json:"services"`
	InsuranceCovered   decimal.Decimal `json:"insurance_covered"`
	// InvoiceDate is a calendar day at UTC midnight, as read from the store.
	InvoiceDate        time.Time       `json:"invoice_date"`
}

// ClaimCandidate is a selected patient invoice read under lock, carrying
// the facts claimability is decided on.
type ClaimCandidate struct {
	ClaimableInvoice
	CompanyID   *uuid.UUID
	IsControl   bool
	Cancelled   bool
	ClaimedByID *uuid.UUID
}

// Period is an inclusive range of calendar days.
type Period struct {
	Start time.Time
	End   time.Time
}

func (p Period) Validate() error {
	if p.Start.IsZero() || p.End.IsZero() {
		return ErrInvalidPeriod
	}
	if truncateDay(p.End).Before(truncateDay(p.Start)) {
		return ErrInvalidPeriod
	}
	return nil
}

// Contains reports whether t falls on a day inside the period.
func (p Period) Contains(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(p.Start)) && !day.After(truncateDay(p.End))
}

// InvoiceFilter narrows insurer invoice listings.
type InvoiceFilter struct {
	CompanyID *uuid.UUID
	Status    *InvoiceStatus
}

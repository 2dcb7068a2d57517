// Package invoicing turns admissions into patient invoices, records payments
// against them and keeps each invoice's status in line with its payments.
package invoicing

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidPayment   = errors.New("invalid payment")
	ErrInvalidPolicy    = errors.New("policy does not apply to this admission")
	ErrInvoiceCancelled = errors.New("invoice is cancelled")
	ErrInvoiceClaimed   = errors.New("invoice is claimed by an insurance invoice")
	ErrStatusDerivation = errors.New("invoice status cannot be derived")
	ErrValidation       = errors.New("invalid input")
)

// ServiceLine is one billed act within an admission.
type ServiceLine struct {
	ID                 uuid.UUID       `json:"id"`
	AdmissionID        uuid.UUID       `json:"admission_id"`
	Position           int             `json:"position"`
	ServiceCode        string          `json:"service_code"`
	ServiceName        string          `json:"service_name"`
	BasePrice          decimal.Decimal `json:"base_price"`
	CoveragePercentage decimal.Decimal `json:"coverage_percentage"`
	InsuranceCovered   decimal.Decimal `json:"insurance_covered"`
	PatientPays        decimal.Decimal `json:"patient_pays"`
}

func (l *ServiceLine) split() pricing.Split {
	return pricing.Split{
		BasePrice:          l.BasePrice,
		CoveragePercentage: l.CoveragePercentage,
		InsuranceCovered:   l.InsuranceCovered,
		PatientPays:        l.PatientPays,
	}
}

func (l *ServiceLine) apply(s pricing.Split) {
	l.BasePrice = s.BasePrice
	l.CoveragePercentage = s.CoveragePercentage
	l.InsuranceCovered = s.InsuranceCovered
	l.PatientPays = s.PatientPays
}

// Admission is a patient encounter. CoveragePercentage is the visit-level
// insurer rate; lines may carry service-specific rates or 100 for control
// visits.
type Admission struct {
	ID                 uuid.UUID       `json:"id"`
	PatientID          uuid.UUID       `json:"patient_id"`
	PatientName        string          `json:"patient_name"`
	HasInsurance       bool            `json:"has_insurance"`
	InsuranceCompanyID *uuid.UUID      `json:"insurance_company_id,omitempty"`
	PolicyID           *uuid.UUID      `json:"policy_id,omitempty"`
	InsuranceNumber    *string         `json:"insurance_number,omitempty"`
	CoveragePercentage decimal.Decimal `json:"coverage_percentage"`
	CoverageSource     pricing.Source  `json:"coverage_source"`
	IsControl          bool            `json:"is_control"`
	BasePrice          decimal.Decimal `json:"base_price"`
	InsuranceAmount    decimal.Decimal `json:"insurance_amount"`
	PatientAmount      decimal.Decimal `json:"patient_amount"`
	Notes              *string         `json:"notes,omitempty"`
	CreatedBy          string          `json:"created_by,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	Lines              []*ServiceLine  `json:"services"`
	Invoice            *PatientInvoice `json:"invoice,omitempty"`
}

func (a *Admission) splits() []pricing.Split {
	out := make([]pricing.Split, len(a.Lines))
	for i, l := range a.Lines {
		out[i] = l.split()
	}
	return out
}

func (a *Admission) applyTotals(t pricing.Totals) {
	a.BasePrice = t.Base
	a.InsuranceAmount = t.Insurance
	a.PatientAmount = t.Patient
}

// PatientInvoice is the bill derived 1:1 from an admission. Status is a cache
// of DeriveStatus over the invoice's payments.
type PatientInvoice struct {
	ID                    uuid.UUID       `json:"id"`
	InvoiceNumber         string          `json:"invoice_number"`
	AdmissionID           uuid.UUID       `json:"admission_id"`
	PatientID             uuid.UUID       `json:"patient_id"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	InsuranceCovered      decimal.Decimal `json:"insurance_covered"`
	PatientResponsibility decimal.Decimal `json:"patient_responsibility"`
	AmountPaid            decimal.Decimal `json:"amount_paid"`
	Status                Status          `json:"status"`
	IsControl             bool            `json:"is_control"`
	Cancelled             bool            `json:"cancelled"`
	CancelReason          *string         `json:"cancel_reason,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	PaidAt                *time.Time      `json:"paid_at,omitempty"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Balance is what the patient still owes, never negative.
func (inv *PatientInvoice) Balance() decimal.Decimal {
	b := inv.PatientResponsibility.Sub(inv.AmountPaid)
	if b.IsNegative() {
		return decimal.Zero
	}
	return b
}

func (inv *PatientInvoice) applyTotals(t pricing.Totals) {
	inv.TotalAmount = t.Base
	inv.InsuranceCovered = t.Insurance
	inv.PatientResponsibility = t.Patient
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCard         PaymentMethod = "CARD"
	MethodMobileMoney  PaymentMethod = "MOBILE_MONEY"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodMobileMoney, MethodBankTransfer, MethodCheque:
		return true
	}
	return false
}

// Payment is an amount settled against a patient invoice. Payments are only
// ever appended.
type Payment struct {
	ID         uuid.UUID       `json:"id"`
	InvoiceID  uuid.UUID       `json:"invoice_id"`
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Reference  *string         `json:"reference,omitempty"`
	ReceivedBy string          `json:"received_by,omitempty"`
	PaidAt     time.Time       `json:"paid_at"`
}

// PaymentReceipt reports a recorded payment. StatusStale is set when the
// payment was stored but the invoice status could not be recomputed; Invoice
// then holds the last known state.
type PaymentReceipt struct {
	Payment     *Payment        `json:"payment"`
	Invoice     *PatientInvoice `json:"invoice"`
	StatusStale bool            `json:"status_stale,omitempty"`
}

// InvoiceFilter narrows patient invoice listings.
type InvoiceFilter struct {
	Status    *Status
	PatientID *uuid.UUID
}

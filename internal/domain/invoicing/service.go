package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/insurance"
	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/docnum"
)

// NumberSource issues document numbers.
type NumberSource interface {
	Next(prefix string) string
}

// PolicySource reads patient insurance policies.
type PolicySource interface {
	GetPolicy(ctx context.Context, id uuid.UUID) (*insurance.PatientPolicy, error)
}

type Service struct {
	admissions AdmissionRepository
	invoices   InvoiceRepository
	payments   PaymentRepository
	policies   PolicySource
	resolver   *pricing.Resolver
	calc       *pricing.Calculator
	tx         db.Transactor
	numbers    NumberSource
	logger     zerolog.Logger
	now        func() time.Time
}

func NewService(admissions AdmissionRepository, invoices InvoiceRepository, payments PaymentRepository,
	policies PolicySource, resolver *pricing.Resolver, calc *pricing.Calculator,
	tx db.Transactor, numbers NumberSource) *Service {
	return &Service{
		admissions: admissions,
		invoices:   invoices,
		payments:   payments,
		policies:   policies,
		resolver:   resolver,
		calc:       calc,
		tx:         tx,
		numbers:    numbers,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// -- Admissions --

// LineInput is one requested service. A nil BasePrice takes the catalogue
// price; a zero BasePrice bills the service at zero.
type LineInput struct {
	ServiceCode string           `json:"service_code"`
	BasePrice   *decimal.Decimal `json:"base_price"`
}

type AdmissionInput struct {
	PatientID          uuid.UUID        `json:"patient_id"`
	PatientName        string           `json:"patient_name"`
	InsuranceCompanyID *uuid.UUID       `json:"insurance_company_id"`
	PolicyID           *uuid.UUID       `json:"policy_id"`
	InsuranceNumber    *string          `json:"insurance_number"`
	CoverageOverride   *decimal.Decimal `json:"coverage_rate"`
	IsControl          bool             `json:"is_control"`
	Notes              *string          `json:"notes"`
	Services           []LineInput      `json:"services"`
	CreatedBy          string           `json:"-"`
}

// coverageTerms is what a visit was admitted under.
type coverageTerms struct {
	companyID *uuid.UUID
	policyPct *decimal.Decimal
	number    *string
}

func (s *Service) resolveTerms(ctx context.Context, in *AdmissionInput) (coverageTerms, error) {
	t := coverageTerms{companyID: in.InsuranceCompanyID, number: in.InsuranceNumber}
	if t.companyID != nil && *t.companyID == uuid.Nil {
		t.companyID = nil
	}

	if in.PolicyID != nil {
		p, err := s.policies.GetPolicy(ctx, *in.PolicyID)
		if errors.Is(err, insurance.ErrNotFound) {
			return t, fmt.Errorf("%w: policy %s does not exist", ErrInvalidPolicy, in.PolicyID)
		}
		if err != nil {
			return t, err
		}
		if in.PatientID != p.PatientID {
			return t, fmt.Errorf("%w: policy %s belongs to another patient", ErrInvalidPolicy, p.PolicyNumber)
		}
		if t.companyID == nil {
			t.companyID = &p.CompanyID
		} else if *t.companyID != p.CompanyID {
			return t, fmt.Errorf("%w: policy %s is with another insurer", ErrInvalidPolicy, p.PolicyNumber)
		}
		if !p.CoversDate(s.now()) {
			return t, fmt.Errorf("%w: policy %s is not in force", ErrInvalidPolicy, p.PolicyNumber)
		}
		t.policyPct = p.CoveragePercentage
		if t.number == nil {
			number := p.PolicyNumber
			t.number = &number
		}
	}

	// A per-visit override beats the policy's own percentage.
	if in.CoverageOverride != nil {
		if t.companyID == nil {
			return t, fmt.Errorf("%w: coverage_rate requires an insurance company", ErrValidation)
		}
		if err := pricing.ValidatePercentage(*in.CoverageOverride); err != nil {
			return t, err
		}
		t.policyPct = in.CoverageOverride
	}
	return t, nil
}

// linePercentage is the rate one line is priced at.
func (s *Service) linePercentage(ctx context.Context, a *Admission, serviceCode string) decimal.Decimal {
	if a.IsControl {
		return pricing.FullCover
	}
	if a.InsuranceCompanyID == nil {
		return pricing.NoCoverage
	}
	var policyPct *decimal.Decimal
	if a.CoverageSource == pricing.SourcePolicy {
		pct := a.CoveragePercentage
		policyPct = &pct
	}
	return s.resolver.Resolve(ctx, *a.InsuranceCompanyID, serviceCode, policyPct).Percentage
}

// CreateAdmission prices every requested service, totals them and writes the
// admission with its invoice in one transaction.
func (s *Service) CreateAdmission(ctx context.Context, in AdmissionInput) (*Admission, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	in.PatientName = strings.TrimSpace(in.PatientName)
	if in.PatientName == "" {
		return nil, fmt.Errorf("%w: patient_name is required", ErrValidation)
	}
	if len(in.Services) == 0 {
		return nil, fmt.Errorf("%w: at least one service is required", ErrValidation)
	}

	terms, err := s.resolveTerms(ctx, &in)
	if err != nil {
		return nil, err
	}

	a := &Admission{
		PatientID:          in.PatientID,
		PatientName:        in.PatientName,
		HasInsurance:       terms.companyID != nil,
		InsuranceCompanyID: terms.companyID,
		PolicyID:           in.PolicyID,
		InsuranceNumber:    terms.number,
		CoveragePercentage: pricing.NoCoverage,
		CoverageSource:     pricing.SourceUninsured,
		IsControl:          in.IsControl,
		Notes:              in.Notes,
		CreatedBy:          in.CreatedBy,
	}
	if terms.companyID != nil {
		visit := s.resolver.Resolve(ctx, *terms.companyID, "", terms.policyPct)
		a.CoveragePercentage, a.CoverageSource = visit.Percentage, visit.Source
	}

	for _, li := range in.Services {
		code := strings.TrimSpace(li.ServiceCode)
		q, err := s.calc.Quote(ctx, code, s.linePercentage(ctx, a, code), li.BasePrice)
		if err != nil {
			return nil, fmt.Errorf("service %q: %w", code, err)
		}
		line := &ServiceLine{ServiceCode: q.ServiceCode, ServiceName: q.ServiceName}
		line.apply(q.Split)
		a.Lines = append(a.Lines, line)
	}
	totals := pricing.Aggregate(a.splits(), a.IsControl)
	a.applyTotals(totals)

	inv := &PatientInvoice{
		InvoiceNumber: s.numbers.Next(docnum.PrefixPatientInvoice),
		PatientID:     a.PatientID,
		AmountPaid:    decimal.Zero,
		IsControl:     a.IsControl,
	}
	inv.applyTotals(totals)
	s.stamp(inv, Facts{Paid: decimal.Zero, Owed: inv.PatientResponsibility, IsControl: a.IsControl})

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.admissions.Create(ctx, a); err != nil {
			return err
		}
		inv.AdmissionID = a.ID
		return s.invoices.Create(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	a.Invoice = inv

	s.logger.Info().
		Str("admission_id", a.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("coverage_source", string(a.CoverageSource)).
		Str("patient_responsibility", inv.PatientResponsibility.StringFixed(pricing.MinorUnits)).
		Str("status", string(inv.Status)).
		Msg("admission created")
	return a, nil
}

func (s *Service) GetAdmission(ctx context.Context, id uuid.UUID) (*Admission, error) {
	a, err := s.admissions.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inv, err := s.invoices.GetByAdmission(ctx, id)
	switch {
	case errors.Is(err, ErrNotFound):
	case err != nil:
		return nil, err
	default:
		a.Invoice = inv
	}
	return a, nil
}

// SetControl flags or unflags an admission as a control visit, re-prices its
// lines and brings the invoice totals and status along.
func (s *Service) SetControl(ctx context.Context, admissionID uuid.UUID, isControl bool) (*Admission, error) {
	var a *Admission
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = s.admissions.GetByID(ctx, admissionID)
		if err != nil {
			return err
		}
		current, err := s.invoices.GetByAdmission(ctx, admissionID)
		if err != nil {
			return err
		}
		inv, err := s.invoices.GetForUpdate(ctx, current.ID)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.InvoiceNumber)
		}
		claimed, err := s.invoices.IsClaimed(ctx, inv.ID)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: %s", ErrInvoiceClaimed, inv.InvoiceNumber)
		}

		a.IsControl = isControl
		for _, l := range a.Lines {
			split, err := pricing.Price(l.BasePrice, s.linePercentage(ctx, a, l.ServiceCode))
			if err != nil {
				return fmt.Errorf("service %q: %w", l.ServiceCode, err)
			}
			l.apply(split)
		}
		totals := pricing.Aggregate(a.splits(), a.IsControl)
		a.applyTotals(totals)
		if err := s.admissions.UpdatePricing(ctx, a); err != nil {
			return err
		}

		inv.applyTotals(totals)
		inv.IsControl = isControl
		if err := s.recompute(ctx, inv); err != nil {
			return err
		}
		a.Invoice = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("admission_id", admissionID.String()).Bool("is_control", isControl).
		Str("status", string(a.Invoice.Status)).Msg("admission control flag changed")
	return a, nil
}

// -- Invoices --

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*PatientInvoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*PatientInvoice, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: status %q", ErrValidation, *f.Status)
	}
	return s.invoices.List(ctx, f, limit, offset)
}

// stamp sets the derived status and keeps paid_at on PAID invoices only.
func (s *Service) stamp(inv *PatientInvoice, f Facts) {
	inv.Status = DeriveStatus(f)
	if inv.Status != StatusPaid {
		inv.PaidAt = nil
		return
	}
	if inv.PaidAt == nil {
		now := s.now()
		inv.PaidAt = &now
	}
}

// recompute rederives the status of a locked invoice from its full payment
// history and persists it.
func (s *Service) recompute(ctx context.Context, inv *PatientInvoice) error {
	paid, err := s.payments.SumByInvoice(ctx, inv.ID)
	if err != nil {
		return fmt.Errorf("%w: sum payments: %v", ErrStatusDerivation, err)
	}
	f := Facts{Paid: paid, Owed: inv.PatientResponsibility, IsControl: inv.IsControl, Cancelled: inv.Cancelled}
	if err := f.Check(); err != nil {
		return err
	}
	inv.AmountPaid = paid
	s.stamp(inv, f)
	return s.invoices.Update(ctx, inv)
}

// RecomputeStatus rederives an invoice's status from its payments.
func (s *Service) RecomputeStatus(ctx context.Context, id uuid.UUID) (*PatientInvoice, error) {
	var inv *PatientInvoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		previous := inv.Status
		if err := s.recompute(ctx, inv); err != nil {
			return err
		}
		if inv.Status != previous {
			s.logger.Info().Str("invoice_id", id.String()).Str("from", string(previous)).
				Str("to", string(inv.Status)).Msg("invoice status changed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// CancelInvoice marks an invoice cancelled. Claimed invoices cannot be
// cancelled; cancelling twice is a no-op.
func (s *Service) CancelInvoice(ctx context.Context, id uuid.UUID, reason string) (*PatientInvoice, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("%w: reason is required", ErrValidation)
	}
	var inv *PatientInvoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		inv, err = s.invoices.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return nil
		}
		claimed, err := s.invoices.IsClaimed(ctx, id)
		if err != nil {
			return err
		}
		if claimed {
			return fmt.Errorf("%w: %s", ErrInvoiceClaimed, inv.InvoiceNumber)
		}
		inv.Cancelled = true
		inv.CancelReason = &reason
		return s.recompute(ctx, inv)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("invoice_id", id.String()).Str("status", string(inv.Status)).Msg("invoice cancelled")
	return inv, nil
}

// -- Payments --

type PaymentInput struct {
	Amount     decimal.Decimal `json:"amount"`
	Method     PaymentMethod   `json:"method"`
	Reference  *string         `json:"reference"`
	ReceivedBy string          `json:"-"`
}

// RecordPayment appends a payment and then recomputes the invoice status from
// the full payment sum. A failed recompute never undoes the payment: the
// receipt is flagged StatusStale and the failure is logged as an integrity
// problem.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, in PaymentInput) (*PaymentReceipt, error) {
	if in.Amount.IsNegative() {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidPayment)
	}
	if !in.Method.Valid() {
		return nil, fmt.Errorf("%w: unknown method %q", ErrInvalidPayment, in.Method)
	}

	p := &Payment{
		InvoiceID:  invoiceID,
		Amount:     pricing.RoundMoney(in.Amount),
		Method:     in.Method,
		Reference:  in.Reference,
		ReceivedBy: in.ReceivedBy,
	}
	var snapshot *PatientInvoice
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		inv, err := s.invoices.GetForUpdate(ctx, invoiceID)
		if err != nil {
			return err
		}
		if inv.Cancelled {
			return fmt.Errorf("%w: %s", ErrInvoiceCancelled, inv.InvoiceNumber)
		}
		snapshot = inv
		return s.payments.Append(ctx, p)
	})
	if err != nil {
		return nil, err
	}

	receipt := &PaymentReceipt{Payment: p, Invoice: snapshot}
	inv, err := s.RecomputeStatus(ctx, invoiceID)
	if err != nil {
		s.logger.Error().Err(err).Bool("integrity", true).
			Str("invoice_id", invoiceID.String()).
			Str("payment_id", p.ID.String()).
			Msg("payment recorded but invoice status could not be recomputed")
		receipt.StatusStale = true
		return receipt, nil
	}
	receipt.Invoice = inv

	s.logger.Info().
		Str("invoice_id", invoiceID.String()).
		Str("payment_id", p.ID.String()).
		Str("amount", p.Amount.StringFixed(pricing.MinorUnits)).
		Str("method", string(p.Method)).
		Str("status", string(inv.Status)).
		Msg("payment recorded")
	return receipt, nil
}

func (s *Service) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	if _, err := s.invoices.GetByID(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.payments.ListByInvoice(ctx, invoiceID)
}

package insurance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/docnum"
)

// GenerateInput selects the patient invoices for one consolidation run.
type GenerateInput struct {
	CompanyID          uuid.UUID
	PeriodStart        time.Time
	PeriodEnd          time.Time
	SelectedInvoiceIDs []uuid.UUID
	Notes              *string
	CreatedBy          string
}

func (in GenerateInput) period() Period {
	return Period{Start: in.PeriodStart, End: in.PeriodEnd}
}

// ListClaimable returns the invoices a run for companyID over period could
// select.
func (s *Service) ListClaimable(ctx context.Context, companyID uuid.UUID, period Period) ([]*ClaimableInvoice, error) {
	if companyID == uuid.Nil {
		return nil, fmt.Errorf("%w: insurance_company_id is required", ErrValidation)
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	return s.invoices.ListClaimable(ctx, companyID, period)
}

// checkClaimable applies the same rules as ListClaimable to one locked
// candidate. Claims by another insurer invoice are reported separately so
// callers can retry.
func checkClaimable(c *ClaimCandidate, companyID uuid.UUID, period Period) error {
	if c.ClaimedByID != nil {
		return fmt.Errorf("%w: %s", ErrInvoiceAlreadyClaimed, c.InvoiceNumber)
	}
	var reason string
	switch {
	case c.CompanyID == nil || *c.CompanyID != companyID:
		reason = "billed to another insurer"
	case c.IsControl:
		reason = "control visit"
	case c.Cancelled:
		reason = "cancelled"
	case !c.InsuranceCovered.IsPositive():
		reason = "nothing covered"
	case !period.Contains(c.InvoiceDate):
		reason = "outside the billing period"
	default:
		return nil
	}
	return fmt.Errorf("%w: %s (%s)", ErrInvoiceNotClaimable, c.InvoiceNumber, reason)
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Generate creates a DRAFT insurer invoice claiming every selected patient
// invoice. Claimability is re-checked under row locks in the same
// transaction that writes the claims; any failure aborts the whole run.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (*Invoice, error) {
	if in.CompanyID == uuid.Nil {
		return nil, fmt.Errorf("%w: insurance_company_id is required", ErrValidation)
	}
	period := in.period()
	if err := period.Validate(); err != nil {
		return nil, err
	}
	ids := dedupe(in.SelectedInvoiceIDs)
	if len(ids) == 0 {
		return nil, ErrNoInvoicesSelected
	}
	company, err := s.companies.GetByID(ctx, in.CompanyID)
	if err != nil {
		return nil, err
	}

	inv := &Invoice{
		InvoiceNumber: s.numbers.Next(docnum.PrefixInsuranceInvoice),
		CompanyID:     company.ID,
		CompanyName:   company.Name,
		PeriodStart:   truncateDay(period.Start),
		PeriodEnd:     truncateDay(period.End),
		Status:        StatusDraft,
		Notes:         in.Notes,
		CreatedBy:     in.CreatedBy,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.invoices.LockCandidates(ctx, ids)
		if err != nil {
			return err
		}

		total := decimal.Zero
		items := make([]*InvoiceItem, 0, len(ids))
		for _, id := range ids {
			c, ok := locked[id]
			if !ok {
				return fmt.Errorf("%w: %s (unknown invoice)", ErrInvoiceNotClaimable, id)
			}
			if err := checkClaimable(c, in.CompanyID, period); err != nil {
				return err
			}
			items = append(items, &InvoiceItem{
				PatientInvoiceID:   c.PatientInvoiceID,
				InvoiceNumber:      c.InvoiceNumber,
				PatientName:        c.PatientName,
				PolicyNumber:       c.PolicyNumber,
				CoveragePercentage: c.CoveragePercentage,
				Services:           append([]string(nil), c.Services...),
				Amount:             c.InsuranceCovered,
				InvoiceDate:        truncateDay(c.InvoiceDate),
			})
			total = total.Add(c.InsuranceCovered)
		}

		inv.Items = items
		inv.TotalInvoices = len(items)
		inv.TotalAmount = pricing.RoundMoney(total)
		return s.invoices.Create(ctx, inv)
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("insurance_company_id", in.CompanyID.String()).
			Int("selected", len(ids)).
			Msg("insurance invoice generation aborted")
		return nil, err
	}

	s.logger.Info().
		Str("insurance_invoice_id", inv.ID.String()).
		Str("invoice_number", inv.InvoiceNumber).
		Str("insurance_company_id", inv.CompanyID.String()).
		Int("total_invoices", inv.TotalInvoices).
		Str("total_amount", inv.TotalAmount.StringFixed(pricing.MinorUnits)).
		Msg("insurance invoice generated")
	return inv, nil
}

func (s *Service) GetInvoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.invoices.GetByID(ctx, id)
}

func (s *Service) ListInvoices(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, 0, fmt.Errorf("%w: %s", ErrInvalidInsuranceStatus, *f.Status)
	}
	return s.invoices.List(ctx, f, limit, offset)
}

// UpdateStatus sets the operator-asserted settlement status. Any of the four
// statuses may follow any other. SENT and PAID keep the first sent_at stamp;
// only PAID carries paid_at; DRAFT clears both.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status InvoiceStatus) (*Invoice, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidInsuranceStatus, status)
	}
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	inv.Status = status
	switch status {
	case StatusSent:
		if inv.SentAt == nil {
			inv.SentAt = &now
		}
	case StatusPaid:
		if inv.SentAt == nil {
			inv.SentAt = &now
		}
		if inv.PaidAt == nil {
			inv.PaidAt = &now
		}
	case StatusDraft:
		inv.SentAt, inv.PaidAt = nil, nil
	}
	if status != StatusPaid {
		inv.PaidAt = nil
	}

	if err := s.invoices.UpdateStatus(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info().Str("insurance_invoice_id", id.String()).Str("status", string(status)).
		Msg("insurance invoice status changed")
	return inv, nil
}

package insurance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
)

// NumberSource issues document numbers.
type NumberSource interface {
	Next(prefix string) string
}

type Service struct {
	companies CompanyRepository
	rates     CoverageRateRepository
	policies  PolicyRepository
	invoices  InvoiceRepository
	tx        db.Transactor
	numbers   NumberSource
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(companies CompanyRepository, rates CoverageRateRepository, policies PolicyRepository,
	invoices InvoiceRepository, tx db.Transactor, numbers NumberSource) *Service {
	return &Service{
		companies: companies,
		rates:     rates,
		policies:  policies,
		invoices:  invoices,
		tx:        tx,
		numbers:   numbers,
		logger:    zerolog.Nop(),
		now:       time.Now,
	}
}

func (s *Service) SetLogger(l zerolog.Logger) {
	s.logger = l
}

// -- Companies --

func (s *Service) validateCompany(c *Company) error {
	c.Name = strings.TrimSpace(c.Name)
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrValidation)
	}
	if c.Code == "" {
		return fmt.Errorf("%w: code is required", ErrValidation)
	}
	return pricing.ValidatePercentage(c.DefaultCoveragePercentage)
}

func (s *Service) CreateCompany(ctx context.Context, c *Company) error {
	if err := s.validateCompany(c); err != nil {
		return err
	}
	c.Active = true
	return s.companies.Create(ctx, c)
}

func (s *Service) GetCompany(ctx context.Context, id uuid.UUID) (*Company, error) {
	return s.companies.GetByID(ctx, id)
}

func (s *Service) UpdateCompany(ctx context.Context, c *Company) error {
	if err := s.validateCompany(c); err != nil {
		return err
	}
	return s.companies.Update(ctx, c)
}

func (s *Service) ListCompanies(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error) {
	return s.companies.List(ctx, activeOnly, limit, offset)
}

// -- Coverage rates --

func (s *Service) SetCoverageRate(ctx context.Context, r *CoverageRate) error {
	r.ServiceCode = strings.TrimSpace(r.ServiceCode)
	if r.ServiceCode == "" {
		return fmt.Errorf("%w: service_code is required", ErrValidation)
	}
	if err := pricing.ValidatePercentage(r.CoveragePercentage); err != nil {
		return err
	}
	if _, err := s.companies.GetByID(ctx, r.CompanyID); err != nil {
		return err
	}
	return s.rates.Upsert(ctx, r)
}

func (s *Service) ListCoverageRates(ctx context.Context, companyID uuid.UUID) ([]*CoverageRate, error) {
	return s.rates.ListByCompany(ctx, companyID)
}

func (s *Service) DeleteCoverageRate(ctx context.Context, companyID uuid.UUID, serviceCode string) error {
	return s.rates.Delete(ctx, companyID, serviceCode)
}

// -- Policies --

func (s *Service) CreatePolicy(ctx context.Context, p *PatientPolicy) error {
	if p.PatientID == uuid.Nil {
		return fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	p.PolicyNumber = strings.TrimSpace(p.PolicyNumber)
	if p.PolicyNumber == "" {
		return fmt.Errorf("%w: policy_number is required", ErrValidation)
	}
	if p.CoveragePercentage != nil {
		if err := pricing.ValidatePercentage(*p.CoveragePercentage); err != nil {
			return err
		}
	}
	if p.ValidFrom != nil && p.ValidTo != nil && p.ValidTo.Before(*p.ValidFrom) {
		return fmt.Errorf("%w: valid_to is before valid_from", ErrValidation)
	}
	if _, err := s.companies.GetByID(ctx, p.CompanyID); err != nil {
		return err
	}
	p.Active = true
	return s.policies.Create(ctx, p)
}

func (s *Service) GetPolicy(ctx context.Context, id uuid.UUID) (*PatientPolicy, error) {
	return s.policies.GetByID(ctx, id)
}

func (s *Service) ListPolicies(ctx context.Context, patientID uuid.UUID) ([]*PatientPolicy, error) {
	return s.policies.ListByPatient(ctx, patientID)
}

func (s *Service) DeactivatePolicy(ctx context.Context, id uuid.UUID) error {
	return s.policies.Deactivate(ctx, id)
}

// -- Coverage lookup --

// CoverageLookup adapts the company and rate repositories to the pricing
// resolver. Inactive companies are reported as missing.
func (s *Service) CoverageLookup() pricing.CoverageLookup {
	return coverageLookup{s}
}

type coverageLookup struct{ s *Service }

func (l coverageLookup) CompanyDefault(ctx context.Context, companyID uuid.UUID) (decimal.Decimal, bool, error) {
	c, err := l.s.companies.GetByID(ctx, companyID)
	switch {
	case errors.Is(err, ErrNotFound):
		return decimal.Zero, false, nil
	case err != nil:
		return decimal.Zero, false, err
	case !c.Active:
		return decimal.Zero, false, nil
	}
	return c.DefaultCoveragePercentage, true, nil
}

func (l coverageLookup) ServiceRate(ctx context.Context, companyID uuid.UUID, serviceCode string) (decimal.Decimal, bool, error) {
	r, err := l.s.rates.Get(ctx, companyID, serviceCode)
	switch {
	case errors.Is(err, ErrNotFound):
		return decimal.Zero, false, nil
	case err != nil:
		return decimal.Zero, false, err
	}
	return r.CoveragePercentage, true, nil
}

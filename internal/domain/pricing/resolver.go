package pricing

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Source names the rule that produced a coverage percentage.
type Source string

const (
	SourceServiceRate    Source = "service_rate"
	SourcePolicy         Source = "policy"
	SourceCompanyDefault Source = "company_default"
	SourceUninsured      Source = "uninsured"
)

// Resolution is the applicable coverage percentage and where it came from.
type Resolution struct {
	Percentage decimal.Decimal `json:"coverage_rate"`
	Source     Source          `json:"source"`
}

// Uninsured is the fallback when no insurer can be resolved.
var Uninsured = Resolution{Percentage: decimal.Zero, Source: SourceUninsured}

// CoverageLookup reads insurer coverage configuration. found=false means no
// row exists; an error means the lookup itself failed.
type CoverageLookup interface {
	// CompanyDefault returns the default percentage of an active company.
	CompanyDefault(ctx context.Context, companyID uuid.UUID) (pct decimal.Decimal, found bool, err error)
	// ServiceRate returns the service-specific override for a company.
	ServiceRate(ctx context.Context, companyID uuid.UUID, serviceCode string) (pct decimal.Decimal, found bool, err error)
}

// Resolver determines the coverage percentage that applies to one service.
type Resolver struct {
	lookup CoverageLookup
	logger zerolog.Logger
}

func NewResolver(lookup CoverageLookup) *Resolver {
	return &Resolver{lookup: lookup, logger: zerolog.Nop()}
}

// SetLogger attaches a logger for degraded resolutions.
func (r *Resolver) SetLogger(l zerolog.Logger) {
	r.logger = l
}

// Resolve returns, first match wins: the company's rate for serviceCode, the
// policy percentage selected for this visit, the company default. A missing
// or unreadable company degrades to uninsured pricing instead of failing, so
// a billing configuration gap never blocks care. Resolve never errors.
func (r *Resolver) Resolve(ctx context.Context, companyID uuid.UUID, serviceCode string, policyPct *decimal.Decimal) Resolution {
	if companyID == uuid.Nil {
		return Uninsured
	}

	def, found, err := r.lookup.CompanyDefault(ctx, companyID)
	if err != nil {
		r.logger.Warn().Err(err).Str("insurance_company_id", companyID.String()).
			Msg("coverage lookup failed, pricing as uninsured")
		return Uninsured
	}
	if !found {
		r.logger.Warn().Str("insurance_company_id", companyID.String()).
			Msg("unresolvable insurance company, pricing as uninsured")
		return Uninsured
	}

	if serviceCode != "" {
		rate, ok, err := r.lookup.ServiceRate(ctx, companyID, serviceCode)
		switch {
		case err != nil:
			r.logger.Warn().Err(err).Str("insurance_company_id", companyID.String()).
				Str("service_code", serviceCode).Msg("service rate lookup failed")
		case ok && r.usable(rate, "service_rate", companyID):
			return Resolution{Percentage: rate, Source: SourceServiceRate}
		}
	}

	if policyPct != nil && r.usable(*policyPct, "policy", companyID) {
		return Resolution{Percentage: *policyPct, Source: SourcePolicy}
	}

	if r.usable(def, "company_default", companyID) {
		return Resolution{Percentage: def, Source: SourceCompanyDefault}
	}
	return Uninsured
}

func (r *Resolver) usable(pct decimal.Decimal, field string, companyID uuid.UUID) bool {
	if err := ValidatePercentage(pct); err != nil {
		r.logger.Warn().Err(err).Str("field", field).
			Str("insurance_company_id", companyID.String()).Msg("ignoring stored coverage percentage")
		return false
	}
	return true
}

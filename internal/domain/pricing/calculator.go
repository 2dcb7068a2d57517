package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Split is one priced service line: what the insurer covers and what the
// patient owes. InsuranceCovered + PatientPays == BasePrice always holds.
type Split struct {
	BasePrice          decimal.Decimal `json:"base_price"`
	CoveragePercentage decimal.Decimal `json:"coverage_rate"`
	InsuranceCovered   decimal.Decimal `json:"insurance_covered"`
	PatientPays        decimal.Decimal `json:"patient_pays"`
}

// Price splits base between insurer and patient. The covered share is rounded
// and the patient share is the exact remainder, so the two always add back up
// to the (rounded) base price.
func Price(base, pct decimal.Decimal) (Split, error) {
	if base.IsNegative() {
		return Split{}, fmt.Errorf("%w: %s is negative", ErrInvalidPrice, base.String())
	}
	if err := ValidatePercentage(pct); err != nil {
		return Split{}, err
	}

	base = RoundMoney(base)
	covered := RoundMoney(base.Mul(pct).Div(hundred))
	return Split{
		BasePrice:          base,
		CoveragePercentage: pct,
		InsuranceCovered:   covered,
		PatientPays:        base.Sub(covered),
	}, nil
}

// Quote is a priced catalogue service.
type Quote struct {
	ServiceCode string `json:"service_code"`
	ServiceName string `json:"service_name"`
	Split
}

// Calculator prices catalogue services. The price table is injected and only
// ever read.
type Calculator struct {
	prices PriceTable
}

func NewCalculator(prices PriceTable) *Calculator {
	return &Calculator{prices: prices}
}

// Quote prices serviceCode at pct. When basePrice is non-nil it replaces the
// catalogue price (a zero override is honoured as zero); the catalogue is still
// consulted for the service name when available.
func (c *Calculator) Quote(ctx context.Context, serviceCode string, pct decimal.Decimal, basePrice *decimal.Decimal) (*Quote, error) {
	if serviceCode == "" {
		return nil, ErrMissingService
	}
	if err := ValidatePercentage(pct); err != nil {
		return nil, err
	}

	q := &Quote{ServiceCode: serviceCode, ServiceName: serviceCode}
	sp, err := c.prices.Lookup(ctx, serviceCode)
	switch {
	case err == nil:
		q.ServiceName = sp.ServiceName
	case basePrice == nil:
		return nil, err
	}

	base := sp.Price
	if basePrice != nil {
		base = *basePrice
	}
	split, err := Price(base, pct)
	if err != nil {
		return nil, err
	}
	q.Split = split
	return q, nil
}

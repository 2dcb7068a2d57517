package pricing

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPrice_SumInvariantGrid(t *testing.T) {
	bases := []string{"0", "0.01", "0.05", "1", "3.33", "99.99", "1000", "10000", "15000", "12345.67", "999999.99"}
	pcts := []string{"0", "0.5", "1", "12.5", "33.33", "50", "66.67", "70", "80", "99.99", "100"}

	for _, b := range bases {
		for _, p := range pcts {
			s, err := Price(d(b), d(p))
			if err != nil {
				t.Fatalf("Price(%s, %s): %v", b, p, err)
			}
			if !s.InsuranceCovered.Add(s.PatientPays).Equal(s.BasePrice) {
				t.Errorf("Price(%s, %s): %s + %s != %s", b, p, s.InsuranceCovered, s.PatientPays, s.BasePrice)
			}
			if s.InsuranceCovered.IsNegative() || s.PatientPays.IsNegative() {
				t.Errorf("Price(%s, %s): negative share %+v", b, p, s)
			}
			if s.InsuranceCovered.Exponent() < -MinorUnits {
				t.Errorf("Price(%s, %s): covered %s has more than %d places", b, p, s.InsuranceCovered, MinorUnits)
			}
		}
	}
}

func TestPrice_FullCoverage(t *testing.T) {
	for _, b := range []string{"0", "0.01", "15000", "12345.67"} {
		s, err := Price(d(b), FullCover)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !s.PatientPays.IsZero() {
			t.Errorf("base %s at 100%%: patient pays %s, want 0", b, s.PatientPays)
		}
		if !s.InsuranceCovered.Equal(s.BasePrice) {
			t.Errorf("base %s at 100%%: covered %s", b, s.InsuranceCovered)
		}
	}
}

func TestPrice_NoCoverage(t *testing.T) {
	s, err := Price(d("10000"), NoCoverage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.InsuranceCovered.IsZero() || !s.PatientPays.Equal(d("10000")) {
		t.Errorf("unexpected split %+v", s)
	}
}

func TestPrice_Examples(t *testing.T) {
	tests := []struct {
		base, pct, covered, patient string
	}{
		{"15000", "100", "15000", "0"},
		{"10000", "70", "7000", "3000"},
		{"0.05", "50", "0.03", "0.02"},
		{"100", "33.33", "33.33", "66.67"},
	}
	for _, tt := range tests {
		s, err := Price(d(tt.base), d(tt.pct))
		if err != nil {
			t.Fatalf("Price(%s, %s): %v", tt.base, tt.pct, err)
		}
		if !s.InsuranceCovered.Equal(d(tt.covered)) || !s.PatientPays.Equal(d(tt.patient)) {
			t.Errorf("Price(%s, %s) = %s/%s, want %s/%s",
				tt.base, tt.pct, s.InsuranceCovered, s.PatientPays, tt.covered, tt.patient)
		}
	}
}

func TestPrice_Rejects(t *testing.T) {
	tests := []struct {
		base, pct string
		want      error
	}{
		{"100", "-1", ErrInvalidCoverage},
		{"100", "100.01", ErrInvalidCoverage},
		{"100", "70.555", ErrInvalidCoverage},
		{"-0.01", "50", ErrInvalidPrice},
	}
	for _, tt := range tests {
		if _, err := Price(d(tt.base), d(tt.pct)); !errors.Is(err, tt.want) {
			t.Errorf("Price(%s, %s) err = %v, want %v", tt.base, tt.pct, err, tt.want)
		}
	}
}

func TestValidatePercentage_Precision(t *testing.T) {
	for _, ok := range []string{"0", "70", "70.5", "70.55", "70.500", "100.00"} {
		if err := ValidatePercentage(d(ok)); err != nil {
			t.Errorf("ValidatePercentage(%s): %v", ok, err)
		}
	}
	for _, bad := range []string{"70.555", "0.001", "99.999"} {
		if err := ValidatePercentage(d(bad)); !errors.Is(err, ErrInvalidCoverage) {
			t.Errorf("ValidatePercentage(%s) err = %v, want ErrInvalidCoverage", bad, err)
		}
	}
}

func TestCalculator_Quote(t *testing.T) {
	calc := NewCalculator(StaticPriceTable{
		"CONS": {ServiceCode: "CONS", ServiceName: "Consultation", Price: d("15000")},
	})
	ctx := context.Background()

	q, err := calc.Quote(ctx, "CONS", d("70"), nil)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.ServiceName != "Consultation" || !q.InsuranceCovered.Equal(d("10500")) || !q.PatientPays.Equal(d("4500")) {
		t.Errorf("unexpected quote %+v", q)
	}

	zero := decimal.Zero
	q, err = calc.Quote(ctx, "CONS", d("70"), &zero)
	if err != nil {
		t.Fatalf("Quote with zero override: %v", err)
	}
	if !q.BasePrice.IsZero() || !q.PatientPays.IsZero() {
		t.Errorf("zero override must price at zero, got %+v", q)
	}

	override := d("2500")
	q, err = calc.Quote(ctx, "LAB-X", d("0"), &override)
	if err != nil {
		t.Fatalf("Quote for uncatalogued service with override: %v", err)
	}
	if q.ServiceName != "LAB-X" || !q.PatientPays.Equal(override) {
		t.Errorf("unexpected quote %+v", q)
	}

	if _, err := calc.Quote(ctx, "LAB-X", d("0"), nil); !errors.Is(err, ErrUnknownService) {
		t.Errorf("expected ErrUnknownService, got %v", err)
	}
	if _, err := calc.Quote(ctx, "CONS", d("101"), nil); !errors.Is(err, ErrInvalidCoverage) {
		t.Errorf("expected ErrInvalidCoverage, got %v", err)
	}
	if _, err := calc.Quote(ctx, "", d("50"), nil); err == nil {
		t.Error("expected error for empty service code")
	}
}

package pricing

import "github.com/shopspring/decimal"

// Totals are the invoice-level sums of priced lines.
type Totals struct {
	Base      decimal.Decimal `json:"base_total"`
	Insurance decimal.Decimal `json:"insurance_total"`
	Patient   decimal.Decimal `json:"patient_total"`
}

// Aggregate sums lines field by field. The fold is order independent.
//
// A control visit is absorbed by the clinic: the patient owes nothing and the
// whole base is carried on the insurance side, whatever the coverage rate.
func Aggregate(lines []Split, isControl bool) Totals {
	t := Totals{Base: decimal.Zero, Insurance: decimal.Zero, Patient: decimal.Zero}
	for _, l := range lines {
		t.Base = t.Base.Add(l.BasePrice)
		t.Insurance = t.Insurance.Add(l.InsuranceCovered)
		t.Patient = t.Patient.Add(l.PatientPays)
	}
	if isControl {
		t.Insurance = t.Base
		t.Patient = decimal.Zero
	}
	return t
}

// Balanced reports whether Insurance + Patient == Base.
func (t Totals) Balanced() bool {
	return t.Insurance.Add(t.Patient).Equal(t.Base)
}

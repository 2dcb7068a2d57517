package insurance

import (
	"context"
	"fmt"
	"strings"

	"github.com/divan/num2words"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
)

const statementSheet = "Statement"

var statementHeaders = []string{
	"Invoice No.", "Date", "Patient", "Policy No.", "Services", "Coverage %", "Amount",
}

// AmountInWords spells out a non-negative amount, e.g. "seven thousand and 50/100".
func AmountInWords(amount decimal.Decimal) string {
	amount = pricing.RoundMoney(amount.Abs())
	whole := amount.IntPart()
	cents := amount.Sub(decimal.NewFromInt(whole)).Shift(pricing.MinorUnits).IntPart()
	return fmt.Sprintf("%s and %02d/100", num2words.Convert(int(whole)), cents)
}

// ExportInvoiceXLSX renders an insurer invoice as a spreadsheet statement.
// It returns the file contents and a suggested file name.
func (s *Service) ExportInvoiceXLSX(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := renderStatement(inv)
	if err != nil {
		return nil, "", fmt.Errorf("render statement %s: %w", inv.InvoiceNumber, err)
	}
	return data, inv.InvoiceNumber + ".xlsx", nil
}

func renderStatement(inv *Invoice) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return nil, err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4})
	if err != nil {
		return nil, err
	}

	set := func(cell string, v interface{}) {
		_ = f.SetCellValue(statementSheet, cell, v)
	}

	set("A1", "Insurance invoice "+inv.InvoiceNumber)
	set("A2", "Insurer")
	set("B2", inv.CompanyName)
	set("A3", "Period")
	set("B3", inv.PeriodStart.Format("2006-01-02")+" to "+inv.PeriodEnd.Format("2006-01-02"))
	set("A4", "Status")
	set("B4", string(inv.Status))
	_ = f.SetCellStyle(statementSheet, "A1", "A4", bold)

	const headerRow = 6
	for i, h := range statementHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		set(cell, h)
	}
	lastCol, _ := excelize.ColumnNumberToName(len(statementHeaders))
	_ = f.SetCellStyle(statementSheet, fmt.Sprintf("A%d", headerRow), fmt.Sprintf("%s%d", lastCol, headerRow), bold)

	row := headerRow
	for _, it := range inv.Items {
		row++
		set(fmt.Sprintf("A%d", row), it.InvoiceNumber)
		set(fmt.Sprintf("B%d", row), it.InvoiceDate.Format("2006-01-02"))
		set(fmt.Sprintf("C%d", row), it.PatientName)
		set(fmt.Sprintf("D%d", row), it.PolicyNumber)
		set(fmt.Sprintf("E%d", row), strings.Join(it.Services, ", "))
		set(fmt.Sprintf("F%d", row), it.CoveragePercentage.InexactFloat64())
		set(fmt.Sprintf("G%d", row), it.Amount.InexactFloat64())
	}
	if row > headerRow {
		_ = f.SetCellStyle(statementSheet, fmt.Sprintf("G%d", headerRow+1), fmt.Sprintf("G%d", row), money)
	}

	row += 2
	set(fmt.Sprintf("F%d", row), "Total")
	set(fmt.Sprintf("G%d", row), inv.TotalAmount.InexactFloat64())
	_ = f.SetCellStyle(statementSheet, fmt.Sprintf("F%d", row), fmt.Sprintf("F%d", row), bold)
	_ = f.SetCellStyle(statementSheet, fmt.Sprintf("G%d", row), fmt.Sprintf("G%d", row), money)
	row++
	set(fmt.Sprintf("A%d", row), fmt.Sprintf("Invoices: %d", inv.TotalInvoices))
	row++
	set(fmt.Sprintf("A%d", row), "Amount in words: "+AmountInWords(inv.TotalAmount))

	_ = f.SetColWidth(statementSheet, "A", "A", 22)
	_ = f.SetColWidth(statementSheet, "C", "E", 30)
	_ = f.SetColWidth(statementSheet, "G", "G", 16)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

package invoicing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Admission Repository ===========

type admissionRepoPG struct{ pool *pgxpool.Pool }

func NewAdmissionRepoPG(pool *pgxpool.Pool) AdmissionRepository {
	return &admissionRepoPG{pool: pool}
}

const admissionCols = `id, patient_id, patient_name, has_insurance, insurance_company_id, policy_id,
	insurance_number, coverage_percentage, coverage_source, is_control, base_price, insurance_amount,
	patient_amount, notes, COALESCE(created_by, ''), created_at, updated_at`

const lineCols = `id, admission_id, position, service_code, service_name, base_price,
	coverage_percentage, insurance_covered, patient_pays`

func (r *admissionRepoPG) Create(ctx context.Context, a *Admission) error {
	a.ID = uuid.New()
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		INSERT INTO admissions (id, patient_id, patient_name, has_insurance, insurance_company_id, policy_id,
			insurance_number, coverage_percentage, coverage_source, is_control, base_price, insurance_amount,
			patient_amount, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.PatientName, a.HasInsurance, a.InsuranceCompanyID, a.PolicyID,
		a.InsuranceNumber, a.CoveragePercentage, string(a.CoverageSource), a.IsControl, a.BasePrice,
		a.InsuranceAmount, a.PatientAmount, a.Notes, a.CreatedBy).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return err
	}

	for i, l := range a.Lines {
		l.ID = uuid.New()
		l.AdmissionID = a.ID
		l.Position = i + 1
		_, err := conn.Exec(ctx, `
			INSERT INTO admission_services (`+lineCols+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			l.ID, l.AdmissionID, l.Position, l.ServiceCode, l.ServiceName, l.BasePrice,
			l.CoveragePercentage, l.InsuranceCovered, l.PatientPays)
		if err != nil {
			return fmt.Errorf("insert service line %s: %w", l.ServiceCode, err)
		}
	}
	return nil
}

func (r *admissionRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Admission, error) {
	conn := db.Conn(ctx, r.pool)
	var (
		a      Admission
		source string
	)
	err := conn.QueryRow(ctx, `SELECT `+admissionCols+` FROM admissions WHERE id = $1`, id).Scan(
		&a.ID, &a.PatientID, &a.PatientName, &a.HasInsurance, &a.InsuranceCompanyID, &a.PolicyID,
		&a.InsuranceNumber, &a.CoveragePercentage, &source, &a.IsControl, &a.BasePrice,
		&a.InsuranceAmount, &a.PatientAmount, &a.Notes, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	a.CoverageSource = pricing.Source(source)

	rows, err := conn.Query(ctx, `SELECT `+lineCols+` FROM admission_services
		WHERE admission_id = $1 ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ServiceLine
		if err := rows.Scan(&l.ID, &l.AdmissionID, &l.Position, &l.ServiceCode, &l.ServiceName,
			&l.BasePrice, &l.CoveragePercentage, &l.InsuranceCovered, &l.PatientPays); err != nil {
			return nil, err
		}
		a.Lines = append(a.Lines, &l)
	}
	return &a, rows.Err()
}

func (r *admissionRepoPG) UpdatePricing(ctx context.Context, a *Admission) error {
	conn := db.Conn(ctx, r.pool)
	err := conn.QueryRow(ctx, `
		UPDATE admissions SET is_control=$2, base_price=$3, insurance_amount=$4, patient_amount=$5,
			updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.IsControl, a.BasePrice, a.InsuranceAmount, a.PatientAmount).Scan(&a.UpdatedAt)
	if err != nil {
		return notFound(err)
	}
	for _, l := range a.Lines {
		_, err := conn.Exec(ctx, `
			UPDATE admission_services SET coverage_percentage=$2, insurance_covered=$3, patient_pays=$4
			WHERE id = $1`,
			l.ID, l.CoveragePercentage, l.InsuranceCovered, l.PatientPays)
		if err != nil {
			return fmt.Errorf("update service line %s: %w", l.ServiceCode, err)
		}
	}
	return nil
}

// =========== Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository {
	return &invoiceRepoPG{pool: pool}
}

// is_control lives on the admission; every read joins it in.
const invoiceSelect = `SELECT i.id, i.invoice_number, i.admission_id, i.patient_id, i.total_amount,
	i.insurance_covered, i.patient_responsibility, i.amount_paid, i.status, a.is_control, i.cancelled,
	i.cancel_reason, i.created_at, i.paid_at, i.updated_at
	FROM patient_invoices i JOIN admissions a ON a.id = i.admission_id`

func scanInvoice(row pgx.Row) (*PatientInvoice, error) {
	var (
		inv    PatientInvoice
		status string
	)
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.AdmissionID, &inv.PatientID, &inv.TotalAmount,
		&inv.InsuranceCovered, &inv.PatientResponsibility, &inv.AmountPaid, &status, &inv.IsControl,
		&inv.Cancelled, &inv.CancelReason, &inv.CreatedAt, &inv.PaidAt, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	inv.Status = Status(status)
	return &inv, nil
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *PatientInvoice) error {
	inv.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_invoices (id, invoice_number, admission_id, patient_id, total_amount,
			insurance_covered, patient_responsibility, amount_paid, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		inv.ID, inv.InvoiceNumber, inv.AdmissionID, inv.PatientID, inv.TotalAmount,
		inv.InsuranceCovered, inv.PatientResponsibility, inv.AmountPaid, string(inv.Status), inv.PaidAt).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientInvoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, invoiceSelect+` WHERE i.id = $1`, id))
}

func (r *invoiceRepoPG) GetByAdmission(ctx context.Context, admissionID uuid.UUID) (*PatientInvoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx, invoiceSelect+` WHERE i.admission_id = $1`, admissionID))
}

func (r *invoiceRepoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*PatientInvoice, error) {
	return scanInvoice(db.Conn(ctx, r.pool).QueryRow(ctx,
		invoiceSelect+` WHERE i.id = $1 FOR UPDATE OF i`, id))
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*PatientInvoice, int, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.Status != nil {
		args = append(args, string(*f.Status))
		where = append(where, fmt.Sprintf("i.status = $%d", len(args)))
	}
	if f.PatientID != nil {
		args = append(args, *f.PatientID)
		where = append(where, fmt.Sprintf("i.patient_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM patient_invoices i`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, invoiceSelect+clause+
		fmt.Sprintf(" ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*PatientInvoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *PatientInvoice) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE patient_invoices SET total_amount=$2, insurance_covered=$3, patient_responsibility=$4,
			amount_paid=$5, status=$6, cancelled=$7, cancel_reason=$8, paid_at=$9, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		inv.ID, inv.TotalAmount, inv.InsuranceCovered, inv.PatientResponsibility, inv.AmountPaid,
		string(inv.Status), inv.Cancelled, inv.CancelReason, inv.PaidAt).Scan(&inv.UpdatedAt)
	return notFound(err)
}

func (r *invoiceRepoPG) IsClaimed(ctx context.Context, id uuid.UUID) (bool, error) {
	var claimed bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM insurance_invoice_items WHERE patient_invoice_id = $1)`, id).
		Scan(&claimed)
	return claimed, err
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool *pgxpool.Pool }

func NewPaymentRepoPG(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

func (r *paymentRepoPG) Append(ctx context.Context, p *Payment) error {
	p.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payments (id, invoice_id, amount, method, reference, received_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING paid_at`,
		p.ID, p.InvoiceID, p.Amount, string(p.Method), p.Reference, p.ReceivedBy).
		Scan(&p.PaidAt)
}

func (r *paymentRepoPG) SumByInvoice(ctx context.Context, invoiceID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE invoice_id = $1`, invoiceID).Scan(&sum)
	return sum, err
}

func (r *paymentRepoPG) ListByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]*Payment, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT id, invoice_id, amount, method, reference, COALESCE(received_by, ''), paid_at
		FROM payments WHERE invoice_id = $1 ORDER BY paid_at, id`, invoiceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Payment
	for rows.Next() {
		var (
			p      Payment
			method string
		)
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.Amount, &method, &p.Reference, &p.ReceivedBy, &p.PaidAt); err != nil {
			return nil, err
		}
		p.Method = PaymentMethod(method)
		out = append(out, &p)
	}
	return out, rows.Err()
}

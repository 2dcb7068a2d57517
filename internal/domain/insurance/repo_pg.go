package insurance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lebossseur/masterClinique-sub000/internal/platform/db"
)

// UniqueItemConstraint guards the one-claim-per-patient-invoice rule.
const UniqueItemConstraint = "uq_insurance_invoice_items_patient_invoice"

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// =========== Company Repository ===========

type companyRepoPG struct{ pool *pgxpool.Pool }

func NewCompanyRepoPG(pool *pgxpool.Pool) CompanyRepository { return &companyRepoPG{pool: pool} }

const companyCols = `id, name, code, default_coverage_percentage, phone, email, address, active, created_at, updated_at`

func scanCompany(row pgx.Row) (*Company, error) {
	var c Company
	err := row.Scan(&c.ID, &c.Name, &c.Code, &c.DefaultCoveragePercentage,
		&c.Phone, &c.Email, &c.Address, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &c, nil
}

func duplicateCode(err error, code string) error {
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("%w: %s", ErrDuplicateCode, code)
	}
	return err
}

func (r *companyRepoPG) Create(ctx context.Context, c *Company) error {
	c.ID = uuid.New()
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO insurance_companies (id, name, code, default_coverage_percentage, phone, email, address, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at`,
		c.ID, c.Name, c.Code, c.DefaultCoveragePercentage, c.Phone, c.Email, c.Address, c.Active).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	return duplicateCode(err, c.Code)
}

func (r *companyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Company, error) {
	return scanCompany(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+companyCols+` FROM insurance_companies WHERE id = $1`, id))
}

func (r *companyRepoPG) Update(ctx context.Context, c *Company) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE insurance_companies SET name=$2, code=$3, default_coverage_percentage=$4,
			phone=$5, email=$6, address=$7, active=$8, updated_at=NOW()
		WHERE id = $1`,
		c.ID, c.Name, c.Code, c.DefaultCoveragePercentage, c.Phone, c.Email, c.Address, c.Active)
	if err != nil {
		return duplicateCode(err, c.Code)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *companyRepoPG) List(ctx context.Context, activeOnly bool, limit, offset int) ([]*Company, int, error) {
	where := ""
	if activeOnly {
		where = " WHERE active"
	}
	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM insurance_companies`+where).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := conn.Query(ctx, `SELECT `+companyCols+` FROM insurance_companies`+where+
		` ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Company
	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

// =========== Coverage Rate Repository ===========

type coverageRateRepoPG struct{ pool *pgxpool.Pool }

func NewCoverageRateRepoPG(pool *pgxpool.Pool) CoverageRateRepository {
	return &coverageRateRepoPG{pool: pool}
}

const rateCols = `id, insurance_company_id, service_code, coverage_percentage, updated_at`

func scanRate(row pgx.Row) (*CoverageRate, error) {
	var cr CoverageRate
	if err := row.Scan(&cr.ID, &cr.CompanyID, &cr.ServiceCode, &cr.CoveragePercentage, &cr.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &cr, nil
}

func (r *coverageRateRepoPG) Upsert(ctx context.Context, cr *CoverageRate) error {
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO coverage_rates (id, insurance_company_id, service_code, coverage_percentage)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (insurance_company_id, service_code) DO UPDATE
		SET coverage_percentage = EXCLUDED.coverage_percentage, updated_at = NOW()
		RETURNING id, updated_at`,
		uuid.New(), cr.CompanyID, cr.ServiceCode, cr.CoveragePercentage).Scan(&cr.ID, &cr.UpdatedAt)
}

func (r *coverageRateRepoPG) Get(ctx context.Context, companyID uuid.UUID, serviceCode string) (*CoverageRate, error) {
	return scanRate(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+rateCols+` FROM coverage_rates WHERE insurance_company_id = $1 AND service_code = $2`,
		companyID, serviceCode))
}

func (r *coverageRateRepoPG) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*CoverageRate, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+rateCols+` FROM coverage_rates WHERE insurance_company_id = $1 ORDER BY service_code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*CoverageRate
	for rows.Next() {
		cr, err := scanRate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cr)
	}
	return items, rows.Err()
}

func (r *coverageRateRepoPG) Delete(ctx context.Context, companyID uuid.UUID, serviceCode string) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`DELETE FROM coverage_rates WHERE insurance_company_id = $1 AND service_code = $2`, companyID, serviceCode)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Policy Repository ===========

type policyRepoPG struct{ pool *pgxpool.Pool }

func NewPolicyRepoPG(pool *pgxpool.Pool) PolicyRepository { return &policyRepoPG{pool: pool} }

const policyCols = `id, patient_id, insurance_company_id, policy_number, coverage_percentage,
	valid_from, valid_to, active, created_at`

func scanPolicy(row pgx.Row) (*PatientPolicy, error) {
	var p PatientPolicy
	err := row.Scan(&p.ID, &p.PatientID, &p.CompanyID, &p.PolicyNumber, &p.CoveragePercentage,
		&p.ValidFrom, &p.ValidTo, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *policyRepoPG) Create(ctx context.Context, p *PatientPolicy) error {
	p.ID = uuid.New()
	return db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO patient_policies (id, patient_id, insurance_company_id, policy_number,
			coverage_percentage, valid_from, valid_to, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		p.ID, p.PatientID, p.CompanyID, p.PolicyNumber, p.CoveragePercentage, p.ValidFrom, p.ValidTo, p.Active).
		Scan(&p.CreatedAt)
}

func (r *policyRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*PatientPolicy, error) {
	return scanPolicy(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+policyCols+` FROM patient_policies WHERE id = $1`, id))
}

func (r *policyRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*PatientPolicy, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+policyCols+` FROM patient_policies WHERE patient_id = $1 ORDER BY active DESC, created_at DESC`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*PatientPolicy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *policyRepoPG) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `UPDATE patient_policies SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// =========== Insurance Invoice Repository ===========

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

// claimSelect reads a patient invoice with its admission snapshot and the
// insurer invoice that claims it, if any. The invoice date is the calendar
// day in the session time zone, the same value the period filter compares.
const claimSelect = `
	SELECT pi.id, pi.invoice_number, pi.admission_id, pi.patient_id, a.patient_name,
		COALESCE(a.insurance_number, ''), a.coverage_percentage,
		COALESCE((SELECT array_agg(s.service_name ORDER BY s.position)
			FROM admission_services s WHERE s.admission_id = a.id), '{}'),
		pi.insurance_covered, pi.created_at::date AS invoice_date,
		a.insurance_company_id, a.is_control, pi.cancelled, ii.insurance_invoice_id
	FROM patient_invoices pi
	JOIN admissions a ON a.id = pi.admission_id
	LEFT JOIN insurance_invoice_items ii ON ii.patient_invoice_id = pi.id`

func scanCandidate(row pgx.Row) (*ClaimCandidate, error) {
	var c ClaimCandidate
	err := row.Scan(&c.PatientInvoiceID, &c.InvoiceNumber, &c.AdmissionID, &c.PatientID, &c.PatientName,
		&c.PolicyNumber, &c.CoveragePercentage, &c.Services, &c.InsuranceCovered, &c.InvoiceDate,
		&c.CompanyID, &c.IsControl, &c.Cancelled, &c.ClaimedByID)
	return &c, err
}

func (r *invoiceRepoPG) ListClaimable(ctx context.Context, companyID uuid.UUID, period Period) ([]*ClaimableInvoice, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, claimSelect+`
		WHERE a.has_insurance
			AND a.insurance_company_id = $1
			AND pi.created_at::date BETWEEN $2::date AND $3::date
			AND NOT a.is_control
			AND NOT pi.cancelled
			AND pi.insurance_covered > 0
			AND ii.id IS NULL
		ORDER BY pi.created_at, pi.invoice_number`,
		companyID, period.Start.Format(dateLayout), period.End.Format(dateLayout))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ClaimableInvoice
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, &c.ClaimableInvoice)
	}
	return items, rows.Err()
}

func (r *invoiceRepoPG) LockCandidates(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*ClaimCandidate, error) {
	conn := db.Conn(ctx, r.pool)
	// Lock in id order so overlapping runs queue instead of deadlocking.
	if _, err := conn.Exec(ctx,
		`SELECT id FROM patient_invoices WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids); err != nil {
		return nil, fmt.Errorf("lock patient invoices: %w", err)
	}

	rows, err := conn.Query(ctx, claimSelect+` WHERE pi.id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[uuid.UUID]*ClaimCandidate, len(ids))
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out[c.PatientInvoiceID] = c
	}
	return out, rows.Err()
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	conn := db.Conn(ctx, r.pool)
	inv.ID = uuid.New()
	err := conn.QueryRow(ctx, `
		INSERT INTO insurance_invoices (id, invoice_number, insurance_company_id, period_start, period_end,
			total_invoices, total_amount, status, notes, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`,
		inv.ID, inv.InvoiceNumber, inv.CompanyID, inv.PeriodStart, inv.PeriodEnd,
		inv.TotalInvoices, inv.TotalAmount, inv.Status, inv.Notes, inv.CreatedBy).
		Scan(&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return err
	}

	for _, it := range inv.Items {
		it.ID = uuid.New()
		it.InsuranceInvoiceID = inv.ID
		_, err := conn.Exec(ctx, `
			INSERT INTO insurance_invoice_items (id, insurance_invoice_id, patient_invoice_id, invoice_number,
				patient_name, policy_number, coverage_percentage, services, amount, invoice_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			it.ID, it.InsuranceInvoiceID, it.PatientInvoiceID, it.InvoiceNumber,
			it.PatientName, it.PolicyNumber, it.CoveragePercentage, it.Services, it.Amount, it.InvoiceDate)
		if db.IsUniqueViolation(err, UniqueItemConstraint) {
			return fmt.Errorf("%w: %s", ErrInvoiceAlreadyClaimed, it.InvoiceNumber)
		}
		if err != nil {
			return fmt.Errorf("insert item %s: %w", it.InvoiceNumber, err)
		}
	}
	return nil
}

const invoiceCols = `i.id, i.invoice_number, i.insurance_company_id, c.name, i.period_start, i.period_end,
	i.total_invoices, i.total_amount, i.status, i.notes, i.sent_at, i.paid_at, COALESCE(i.created_by, ''),
	i.created_at, i.updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.CompanyID, &inv.CompanyName, &inv.PeriodStart, &inv.PeriodEnd,
		&inv.TotalInvoices, &inv.TotalAmount, &inv.Status, &inv.Notes, &inv.SentAt, &inv.PaidAt, &inv.CreatedBy,
		&inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	conn := db.Conn(ctx, r.pool)
	inv, err := scanInvoice(conn.QueryRow(ctx, `SELECT `+invoiceCols+`
		FROM insurance_invoices i JOIN insurance_companies c ON c.id = i.insurance_company_id
		WHERE i.id = $1`, id))
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, `
		SELECT id, insurance_invoice_id, patient_invoice_id, invoice_number, patient_name, policy_number,
			coverage_percentage, services, amount, invoice_date
		FROM insurance_invoice_items WHERE insurance_invoice_id = $1
		ORDER BY invoice_date, invoice_number`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InsuranceInvoiceID, &it.PatientInvoiceID, &it.InvoiceNumber,
			&it.PatientName, &it.PolicyNumber, &it.CoveragePercentage, &it.Services, &it.Amount, &it.InvoiceDate); err != nil {
			return nil, err
		}
		inv.Items = append(inv.Items, &it)
	}
	return inv, rows.Err()
}

func (r *invoiceRepoPG) List(ctx context.Context, f InvoiceFilter, limit, offset int) ([]*Invoice, int, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.CompanyID != nil {
		args = append(args, *f.CompanyID)
		clauses = append(clauses, fmt.Sprintf("i.insurance_company_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		clauses = append(clauses, fmt.Sprintf("i.status = $%d", len(args)))
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	from := ` FROM insurance_invoices i JOIN insurance_companies c ON c.id = i.insurance_company_id` + where

	conn := db.Conn(ctx, r.pool)
	var total int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*)`+from, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, limit, offset)
	rows, err := conn.Query(ctx, `SELECT `+invoiceCols+from+
		fmt.Sprintf(` ORDER BY i.created_at DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	return items, total, rows.Err()
}

func (r *invoiceRepoPG) UpdateStatus(ctx context.Context, inv *Invoice) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `
		UPDATE insurance_invoices SET status=$2, sent_at=$3, paid_at=$4, updated_at=NOW()
		WHERE id = $1`, inv.ID, inv.Status, inv.SentAt, inv.PaidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

package insurance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

// -- Mock Repositories --

type mockCompanyRepo struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Company
	fail  error
}

func newMockCompanyRepo() *mockCompanyRepo {
	return &mockCompanyRepo{items: make(map[uuid.UUID]*Company)}
}

func (m *mockCompanyRepo) Create(_ context.Context, c *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, existing := range m.items {
		if existing.Code == c.Code {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, c.Code)
		}
	}
	c.ID = uuid.New()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockCompanyRepo) GetByID(_ context.Context, id uuid.UUID) (*Company, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *mockCompanyRepo) Update(_ context.Context, c *Company) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[c.ID]; !ok {
		return ErrNotFound
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *mockCompanyRepo) List(_ context.Context, activeOnly bool, _, _ int) ([]*Company, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Company
	for _, c := range m.items {
		if activeOnly && !c.Active {
			continue
		}
		out = append(out, c)
	}
	return out, len(out), nil
}

type mockRateRepo struct {
	items map[string]*CoverageRate
}

func newMockRateRepo() *mockRateRepo {
	return &mockRateRepo{items: make(map[string]*CoverageRate)}
}

func rateKey(companyID uuid.UUID, code string) string { return companyID.String() + "/" + code }

func (m *mockRateRepo) Upsert(_ context.Context, r *CoverageRate) error {
	if existing, ok := m.items[rateKey(r.CompanyID, r.ServiceCode)]; ok {
		r.ID = existing.ID
	} else {
		r.ID = uuid.New()
	}
	cp := *r
	m.items[rateKey(r.CompanyID, r.ServiceCode)] = &cp
	return nil
}

func (m *mockRateRepo) Get(_ context.Context, companyID uuid.UUID, code string) (*CoverageRate, error) {
	r, ok := m.items[rateKey(companyID, code)]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

func (m *mockRateRepo) ListByCompany(_ context.Context, companyID uuid.UUID) ([]*CoverageRate, error) {
	var out []*CoverageRate
	for _, r := range m.items {
		if r.CompanyID == companyID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockRateRepo) Delete(_ context.Context, companyID uuid.UUID, code string) error {
	if _, ok := m.items[rateKey(companyID, code)]; !ok {
		return ErrNotFound
	}
	delete(m.items, rateKey(companyID, code))
	return nil
}

type mockPolicyRepo struct {
	items map[uuid.UUID]*PatientPolicy
}

func newMockPolicyRepo() *mockPolicyRepo {
	return &mockPolicyRepo{items: make(map[uuid.UUID]*PatientPolicy)}
}

func (m *mockPolicyRepo) Create(_ context.Context, p *PatientPolicy) error {
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	m.items[p.ID] = p
	return nil
}

func (m *mockPolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*PatientPolicy, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockPolicyRepo) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*PatientPolicy, error) {
	var out []*PatientPolicy
	for _, p := range m.items {
		if p.PatientID == patientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockPolicyRepo) Deactivate(_ context.Context, id uuid.UUID) error {
	p, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	p.Active = false
	return nil
}

// mockInvoiceRepo holds patient invoices (as claim candidates), the claims
// made on them, and the insurer invoices created.
type mockInvoiceRepo struct {
	mu       sync.Mutex
	patient  map[uuid.UUID]*ClaimCandidate
	claimed  map[uuid.UUID]uuid.UUID
	invoices map[uuid.UUID]*Invoice
}

func newMockInvoiceRepo() *mockInvoiceRepo {
	return &mockInvoiceRepo{
		patient:  make(map[uuid.UUID]*ClaimCandidate),
		claimed:  make(map[uuid.UUID]uuid.UUID),
		invoices: make(map[uuid.UUID]*Invoice),
	}
}

func (m *mockInvoiceRepo) snapshot(id uuid.UUID) *ClaimCandidate {
	c := *m.patient[id]
	c.Services = append([]string(nil), c.Services...)
	if by, ok := m.claimed[id]; ok {
		c.ClaimedByID = &by
	}
	return &c
}

func (m *mockInvoiceRepo) ListClaimable(_ context.Context, companyID uuid.UUID, period Period) ([]*ClaimableInvoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*ClaimableInvoice
	for id := range m.patient {
		c := m.snapshot(id)
		if checkClaimable(c, companyID, period) == nil {
			out = append(out, &c.ClaimableInvoice)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceNumber < out[j].InvoiceNumber })
	return out, nil
}

func (m *mockInvoiceRepo) LockCandidates(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]*ClaimCandidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[uuid.UUID]*ClaimCandidate)
	for _, id := range ids {
		if _, ok := m.patient[id]; ok {
			out[id] = m.snapshot(id)
		}
	}
	return out, nil
}

func (m *mockInvoiceRepo) Create(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range inv.Items {
		if _, ok := m.claimed[it.PatientInvoiceID]; ok {
			return fmt.Errorf("%w: %s", ErrInvoiceAlreadyClaimed, it.InvoiceNumber)
		}
	}
	inv.ID = uuid.New()
	inv.CreatedAt = time.Now()
	for _, it := range inv.Items {
		it.ID = uuid.New()
		it.InsuranceInvoiceID = inv.ID
		m.claimed[it.PatientInvoiceID] = inv.ID
	}
	m.invoices[inv.ID] = inv
	return nil
}

func (m *mockInvoiceRepo) GetByID(_ context.Context, id uuid.UUID) (*Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *mockInvoiceRepo) List(_ context.Context, f InvoiceFilter, _, _ int) ([]*Invoice, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Invoice
	for _, inv := range m.invoices {
		if f.CompanyID != nil && inv.CompanyID != *f.CompanyID {
			continue
		}
		if f.Status != nil && inv.Status != *f.Status {
			continue
		}
		out = append(out, inv)
	}
	return out, len(out), nil
}

func (m *mockInvoiceRepo) UpdateStatus(_ context.Context, inv *Invoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.invoices[inv.ID]; !ok {
		return ErrNotFound
	}
	cp := *inv
	m.invoices[inv.ID] = &cp
	return nil
}

// mockTransactor serialises units of work like row locks would.
type mockTransactor struct{ mu sync.Mutex }

func (t *mockTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}

type seqNumbers struct {
	mu sync.Mutex
	n  int
}

func (s *seqNumbers) Next(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", prefix, s.n)
}

type testEnv struct {
	svc       *Service
	companies *mockCompanyRepo
	rates     *mockRateRepo
	policies  *mockPolicyRepo
	invoices  *mockInvoiceRepo
}

func newTestEnv() *testEnv {
	env := &testEnv{
		companies: newMockCompanyRepo(),
		rates:     newMockRateRepo(),
		policies:  newMockPolicyRepo(),
		invoices:  newMockInvoiceRepo(),
	}
	env.svc = NewService(env.companies, env.rates, env.policies, env.invoices, &mockTransactor{}, &seqNumbers{})
	env.svc.now = func() time.Time { return time.Date(2024, 2, 5, 10, 0, 0, 0, time.UTC) }
	return env
}

func newTestService() *Service { return newTestEnv().svc }

func (env *testEnv) company(t *testing.T, name, pct string) *Company {
	t.Helper()
	c := &Company{Name: name, Code: name, DefaultCoveragePercentage: d(pct)}
	if err := env.svc.CreateCompany(context.Background(), c); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	return c
}

// patientInvoice registers an insured patient invoice for companyID.
func (env *testEnv) patientInvoice(companyID uuid.UUID, number, date, covered string) *ClaimCandidate {
	cid := companyID
	c := &ClaimCandidate{
		ClaimableInvoice: ClaimableInvoice{
			PatientInvoiceID:   uuid.New(),
			InvoiceNumber:      number,
			AdmissionID:        uuid.New(),
			PatientID:          uuid.New(),
			PatientName:        "Patient " + number,
			PolicyNumber:       "POL-" + number,
			CoveragePercentage: d("70"),
			Services:           []string{"Consultation"},
			InsuranceCovered:   d(covered),
			InvoiceDate:        day(date),
		},
		CompanyID: &cid,
	}
	env.invoices.patient[c.PatientInvoiceID] = c
	return c
}

var january = Period{Start: day("2024-01-01"), End: day("2024-01-31")}

func generateInput(companyID uuid.UUID, ids ...uuid.UUID) GenerateInput {
	return GenerateInput{CompanyID: companyID, PeriodStart: january.Start, PeriodEnd: january.End, SelectedInvoiceIDs: ids}
}

// -- Consolidation --

func TestGenerate_ConsolidatesSelection(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.company(t, "ASSUR-A", "70")
	i1 := env.patientInvoice(a.ID, "FAC-1", "2024-01-03", "7000")
	i2 := env.patientInvoice(a.ID, "FAC-2", "2024-01-15", "10500")
	i3 := env.patientInvoice(a.ID, "FAC-3", "2024-01-31", "2450.50")

	claimable, err := env.svc.ListClaimable(ctx, a.ID, january)
	if err != nil {
		t.Fatalf("ListClaimable: %v", err)
	}
	if len(claimable) != 3 {
		t.Fatalf("expected 3 claimable, got %d", len(claimable))
	}

	inv, err := env.svc.Generate(ctx, generateInput(a.ID, i1.PatientInvoiceID, i2.PatientInvoiceID, i3.PatientInvoiceID))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inv.TotalInvoices != 3 {
		t.Errorf("total_invoices = %d, want 3", inv.TotalInvoices)
	}
	if !inv.TotalAmount.Equal(d("19950.50")) {
		t.Errorf("total_amount = %s, want 19950.50", inv.TotalAmount)
	}
	if inv.Status != StatusDraft {
		t.Errorf("status = %s, want DRAFT", inv.Status)
	}
	if inv.InvoiceNumber == "" || inv.CompanyName != "ASSUR-A" {
		t.Errorf("unexpected header %+v", inv)
	}

	// A second run over the same period finds nothing left to claim.
	claimable, _ = env.svc.ListClaimable(ctx, a.ID, january)
	if len(claimable) != 0 {
		t.Fatalf("expected no claimable invoices after generation, got %d", len(claimable))
	}
	var ids []uuid.UUID
	for _, c := range claimable {
		ids = append(ids, c.PatientInvoiceID)
	}
	if _, err := env.svc.Generate(ctx, generateInput(a.ID, ids...)); !errors.Is(err, ErrNoInvoicesSelected) {
		t.Fatalf("expected ErrNoInvoicesSelected, got %v", err)
	}

	// Replaying the original selection is refused.
	if _, err := env.svc.Generate(ctx, generateInput(a.ID, i1.PatientInvoiceID)); !errors.Is(err, ErrInvoiceAlreadyClaimed) {
		t.Fatalf("expected ErrInvoiceAlreadyClaimed, got %v", err)
	}
	if len(env.invoices.invoices) != 1 {
		t.Errorf("expected exactly one insurer invoice, got %d", len(env.invoices.invoices))
	}
}

func TestGenerate_SnapshotsItems(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	pi := env.patientInvoice(a.ID, "FAC-1", "2024-01-10", "7000")
	pi.Services = []string{"Consultation", "Blood panel"}

	inv, err := env.svc.Generate(context.Background(), generateInput(a.ID, pi.PatientInvoiceID))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	pi.PatientName = "Renamed"
	pi.Services[0] = "Changed"
	pi.InsuranceCovered = d("1")

	it := inv.Items[0]
	if it.PatientName != "Patient FAC-1" || it.PolicyNumber != "POL-FAC-1" {
		t.Errorf("item did not snapshot patient details: %+v", it)
	}
	if len(it.Services) != 2 || it.Services[0] != "Consultation" {
		t.Errorf("item did not snapshot services: %v", it.Services)
	}
	if !it.Amount.Equal(d("7000")) || !it.CoveragePercentage.Equal(d("70")) {
		t.Errorf("item did not snapshot amounts: %+v", it)
	}
}

func TestGenerate_DedupesSelection(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	pi := env.patientInvoice(a.ID, "FAC-1", "2024-01-10", "7000")

	inv, err := env.svc.Generate(context.Background(),
		generateInput(a.ID, pi.PatientInvoiceID, pi.PatientInvoiceID, uuid.Nil))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if inv.TotalInvoices != 1 || !inv.TotalAmount.Equal(d("7000")) {
		t.Errorf("duplicate ids must count once, got %d / %s", inv.TotalInvoices, inv.TotalAmount)
	}
}

func TestGenerate_RejectsIneligibleAndAbortsBatch(t *testing.T) {
	other := uuid.New()
	tests := []struct {
		name  string
		setup func(c *ClaimCandidate)
	}{
		{"control visit", func(c *ClaimCandidate) { c.IsControl = true }},
		{"cancelled", func(c *ClaimCandidate) { c.Cancelled = true }},
		{"other insurer", func(c *ClaimCandidate) { c.CompanyID = &other }},
		{"uninsured", func(c *ClaimCandidate) { c.CompanyID = nil }},
		{"nothing covered", func(c *ClaimCandidate) { c.InsuranceCovered = decimal.Zero }},
		{"before period", func(c *ClaimCandidate) { c.InvoiceDate = day("2023-12-31") }},
		{"after period", func(c *ClaimCandidate) { c.InvoiceDate = day("2024-02-01") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv()
			a := env.company(t, "ASSUR-A", "70")
			good := env.patientInvoice(a.ID, "FAC-1", "2024-01-10", "7000")
			bad := env.patientInvoice(a.ID, "FAC-2", "2024-01-11", "3000")
			tt.setup(bad)

			_, err := env.svc.Generate(context.Background(), generateInput(a.ID, good.PatientInvoiceID, bad.PatientInvoiceID))
			if !errors.Is(err, ErrInvoiceNotClaimable) {
				t.Fatalf("expected ErrInvoiceNotClaimable, got %v", err)
			}
			if len(env.invoices.claimed) != 0 || len(env.invoices.invoices) != 0 {
				t.Error("a failed run must not claim anything")
			}
		})
	}
}

func TestGenerate_UnknownInvoice(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	if _, err := env.svc.Generate(context.Background(), generateInput(a.ID, uuid.New())); !errors.Is(err, ErrInvoiceNotClaimable) {
		t.Fatalf("expected ErrInvoiceNotClaimable, got %v", err)
	}
}

func TestGenerate_InputValidation(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	ctx := context.Background()

	if _, err := env.svc.Generate(ctx, generateInput(a.ID)); !errors.Is(err, ErrNoInvoicesSelected) {
		t.Errorf("empty selection: got %v", err)
	}
	in := generateInput(a.ID, uuid.New())
	in.PeriodStart, in.PeriodEnd = in.PeriodEnd, in.PeriodStart
	if _, err := env.svc.Generate(ctx, in); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("reversed period: got %v", err)
	}
	if _, err := env.svc.Generate(ctx, generateInput(uuid.New(), uuid.New())); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown company: got %v", err)
	}
	if _, err := env.svc.Generate(ctx, generateInput(uuid.Nil, uuid.New())); err == nil {
		t.Error("expected error for missing company")
	}
}

func TestGenerate_ConcurrentRunsNeverDoubleBill(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	var all []uuid.UUID
	for i := 0; i < 12; i++ {
		pi := env.patientInvoice(a.ID, fmt.Sprintf("FAC-%02d", i), "2024-01-10", "1000")
		all = append(all, pi.PatientInvoiceID)
	}

	// Every run selects an overlapping window of the same invoices.
	const runs = 8
	var wg sync.WaitGroup
	errs := make([]error, runs)
	for r := 0; r < runs; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			sel := all[r%4 : r%4+6]
			_, errs[r] = env.svc.Generate(context.Background(), generateInput(a.ID, sel...))
		}(r)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil && !errors.Is(err, ErrInvoiceAlreadyClaimed) {
			t.Errorf("unexpected error: %v", err)
		}
	}

	seen := map[uuid.UUID]uuid.UUID{}
	for _, inv := range env.invoices.invoices {
		sum := decimal.Zero
		for _, it := range inv.Items {
			if prev, ok := seen[it.PatientInvoiceID]; ok {
				t.Fatalf("patient invoice %s billed twice (%s and %s)", it.InvoiceNumber, prev, inv.ID)
			}
			seen[it.PatientInvoiceID] = inv.ID
			sum = sum.Add(it.Amount)
		}
		if !sum.Equal(inv.TotalAmount) || len(inv.Items) != inv.TotalInvoices {
			t.Errorf("invoice %s totals do not match its items", inv.InvoiceNumber)
		}
	}
	if len(env.invoices.invoices) == 0 {
		t.Fatal("expected at least one run to succeed")
	}
}

func TestListClaimable_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	if _, err := svc.ListClaimable(ctx, uuid.Nil, january); err == nil {
		t.Error("expected error for missing company")
	}
	if _, err := svc.ListClaimable(ctx, uuid.New(), Period{Start: january.End, End: january.Start}); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestCheckClaimable_SingleDayPeriod(t *testing.T) {
	companyID := uuid.New()
	c := &ClaimCandidate{CompanyID: &companyID}
	c.InsuranceCovered = d("10")
	c.InvoiceDate = time.Date(2024, 1, 31, 23, 59, 0, 0, time.UTC)
	if err := checkClaimable(c, companyID, Period{Start: day("2024-01-31"), End: day("2024-01-31")}); err != nil {
		t.Errorf("period end day must be inclusive: %v", err)
	}
}

// The store reports the invoice's calendar day; a bound carrying another
// zone is compared by its own calendar day, never shifted through UTC.
func TestCheckClaimable_StoreDayDecides(t *testing.T) {
	companyID := uuid.New()
	c := &ClaimCandidate{CompanyID: &companyID}
	c.InsuranceCovered = d("10")
	c.InvoiceNumber = "FAC-TZ"
	c.InvoiceDate = day("2024-02-01")

	lagos := time.FixedZone("WAT", 3600)
	february := Period{
		Start: time.Date(2024, 2, 1, 0, 0, 0, 0, lagos),
		End:   time.Date(2024, 2, 29, 0, 0, 0, 0, lagos),
	}
	if err := checkClaimable(c, companyID, february); err != nil {
		t.Errorf("February run must accept a 1 February invoice: %v", err)
	}
	if err := checkClaimable(c, companyID, january); !errors.Is(err, ErrInvoiceNotClaimable) {
		t.Errorf("January run must reject a 1 February invoice, got %v", err)
	}
}

// -- Status --

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv()
	a := env.company(t, "ASSUR-A", "70")
	pi := env.patientInvoice(a.ID, "FAC-1", "2024-01-10", "7000")
	ctx := context.Background()
	inv, err := env.svc.Generate(ctx, generateInput(a.ID, pi.PatientInvoiceID))
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, inv.ID, "ARCHIVED"); !errors.Is(err, ErrInvalidInsuranceStatus) {
		t.Fatalf("expected ErrInvalidInsuranceStatus, got %v", err)
	}

	sent, err := env.svc.UpdateStatus(ctx, inv.ID, StatusSent)
	if err != nil {
		t.Fatalf("UpdateStatus SENT: %v", err)
	}
	if sent.SentAt == nil || sent.PaidAt != nil {
		t.Errorf("SENT should stamp sent_at only: %+v", sent)
	}

	paid, err := env.svc.UpdateStatus(ctx, inv.ID, StatusPaid)
	if err != nil {
		t.Fatalf("UpdateStatus PAID: %v", err)
	}
	if paid.PaidAt == nil || !paid.SentAt.Equal(*sent.SentAt) {
		t.Errorf("PAID should stamp paid_at and keep sent_at: %+v", paid)
	}

	partial, err := env.svc.UpdateStatus(ctx, inv.ID, StatusPartial)
	if err != nil {
		t.Fatalf("UpdateStatus PARTIAL: %v", err)
	}
	if partial.PaidAt != nil {
		t.Error("PARTIAL must not carry paid_at")
	}

	draft, _ := env.svc.UpdateStatus(ctx, inv.ID, StatusDraft)
	if draft.SentAt != nil || draft.PaidAt != nil {
		t.Error("DRAFT clears settlement stamps")
	}

	if _, err := env.svc.UpdateStatus(ctx, uuid.New(), StatusSent); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListInvoices_RejectsUnknownStatus(t *testing.T) {
	svc := newTestService()
	st := InvoiceStatus("VOID")
	if _, _, err := svc.ListInvoices(context.Background(), InvoiceFilter{Status: &st}, 20, 0); !errors.Is(err, ErrInvalidInsuranceStatus) {
		t.Errorf("expected ErrInvalidInsuranceStatus, got %v", err)
	}
}

// -- Reference data --

func TestCreateCompany_Validation(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()
	tests := []struct {
		name string
		c    Company
		want error
	}{
		{"missing name", Company{Code: "A", DefaultCoveragePercentage: d("50")}, ErrValidation},
		{"missing code", Company{Name: "A", DefaultCoveragePercentage: d("50")}, ErrValidation},
		{"pct above 100", Company{Name: "A", Code: "A", DefaultCoveragePercentage: d("101")}, pricing.ErrInvalidCoverage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.CreateCompany(ctx, &tt.c)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	c := &Company{Name: " Assur Plus ", Code: "ap", DefaultCoveragePercentage: d("80")}
	if err := svc.CreateCompany(ctx, c); err != nil {
		t.Fatalf("CreateCompany: %v", err)
	}
	if c.Code != "AP" || c.Name != "Assur Plus" || !c.Active {
		t.Errorf("unexpected normalised company %+v", c)
	}
}

func TestCoverageRates(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.company(t, "ASSUR-A", "70")

	if err := env.svc.SetCoverageRate(ctx, &CoverageRate{CompanyID: a.ID, ServiceCode: "XRAY", CoveragePercentage: d("120")}); !errors.Is(err, pricing.ErrInvalidCoverage) {
		t.Errorf("expected ErrInvalidCoverage, got %v", err)
	}
	if err := env.svc.SetCoverageRate(ctx, &CoverageRate{CompanyID: uuid.New(), ServiceCode: "XRAY", CoveragePercentage: d("90")}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown company, got %v", err)
	}
	if err := env.svc.SetCoverageRate(ctx, &CoverageRate{CompanyID: a.ID, ServiceCode: "XRAY", CoveragePercentage: d("90")}); err != nil {
		t.Fatalf("SetCoverageRate: %v", err)
	}
	if err := env.svc.SetCoverageRate(ctx, &CoverageRate{CompanyID: a.ID, ServiceCode: "XRAY", CoveragePercentage: d("95")}); err != nil {
		t.Fatalf("SetCoverageRate update: %v", err)
	}
	rates, _ := env.svc.ListCoverageRates(ctx, a.ID)
	if len(rates) != 1 || !rates[0].CoveragePercentage.Equal(d("95")) {
		t.Errorf("expected one upserted rate at 95, got %+v", rates)
	}
	if err := env.svc.DeleteCoverageRate(ctx, a.ID, "XRAY"); err != nil {
		t.Fatalf("DeleteCoverageRate: %v", err)
	}
	if err := env.svc.DeleteCoverageRate(ctx, a.ID, "XRAY"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCoverageLookup_FeedsResolver(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.company(t, "ASSUR-A", "70")
	_ = env.svc.SetCoverageRate(ctx, &CoverageRate{CompanyID: a.ID, ServiceCode: "XRAY", CoveragePercentage: d("100")})
	r := pricing.NewResolver(env.svc.CoverageLookup())

	if res := r.Resolve(ctx, a.ID, "XRAY", nil); res.Source != pricing.SourceServiceRate || !res.Percentage.Equal(d("100")) {
		t.Errorf("unexpected resolution %+v", res)
	}
	if res := r.Resolve(ctx, a.ID, "CONS", nil); res.Source != pricing.SourceCompanyDefault || !res.Percentage.Equal(d("70")) {
		t.Errorf("unexpected resolution %+v", res)
	}

	a.Active = false
	if err := env.svc.UpdateCompany(ctx, a); err != nil {
		t.Fatalf("UpdateCompany: %v", err)
	}
	if res := r.Resolve(ctx, a.ID, "XRAY", nil); res.Source != pricing.SourceUninsured {
		t.Errorf("inactive company should resolve uninsured, got %+v", res)
	}
}

func TestPolicies(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	a := env.company(t, "ASSUR-A", "70")
	patient := uuid.New()
	from, to := day("2024-01-01"), day("2024-12-31")

	bad := []*PatientPolicy{
		{CompanyID: a.ID, PolicyNumber: "P1"},
		{PatientID: patient, CompanyID: a.ID},
		{PatientID: patient, CompanyID: uuid.New(), PolicyNumber: "P1"},
		{PatientID: patient, CompanyID: a.ID, PolicyNumber: "P1", ValidFrom: &to, ValidTo: &from},
	}
	for i, p := range bad {
		if err := env.svc.CreatePolicy(ctx, p); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}

	pct := d("85")
	p := &PatientPolicy{PatientID: patient, CompanyID: a.ID, PolicyNumber: " P-001 ", CoveragePercentage: &pct, ValidFrom: &from, ValidTo: &to}
	if err := env.svc.CreatePolicy(ctx, p); err != nil {
		t.Fatalf("CreatePolicy: %v", err)
	}
	if p.PolicyNumber != "P-001" || !p.Active {
		t.Errorf("unexpected policy %+v", p)
	}
	list, _ := env.svc.ListPolicies(ctx, patient)
	if len(list) != 1 {
		t.Fatalf("expected 1 policy, got %d", len(list))
	}
	if err := env.svc.DeactivatePolicy(ctx, p.ID); err != nil {
		t.Fatalf("DeactivatePolicy: %v", err)
	}
	got, _ := env.svc.GetPolicy(ctx, p.ID)
	if got.Active {
		t.Error("policy should be inactive")
	}
}

func TestPatientPolicy_CoversDate(t *testing.T) {
	from, to := day("2024-01-01"), day("2024-06-30")
	p := &PatientPolicy{Active: true, ValidFrom: &from, ValidTo: &to}

	tests := []struct {
		at   time.Time
		want bool
	}{
		{day("2023-12-31"), false},
		{day("2024-01-01"), true},
		{time.Date(2024, 6, 30, 18, 0, 0, 0, time.UTC), true},
		{day("2024-07-01"), false},
	}
	for _, tt := range tests {
		if got := p.CoversDate(tt.at); got != tt.want {
			t.Errorf("CoversDate(%s) = %v, want %v", tt.at, got, tt.want)
		}
	}

	open := &PatientPolicy{Active: true}
	if !open.CoversDate(day("2030-01-01")) {
		t.Error("policy without bounds covers any date")
	}
	open.Active = false
	if open.CoversDate(day("2030-01-01")) {
		t.Error("inactive policy covers nothing")
	}
}

package insurance

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/auth"
	"github.com/lebossseur/masterClinique-sub000/pkg/pagination"
)

const dateLayout = "2006-01-02"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/insurance")

	// Reference data is read at the front desk when admitting patients.
	read := g.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception, auth.RoleCashier))
	read.GET("/companies", h.ListCompanies)
	read.GET("/companies/:id", h.GetCompany)
	read.GET("/companies/:id/rates", h.ListRates)
	read.GET("/policies", h.ListPolicies)
	read.GET("/policies/:id", h.GetPolicy)

	reception := g.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception))
	reception.POST("/policies", h.CreatePolicy)
	reception.DELETE("/policies/:id", h.DeactivatePolicy)

	billing := g.Group("", auth.RequireRole(auth.RoleBilling))
	billing.POST("/companies", h.CreateCompany)
	billing.PUT("/companies/:id", h.UpdateCompany)
	billing.PUT("/companies/:id/rates/:code", h.SetRate)
	billing.DELETE("/companies/:id/rates/:code", h.DeleteRate)
	billing.GET("/invoices/available", h.ListAvailable)
	billing.POST("/invoices/generate", h.Generate)
	billing.GET("/invoices", h.ListInvoices)
	billing.GET("/invoices/:id", h.GetInvoice)
	billing.PUT("/invoices/:id/status", h.UpdateStatus)
	billing.GET("/invoices/:id/export", h.Export)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNoInvoicesSelected), errors.Is(err, ErrInvoiceAlreadyClaimed),
		errors.Is(err, ErrDuplicateCode):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvoiceNotClaimable), errors.Is(err, ErrInvalidInsuranceStatus),
		errors.Is(err, ErrInvalidPeriod), errors.Is(err, pricing.ErrInvalidCoverage):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

func parseDate(s, field string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, field+" must be YYYY-MM-DD")
	}
	return t, nil
}

// -- Companies --

func (h *Handler) CreateCompany(c echo.Context) error {
	var co Company
	if err := c.Bind(&co); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.CreateCompany(c.Request().Context(), &co); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, co)
}

func (h *Handler) GetCompany(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	co, err := h.svc.GetCompany(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, co)
}

func (h *Handler) UpdateCompany(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var co Company
	if err := c.Bind(&co); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	co.ID = id
	if err := h.svc.UpdateCompany(c.Request().Context(), &co); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, co)
}

func (h *Handler) ListCompanies(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCompanies(c.Request().Context(), c.QueryParam("active") == "true", pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// -- Coverage rates --

func (h *Handler) ListRates(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	items, err := h.svc.ListCoverageRates(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) SetRate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		CoveragePercentage *decimal.Decimal `json:"coverage_percentage"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.CoveragePercentage == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "coverage_percentage is required")
	}
	rate := &CoverageRate{CompanyID: id, ServiceCode: c.Param("code"), CoveragePercentage: *body.CoveragePercentage}
	if err := h.svc.SetCoverageRate(c.Request().Context(), rate); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, rate)
}

func (h *Handler) DeleteRate(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeleteCoverageRate(c.Request().Context(), id, c.Param("code")); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Policies --

type policyRequest struct {
	PatientID          uuid.UUID        `json:"patient_id"`
	CompanyID          uuid.UUID        `json:"insurance_company_id"`
	PolicyNumber       string           `json:"policy_number"`
	CoveragePercentage *decimal.Decimal `json:"coverage_percentage"`
	ValidFrom          string           `json:"valid_from"`
	ValidTo            string           `json:"valid_to"`
}

func (h *Handler) CreatePolicy(c echo.Context) error {
	var req policyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p := &PatientPolicy{
		PatientID:          req.PatientID,
		CompanyID:          req.CompanyID,
		PolicyNumber:       req.PolicyNumber,
		CoveragePercentage: req.CoveragePercentage,
	}
	if req.ValidFrom != "" {
		t, err := parseDate(req.ValidFrom, "valid_from")
		if err != nil {
			return err
		}
		p.ValidFrom = &t
	}
	if req.ValidTo != "" {
		t, err := parseDate(req.ValidTo, "valid_to")
		if err != nil {
			return err
		}
		p.ValidTo = &t
	}
	if err := h.svc.CreatePolicy(c.Request().Context(), p); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) GetPolicy(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	p, err := h.svc.GetPolicy(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListPolicies(c echo.Context) error {
	patientID, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	items, err := h.svc.ListPolicies(c.Request().Context(), patientID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) DeactivatePolicy(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	if err := h.svc.DeactivatePolicy(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Insurer invoices --

func (h *Handler) ListAvailable(c echo.Context) error {
	companyID, err := uuid.Parse(c.QueryParam("insurance_company_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid insurance_company_id")
	}
	start, err := parseDate(c.QueryParam("period_start"), "period_start")
	if err != nil {
		return err
	}
	end, err := parseDate(c.QueryParam("period_end"), "period_end")
	if err != nil {
		return err
	}
	items, err := h.svc.ListClaimable(c.Request().Context(), companyID, Period{Start: start, End: end})
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ClaimableInvoice{}
	}
	return c.JSON(http.StatusOK, items)
}

type generateRequest struct {
	CompanyID          uuid.UUID   `json:"insurance_company_id"`
	PeriodStart        string      `json:"period_start"`
	PeriodEnd          string      `json:"period_end"`
	SelectedInvoiceIDs []uuid.UUID `json:"selected_invoice_ids"`
	Notes              *string     `json:"notes"`
}

func (h *Handler) Generate(c echo.Context) error {
	var req generateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	start, err := parseDate(req.PeriodStart, "period_start")
	if err != nil {
		return err
	}
	end, err := parseDate(req.PeriodEnd, "period_end")
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	inv, err := h.svc.Generate(ctx, GenerateInput{
		CompanyID:          req.CompanyID,
		PeriodStart:        start,
		PeriodEnd:          end,
		SelectedInvoiceIDs: req.SelectedInvoiceIDs,
		Notes:              req.Notes,
		CreatedBy:          auth.UserIDFromContext(ctx),
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, inv)
}

func (h *Handler) ListInvoices(c echo.Context) error {
	var f InvoiceFilter
	if v := c.QueryParam("insurance_company_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid insurance_company_id")
		}
		f.CompanyID = &id
	}
	if v := c.QueryParam("status"); v != "" {
		st := InvoiceStatus(v)
		f.Status = &st
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	var body struct {
		Status InvoiceStatus `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.UpdateStatus(c.Request().Context(), id, body.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) Export(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return err
	}
	data, name, err := h.svc.ExportInvoiceXLSX(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

package pricing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/lebossseur/masterClinique-sub000/internal/platform/auth"
)

type Handler struct {
	calc     *Calculator
	resolver *Resolver
	prices   PriceTable
}

func NewHandler(calc *Calculator, resolver *Resolver, prices PriceTable) *Handler {
	return &Handler{calc: calc, resolver: resolver, prices: prices}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pricing", auth.RequireRole(auth.RoleBilling, auth.RoleCashier, auth.RoleReception))
	g.POST("/calculate", h.Calculate)
	g.GET("/coverage-rate", h.CoverageRate)
	g.GET("/services/:code", h.GetService)
}

// CalculateRequest prices one service. When coverage_rate is omitted it is
// resolved from insurance_company_id, and an uninsured visit pays in full.
type CalculateRequest struct {
	ServiceCode        string           `json:"service_code"`
	CoverageRate       *decimal.Decimal `json:"coverage_rate"`
	InsuranceCompanyID *uuid.UUID       `json:"insurance_company_id"`
	BasePrice          *decimal.Decimal `json:"base_price"`
}

type CalculateResponse struct {
	*Quote
	Source Source `json:"source"`
}

func (h *Handler) Calculate(c echo.Context) error {
	var req CalculateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ServiceCode == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "service_code is required")
	}

	ctx := c.Request().Context()
	res := Uninsured
	switch {
	case req.CoverageRate != nil:
		res = Resolution{Percentage: *req.CoverageRate, Source: SourcePolicy}
	case req.InsuranceCompanyID != nil:
		res = h.resolver.Resolve(ctx, *req.InsuranceCompanyID, req.ServiceCode, nil)
	}

	q, err := h.calc.Quote(ctx, req.ServiceCode, res.Percentage, req.BasePrice)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, CalculateResponse{Quote: q, Source: res.Source})
}

func (h *Handler) CoverageRate(c echo.Context) error {
	companyID, err := uuid.Parse(c.QueryParam("insurance_company_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid insurance_company_id")
	}
	res := h.resolver.Resolve(c.Request().Context(), companyID, c.QueryParam("service_code"), nil)
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetService(c echo.Context) error {
	sp, err := h.prices.Lookup(c.Request().Context(), c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sp)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownService):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidCoverage), errors.Is(err, ErrInvalidPrice), errors.Is(err, ErrMissingService):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

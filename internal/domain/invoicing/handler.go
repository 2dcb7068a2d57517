package invoicing

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lebossseur/masterClinique-sub000/internal/domain/pricing"
	"github.com/lebossseur/masterClinique-sub000/internal/platform/auth"
	"github.com/lebossseur/masterClinique-sub000/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	front := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception))
	front.POST("/admissions", h.CreateAdmission)
	front.PUT("/admissions/:id/control", h.SetControl)

	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleReception, auth.RoleCashier))
	read.GET("/admissions/:id", h.GetAdmission)
	read.GET("/invoices", h.ListInvoices)
	read.GET("/invoices/:id", h.GetInvoice)
	read.GET("/invoices/:id/payments", h.ListPayments)

	cash := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleCashier))
	cash.POST("/invoices/:id/payments", h.RecordPayment)

	billing := api.Group("", auth.RequireRole(auth.RoleBilling))
	billing.POST("/invoices/:id/cancel", h.CancelInvoice)
	billing.POST("/invoices/:id/recompute", h.RecomputeStatus)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvoiceCancelled), errors.Is(err, ErrInvoiceClaimed):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrStatusDerivation):
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	case errors.Is(err, ErrValidation), errors.Is(err, ErrInvalidPayment), errors.Is(err, ErrInvalidPolicy),
		errors.Is(err, pricing.ErrInvalidCoverage), errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrUnknownService), errors.Is(err, pricing.ErrMissingService):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// -- Admissions --

func (h *Handler) CreateAdmission(c echo.Context) error {
	var in AdmissionInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	in.CreatedBy = auth.UserIDFromContext(ctx)
	a, err := h.svc.CreateAdmission(ctx, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAdmission(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAdmission(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) SetControl(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		IsControl *bool `json:"is_control"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.IsControl == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "is_control is required")
	}
	a, err := h.svc.SetControl(c.Request().Context(), id, *body.IsControl)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

// -- Invoices --

func (h *Handler) ListInvoices(c echo.Context) error {
	var f InvoiceFilter
	if v := c.QueryParam("status"); v != "" {
		st := Status(v)
		f.Status = &st
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListInvoices(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.GetInvoice(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) CancelInvoice(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	inv, err := h.svc.CancelInvoice(c.Request().Context(), id, body.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

func (h *Handler) RecomputeStatus(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.RecomputeStatus(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, inv)
}

// -- Payments --

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	var in PaymentInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	in.ReceivedBy = auth.UserIDFromContext(ctx)
	receipt, err := h.svc.RecordPayment(ctx, id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, receipt)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := parseID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListPayments(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*Payment{}
	}
	return c.JSON(http.StatusOK, items)
}

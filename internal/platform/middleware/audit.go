package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/lebossseur/masterClinique-sub000/internal/platform/auth"
)

// AuditEntry records one billing mutation.
type AuditEntry struct {
	UserID     string
	UserRoles  []string
	Entity     string
	EntityID   string
	Method     string
	Path       string
	StatusCode int
	RequestID  string
	RemoteIP   string
	Timestamp  time.Time
}

// AuditRecorder persists audit entries. Entries are always logged as well.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit logs every state-changing request under /api/v1/: payments,
// cancellations, insurer invoice generation and status changes. Reads are
// not audited.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isMutation(req.Method) || !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			entry := AuditEntry{
				UserID:     auth.UserIDFromContext(req.Context()),
				UserRoles:  auth.RolesFromContext(req.Context()),
				Method:     req.Method,
				Path:       req.URL.Path,
				StatusCode: status,
				RemoteIP:   c.RealIP(),
				Timestamp:  time.Now().UTC(),
			}
			entry.RequestID, _ = c.Get("request_id").(string)
			entry.Entity, entry.EntityID = auditTarget(req.URL.Path)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).Str("request_id", entry.RequestID).Msg("failed to record audit entry")
				}
			}

			logger.Info().
				Str("type", "billing_audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("entity", entry.Entity).
				Str("entity_id", entry.EntityID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Int("status", entry.StatusCode).
				Msg("billing_mutation")

			return err
		}
	}
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// auditTarget returns the entity and id named by an API path:
// /api/v1/invoices/<id>/payments -> (invoices, <id>),
// /api/v1/insurance/invoices/generate -> (insurance/invoices, "").
func auditTarget(path string) (entity, id string) {
	segs := strings.Split(strings.Trim(strings.TrimPrefix(path, "/api/v1/"), "/"), "/")
	if segs[0] == "" {
		return "unknown", ""
	}
	n := 1
	if segs[0] == "insurance" && len(segs) > 1 {
		n = 2
	}
	entity = strings.Join(segs[:n], "/")
	if len(segs) > n {
		if _, err := uuid.Parse(segs[n]); err == nil {
			id = segs[n]
		}
	}
	return entity, id
}

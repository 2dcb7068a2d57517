package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// Health is the body of GET /health/db.
type Health struct {
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	ClinicSchema      string     `json:"clinic_schema"`
	PendingMigrations []string   `json:"pending_migrations,omitempty"`
	Pool              *PoolStats `json:"pool"`
}

// PoolStats is the JSON view of pgxpool statistics.
type PoolStats struct {
	TotalConns    int32  `json:"total_conns"`
	IdleConns     int32  `json:"idle_conns"`
	AcquiredConns int32  `json:"acquired_conns"`
	MaxConns      int32  `json:"max_conns"`
	AcquireTime   string `json:"acquire_duration"`
}

func poolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:    stat.TotalConns(),
		IdleConns:     stat.IdleConns(),
		AcquiredConns: stat.AcquiredConns(),
		MaxConns:      stat.MaxConns(),
		AcquireTime:   stat.AcquireDuration().String(),
	}
}

// assess turns the check results into a status and HTTP code. A clinic
// schema behind on migrations cannot serve billing writes, so it fails the
// check as well.
func assess(h *Health, pingErr, migrateErr error, pending []Migration) int {
	switch {
	case pingErr != nil:
		h.Status, h.Error = "unhealthy", pingErr.Error()
		return http.StatusServiceUnavailable
	case migrateErr != nil:
		h.Status, h.Error = "unhealthy", migrateErr.Error()
		return http.StatusServiceUnavailable
	case len(pending) > 0:
		h.Status = "migrations_pending"
		for _, m := range pending {
			h.PendingMigrations = append(h.PendingMigrations, m.Name)
		}
		return http.StatusServiceUnavailable
	}
	h.Status = "healthy"
	return http.StatusOK
}

// HealthHandler pings the database and checks that the default clinic
// schema carries every migration in the migrator's directory.
func HealthHandler(pool *pgxpool.Pool, migrator *Migrator, defaultTenant string) echo.HandlerFunc {
	schema := SchemaName(defaultTenant)
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
		defer cancel()

		h := &Health{ClinicSchema: schema, Pool: poolStats(pool)}
		var (
			pending    []Migration
			migrateErr error
		)
		pingErr := pool.Ping(ctx)
		if pingErr == nil {
			pending, migrateErr = migrator.Pending(ctx, schema)
		}
		return c.JSON(assess(h, pingErr, migrateErr, pending), h)
	}
}

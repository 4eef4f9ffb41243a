package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireCount    int64  `json:"acquire_count"`
	AcquireDuration string `json:"acquire_duration"`
	Healthy         bool   `json:"healthy"`
}

// GetPoolStats returns connection pool statistics.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		TotalConns:      stat.TotalConns(),
		IdleConns:       stat.IdleConns(),
		AcquiredConns:   stat.AcquiredConns(),
		MaxConns:        stat.MaxConns(),
		AcquireCount:    stat.AcquireCount(),
		AcquireDuration: stat.AcquireDuration().String(),
		Healthy:         stat.TotalConns() > 0,
	}
}

// HealthCheck returns nil when a dependency answers.
type HealthCheck func(ctx context.Context) error

// SchemaVersioner reports how far a tenant schema is migrated. *Migrator
// satisfies it.
type SchemaVersioner interface {
	Version(ctx context.Context, schema string) (SchemaVersion, error)
}

// HealthConfig wires the /health/db endpoint. Ping is required; the rest
// is reported when set.
type HealthConfig struct {
	Ping          HealthCheck
	Stats         func() *PoolStats
	Dependencies  map[string]HealthCheck
	Schemas       SchemaVersioner
	DefaultTenant string
	Timeout       time.Duration
}

// PoolHealth is a HealthConfig that pings pool and reports its stats.
func PoolHealth(pool *pgxpool.Pool) HealthConfig {
	return HealthConfig{
		Ping:  pool.Ping,
		Stats: func() *PoolStats { return GetPoolStats(pool) },
	}
}

// HealthHandler answers 503 when postgres or any dependency fails. A tenant
// schema behind the shipped migrations is reported as degraded with 200.
func HealthHandler(cfg HealthConfig) echo.HandlerFunc {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		status, code := "healthy", http.StatusOK
		body := map[string]interface{}{}

		var stats *PoolStats
		if cfg.Stats != nil {
			stats = cfg.Stats()
			body["pool"] = stats
		}
		if err := cfg.Ping(ctx); err != nil {
			status, code = "unhealthy", http.StatusServiceUnavailable
			body["error"] = err.Error()
			if stats != nil {
				stats.Healthy = false
			}
		}

		if len(cfg.Dependencies) > 0 {
			deps := make(map[string]string, len(cfg.Dependencies))
			for name, check := range cfg.Dependencies {
				if err := check(ctx); err != nil {
					deps[name] = err.Error()
					status, code = "unhealthy", http.StatusServiceUnavailable
					continue
				}
				deps[name] = "ok"
			}
			body["dependencies"] = deps
		}

		if cfg.Schemas != nil && code == http.StatusOK {
			tenantID := extractTenantID(c, cfg.DefaultTenant)
			if !tenantIDPattern.MatchString(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}
			v, err := cfg.Schemas.Version(ctx, SchemaName(tenantID))
			switch {
			case err != nil:
				status = "degraded"
				body["schema"] = map[string]string{"schema": SchemaName(tenantID), "error": err.Error()}
			case !v.Current():
				status = "degraded"
				body["schema"] = v
			default:
				body["schema"] = v
			}
		}

		body["status"] = status
		return c.JSON(code, body)
	}
}

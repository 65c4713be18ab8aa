package db

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

const healthTimeout = 3 * time.Second

// SchemaHealth is the body of /health/db.
type SchemaHealth struct {
	Status          string `json:"status"`
	Reachable       bool   `json:"reachable"`
	Latency         string `json:"latency,omitempty"`
	Schema          string `json:"schema"`
	PendingVersions []int  `json:"pending_versions"`
	TotalConns      int32  `json:"total_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
}

// Pending returns the versions embedded in the binary that the schema has
// not applied yet, in order.
func (m *Migrator) Pending(ctx context.Context, schema string) ([]int, error) {
	if err := validSchema(schema); err != nil {
		return nil, err
	}
	all, err := m.LoadMigrations()
	if err != nil {
		return nil, err
	}
	applied, err := m.appliedAt(ctx, schema)
	if err != nil {
		return nil, err
	}
	pending := []int{}
	for _, mig := range all {
		if _, ok := applied[mig.Version]; !ok {
			pending = append(pending, mig.Version)
		}
	}
	return pending, nil
}

// HealthHandler answers 200 only when the database responds and the schema
// carries every migration this binary expects. The verify endpoint calls
// verify_shared_profile_access, so a schema that is behind is unhealthy.
// Database errors go to the log, never to the caller.
func HealthHandler(m *Migrator, schema string) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		stat := m.pool.Stat()
		body := SchemaHealth{
			Status:        "unhealthy",
			Schema:        schema,
			TotalConns:    stat.TotalConns(),
			AcquiredConns: stat.AcquiredConns(),
			MaxConns:      stat.MaxConns(),
		}

		start := time.Now()
		if err := m.pool.Ping(ctx); err != nil {
			c.Logger().Errorf("database ping failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body.Reachable = true
		body.Latency = time.Since(start).String()

		pending, err := m.Pending(ctx, schema)
		if err != nil {
			c.Logger().Errorf("reading schema version failed: %v", err)
			return c.JSON(http.StatusServiceUnavailable, body)
		}
		body.PendingVersions = pending
		if len(pending) > 0 {
			return c.JSON(http.StatusServiceUnavailable, body)
		}

		body.Status = "healthy"
		return c.JSON(http.StatusOK, body)
	}
}

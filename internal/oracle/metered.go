package oracle

import (
	"context"
	"database/sql"
	"time"

	"github.com/neboloop/ouro/internal/metrics"
)

// Pricing is USD per million tokens.
type Pricing struct {
	Input  float64
	Output float64
}

// Cost prices a usage record.
func (p Pricing) Cost(u Usage) float64 {
	return (float64(u.TokensIn)*p.Input + float64(u.TokensOut)*p.Output) / 1e6
}

// Metered wraps an Oracle with cost calculation, usage rows and metrics.
type Metered struct {
	inner   Oracle
	pricing Pricing
	db      *sql.DB
}

// NewMetered wraps inner. db may be nil to skip persistence.
func NewMetered(inner Oracle, pricing Pricing, db *sql.DB) *Metered {
	return &Metered{inner: inner, pricing: pricing, db: db}
}

// ID returns the wrapped provider's identifier
func (m *Metered) ID() string {
	return m.inner.ID()
}

// Complete delegates and records usage.
func (m *Metered) Complete(ctx context.Context, req *Request) (*Response, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = "turn"
	}

	start := time.Now()
	resp, err := m.inner.Complete(ctx, req)
	metrics.OracleLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleCalls.WithLabelValues(purpose, "error").Inc()
		return nil, err
	}
	metrics.OracleCalls.WithLabelValues(purpose, "ok").Inc()
	metrics.OracleTokens.WithLabelValues("in").Add(float64(resp.Usage.TokensIn))
	metrics.OracleTokens.WithLabelValues("out").Add(float64(resp.Usage.TokensOut))

	if resp.Usage.Cost == 0 {
		resp.Usage.Cost = m.pricing.Cost(resp.Usage)
	}
	if m.db != nil {
		_, _ = m.db.ExecContext(ctx,
			`INSERT INTO oracle_usage (model, purpose, tokens_in, tokens_out, cost) VALUES (?, ?, ?, ?, ?)`,
			resp.Model, purpose, resp.Usage.TokensIn, resp.Usage.TokensOut, resp.Usage.Cost)
	}
	return resp, nil
}

// Totals summarizes recorded usage.
type Totals struct {
	Calls     int
	TokensIn  int
	TokensOut int
	Cost      float64
}

// UsageSince sums usage rows created at or after since.
func UsageSince(ctx context.Context, db *sql.DB, since time.Time) (Totals, error) {
	var t Totals
	if db == nil {
		return t, nil
	}
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(tokens_in), 0), COALESCE(SUM(tokens_out), 0), COALESCE(SUM(cost), 0)
		 FROM oracle_usage WHERE created_at >= ?`,
		since.UTC().Format("2006-01-02 15:04:05"),
	).Scan(&t.Calls, &t.TokensIn, &t.TokensOut, &t.Cost)
	return t, err
}

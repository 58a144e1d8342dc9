// Package database is the optional persistence sink for usage metrics and
// test results. The in-process meter stays authoritative; this layer only
// snapshots it for historical aggregation across runs.
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"proxybroker/pkg/meter"
	"proxybroker/pkg/models"
	"proxybroker/pkg/tester"
)

type DB struct {
	*bun.DB
}

func NewDB() (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the usage and test-result tables if they don't exist.
func (db *DB) InitSchema(ctx context.Context) error {
	for _, model := range []interface{}{
		(*models.UsageRecord)(nil),
		(*models.TestRecord)(nil),
	} {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %v", err)
		}
	}
	return nil
}

// SaveUsage upserts a snapshot of the meter's per-endpoint metrics.
func (db *DB) SaveUsage(ctx context.Context, snapshots map[string]meter.EndpointMetrics) error {
	for _, m := range snapshots {
		rec := &models.UsageRecord{
			EndpointKey:   m.EndpointKey,
			Provider:      m.Provider,
			Host:          m.Host,
			Port:          m.Port,
			Session:       m.Session,
			ProxyType:     string(m.ProxyType),
			Region:        m.Region,
			Purpose:       m.Purpose,
			RequestsCount: m.RequestsCount,
			SuccessCount:  m.SuccessCount,
			FailureCount:  m.FailureCount,
			BytesSent:     m.BytesSent,
			BytesReceived: m.BytesReceived,
			CostEstimate:  m.CostEstimate,
			Active:        m.Active,
			FirstSeen:     m.FirstSeen,
			LastSeen:      m.LastSeen,
		}

		_, err := db.NewInsert().
			Model(rec).
			On("CONFLICT (endpoint_key) DO UPDATE").
			Set("requests_count = EXCLUDED.requests_count").
			Set("success_count = EXCLUDED.success_count").
			Set("failure_count = EXCLUDED.failure_count").
			Set("bytes_sent = EXCLUDED.bytes_sent").
			Set("bytes_received = EXCLUDED.bytes_received").
			Set("cost_estimate = EXCLUDED.cost_estimate").
			Set("active = EXCLUDED.active").
			Set("last_seen = EXCLUDED.last_seen").
			Set("updated_at = CURRENT_TIMESTAMP").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("error upserting usage record: %v", err)
		}
	}
	return nil
}

// SaveTestResults appends one row per test outcome.
func (db *DB) SaveTestResults(ctx context.Context, results []tester.TestResult) error {
	if len(results) == 0 {
		return nil
	}

	recs := make([]models.TestRecord, 0, len(results))
	for _, r := range results {
		recs = append(recs, models.TestRecord{
			EndpointKey:    r.Endpoint.Key(),
			Provider:       r.Endpoint.Provider,
			Host:           r.Endpoint.Host,
			Port:           r.Endpoint.Port,
			Success:        r.Success,
			ResponseTimeMs: r.ResponseTimeMs,
			ResponseIP:     r.ResponseIP,
			ErrorKind:      string(r.ErrorKind),
			ErrorMsg:       r.Error,
			TestURL:        r.TestURL,
			TestedAt:       r.Timestamp,
		})
	}

	if _, err := db.NewInsert().Model(&recs).Exec(ctx); err != nil {
		return fmt.Errorf("error inserting test records: %v", err)
	}
	return nil
}

// UsageHistory returns the persisted usage rows, optionally filtered by
// provider name.
func (db *DB) UsageHistory(ctx context.Context, provider string) ([]models.UsageRecord, error) {
	var records []models.UsageRecord
	q := db.NewSelect().Model(&records)
	if provider != "" {
		q = q.Where("provider = ?", provider)
	}
	if err := q.Order("last_seen DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("error getting usage history: %v", err)
	}
	return records, nil
}

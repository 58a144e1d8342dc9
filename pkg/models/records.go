package models

import (
	"time"

	"github.com/uptrace/bun"
)

// UsageRecord is a persisted snapshot of one endpoint's usage metrics.
// Written by the optional database sink; the in-process meter remains the
// authoritative ledger.
type UsageRecord struct {
	bun.BaseModel `bun:"table:proxy_usage,alias:pu"`

	EndpointKey   string    `bun:",pk"`
	Provider      string    `bun:",notnull"`
	Host          string    `bun:",notnull"`
	Port          int       `bun:",notnull"`
	Session       string
	ProxyType     string
	Region        string
	Purpose       string
	RequestsCount int64     `bun:",notnull,default:0"`
	SuccessCount  int64     `bun:",notnull,default:0"`
	FailureCount  int64     `bun:",notnull,default:0"`
	BytesSent     int64     `bun:",notnull,default:0"`
	BytesReceived int64     `bun:",notnull,default:0"`
	CostEstimate  float64   `bun:",notnull,default:0"`
	Active        bool      `bun:",notnull,default:false"`
	FirstSeen     time.Time `bun:",nullzero"`
	LastSeen      time.Time `bun:",nullzero"`
	CreatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// TestRecord stores the outcome of a single endpoint health test.
type TestRecord struct {
	bun.BaseModel `bun:"table:proxy_tests,alias:pt"`

	ID             int64     `bun:",pk,autoincrement"`
	EndpointKey    string    `bun:",notnull"`
	Provider       string    `bun:",notnull"`
	Host           string    `bun:",notnull"`
	Port           int       `bun:",notnull"`
	Success        bool      `bun:",notnull"`
	ResponseTimeMs float64
	ResponseIP     string
	ErrorKind      string
	ErrorMsg       string
	TestURL        string
	TestedAt       time.Time `bun:",notnull"`
}

// Package meter tracks proxy usage per endpoint: request counts, bandwidth
// and derived cost. Entries are keyed by endpoint identity and retained for
// the process lifetime so historical aggregation stays possible after
// release.
package meter

import (
	"log/slog"
	"sync"
	"time"

	"proxybroker/pkg/metrics"
	"proxybroker/pkg/models"
)

const bytesPerGB = 1 << 30

// EndpointMetrics is a point-in-time snapshot of one endpoint's usage.
type EndpointMetrics struct {
	EndpointKey   string
	Provider      string
	Host          string
	Port          int
	Session       string
	ProxyType     models.ProxyType
	Region        string
	Purpose       string
	RequestsCount int64
	SuccessCount  int64
	FailureCount  int64
	BytesSent     int64
	BytesReceived int64
	CostEstimate  float64
	Active        bool
	ReleaseReason string
	FirstSeen     time.Time
	LastSeen      time.Time
}

// TotalBytes is the sum of bytes sent and received.
func (m EndpointMetrics) TotalBytes() int64 {
	return m.BytesSent + m.BytesReceived
}

// TotalGB is the total transfer in gigabytes.
func (m EndpointMetrics) TotalGB() float64 {
	return float64(m.TotalBytes()) / bytesPerGB
}

// SuccessRate is the share of successful requests as a percentage.
func (m EndpointMetrics) SuccessRate() float64 {
	if m.RequestsCount == 0 {
		return 0
	}
	return float64(m.SuccessCount) / float64(m.RequestsCount) * 100
}

type entry struct {
	mu         sync.Mutex
	snap       EndpointMetrics
	acquiredAt time.Time
}

// Meter is the usage ledger. Only the meter mutates its entries; all
// accessors hand out copies.
type Meter struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	prices    map[string]float64
	logger    *slog.Logger
	collector *metrics.Collector
}

// New creates an empty meter. The collector may be nil.
func New(logger *slog.Logger, collector *metrics.Collector) *Meter {
	return &Meter{
		entries:   make(map[string]*entry),
		prices:    make(map[string]float64),
		logger:    logger,
		collector: collector,
	}
}

// RegisterProviderPrice records a provider's bandwidth price so request
// costs can be derived with that provider's own rate.
func (m *Meter) RegisterProviderPrice(provider string, pricePerGB float64) {
	m.mu.Lock()
	m.prices[provider] = pricePerGB
	m.mu.Unlock()
	m.logger.Debug("registered provider price", "provider", provider, "price_per_gb", pricePerGB)
}

func (m *Meter) priceFor(provider string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prices[provider]
}

// getOrCreate returns the ledger entry for an endpoint, creating it with
// first-seen metadata on the first acquisition.
func (m *Meter) getOrCreate(ep models.Endpoint, purpose string) *entry {
	key := ep.Key()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if ok {
		return e
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[key]; ok {
		return e
	}

	now := time.Now()
	e = &entry{snap: EndpointMetrics{
		EndpointKey: key,
		Provider:    ep.Provider,
		Host:        ep.Host,
		Port:        ep.Port,
		Session:     ep.Session,
		ProxyType:   ep.ProxyType,
		Region:      ep.Region,
		Purpose:     purpose,
		FirstSeen:   now,
		LastSeen:    now,
	}}
	m.entries[key] = e

	m.logger.Info("new endpoint metered",
		"provider", ep.Provider,
		"host", ep.Host,
		"port", ep.Port,
		"session", ep.Session,
		"region", ep.Region)

	return e
}

// RecordAcquire marks the endpoint active and stamps purpose and
// first-seen time on its first appearance.
func (m *Meter) RecordAcquire(ep models.Endpoint, purpose string) {
	e := m.getOrCreate(ep, purpose)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.snap.Active = true
	e.snap.ReleaseReason = ""
	if purpose != "" {
		e.snap.Purpose = purpose
	}
	e.acquiredAt = time.Now()
	e.snap.LastSeen = e.acquiredAt
}

// RecordRequest accumulates one request's transfer volume and outcome and
// recomputes the endpoint's cost estimate from its running totals using
// the owning provider's price.
func (m *Meter) RecordRequest(ep models.Endpoint, bytesSent, bytesReceived int64, success bool) {
	e := m.getOrCreate(ep, "")
	price := m.priceFor(ep.Provider)

	e.mu.Lock()
	e.snap.RequestsCount++
	if success {
		e.snap.SuccessCount++
	} else {
		e.snap.FailureCount++
	}
	e.snap.BytesSent += bytesSent
	e.snap.BytesReceived += bytesReceived
	e.snap.LastSeen = time.Now()
	e.snap.CostEstimate = float64(e.snap.BytesSent+e.snap.BytesReceived) / bytesPerGB * price
	snap := e.snap
	e.mu.Unlock()

	if !success {
		m.logger.Warn("proxy request failed",
			"provider", snap.Provider,
			"host", snap.Host,
			"port", snap.Port,
			"failures", snap.FailureCount,
			"requests", snap.RequestsCount)
	}

	m.collector.RecordRequest(snap.Provider, success, bytesSent, bytesReceived)
	m.collector.SetCostEstimate(snap.Provider, m.providerCost(snap.Provider))
}

// RecordRelease marks the endpoint inactive; the entry is retained.
func (m *Meter) RecordRelease(ep models.Endpoint, reason string) {
	key := ep.Key()

	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		m.logger.Warn("release recorded for unknown endpoint", "key", key, "reason", reason)
		return
	}

	e.mu.Lock()
	e.snap.Active = false
	if reason != "" {
		e.snap.ReleaseReason = reason
	}
	e.snap.LastSeen = time.Now()
	held := time.Duration(0)
	if !e.acquiredAt.IsZero() {
		held = time.Since(e.acquiredAt)
	}
	snap := e.snap
	e.mu.Unlock()

	m.logger.Info("endpoint released",
		"provider", snap.Provider,
		"host", snap.Host,
		"port", snap.Port,
		"session", snap.Session,
		"reason", orNormal(reason),
		"held", held,
		"requests", snap.RequestsCount)
}

// GetMetrics returns snapshots of all entries, optionally filtered by
// provider name (empty selects all).
func (m *Meter) GetMetrics(provider string) map[string]EndpointMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]EndpointMetrics, len(m.entries))
	for key, e := range m.entries {
		e.mu.Lock()
		snap := e.snap
		e.mu.Unlock()
		if provider != "" && snap.Provider != provider {
			continue
		}
		out[key] = snap
	}
	return out
}

// ProviderUsage aggregates usage for a single provider.
type ProviderUsage struct {
	Endpoints    int
	Requests     int64
	Bytes        int64
	Failures     int64
	CostEstimate float64
}

// Summary aggregates usage across all retained entries. The total cost is
// the sum of each endpoint's own cost estimate, since providers price
// bandwidth differently.
type Summary struct {
	TotalEndpoints     int
	TotalRequests      int64
	TotalBytes         int64
	TotalGB            float64
	TotalFailures      int64
	OverallSuccessRate float64
	TotalCostEstimate  float64
	ByProvider         map[string]ProviderUsage
}

func (m *Meter) Summary() Summary {
	all := m.GetMetrics("")

	s := Summary{
		TotalEndpoints: len(all),
		ByProvider:     make(map[string]ProviderUsage),
	}
	for _, em := range all {
		s.TotalRequests += em.RequestsCount
		s.TotalBytes += em.TotalBytes()
		s.TotalFailures += em.FailureCount
		s.TotalCostEstimate += em.CostEstimate

		p := s.ByProvider[em.Provider]
		p.Endpoints++
		p.Requests += em.RequestsCount
		p.Bytes += em.TotalBytes()
		p.Failures += em.FailureCount
		p.CostEstimate += em.CostEstimate
		s.ByProvider[em.Provider] = p
	}

	s.TotalGB = float64(s.TotalBytes) / bytesPerGB
	if s.TotalRequests > 0 {
		s.OverallSuccessRate = float64(s.TotalRequests-s.TotalFailures) / float64(s.TotalRequests) * 100
	}
	return s
}

func (m *Meter) providerCost(provider string) float64 {
	var total float64
	for _, em := range m.GetMetrics(provider) {
		total += em.CostEstimate
	}
	return total
}

func orNormal(reason string) string {
	if reason == "" {
		return "normal"
	}
	return reason
}

// Package manager orchestrates provider selection and admission control.
// A Manager owns an explicit provider map tied to its caller's lifetime;
// there is no process-wide registry.
package manager

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"proxybroker/pkg/meter"
	"proxybroker/pkg/metrics"
	"proxybroker/pkg/models"
	"proxybroker/pkg/provider"
)

var (
	// ErrConcurrencyLimit is returned when the requested provider is
	// already at its concurrency limit.
	ErrConcurrencyLimit = errors.New("provider concurrency limit reached")

	// ErrNoProviderAvailable is returned when auto-selection found no
	// provider with spare capacity.
	ErrNoProviderAvailable = errors.New("no proxy provider available")

	// ErrUnknownProvider is returned for acquire/release against a
	// provider name that was never configured.
	ErrUnknownProvider = errors.New("unknown proxy provider")
)

// managed pairs a provider instance with its admission state. Each provider
// has its own lock so unrelated providers never contend.
type managed struct {
	provider provider.Provider
	cfg      models.ProviderConfig

	mu     sync.Mutex
	active int
}

// tryAcquire reserves one slot. The capacity check and increment happen
// atomically under the provider's lock; on exhaustion nothing is mutated.
func (mp *managed) tryAcquire() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.cfg.ConcurrencyLimit > 0 && mp.active >= mp.cfg.ConcurrencyLimit {
		return fmt.Errorf("%w: %s (%d/%d)", ErrConcurrencyLimit, mp.cfg.Name, mp.active, mp.cfg.ConcurrencyLimit)
	}
	mp.active++
	return nil
}

func (mp *managed) undoAcquire() {
	mp.mu.Lock()
	mp.active--
	mp.mu.Unlock()
}

// releaseSlot decrements the active count, floored at zero. Reports whether
// this was a double release.
func (mp *managed) releaseSlot() (active int, double bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.active == 0 {
		return 0, true
	}
	mp.active--
	return mp.active, false
}

func (mp *managed) activeCount() int {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.active
}

// Manager selects providers, enforces per-provider concurrency limits and
// forwards lifecycle events to the meter.
type Manager struct {
	order     []*managed // config declaration order, for deterministic ties
	byName    map[string]*managed
	meter     *meter.Meter
	logger    *slog.Logger
	collector *metrics.Collector
}

// Options tunes optional manager behavior.
type Options struct {
	// EnableMetering attaches a usage ledger to the manager.
	EnableMetering bool
	// Collector receives Prometheus instrumentation; may be nil.
	Collector *metrics.Collector
}

// New builds providers from the ordered config list. Provider construction
// errors and duplicate names fail fast.
func New(configs []models.ProviderConfig, logger *slog.Logger, opts Options) (*Manager, error) {
	m := &Manager{
		byName:    make(map[string]*managed, len(configs)),
		logger:    logger,
		collector: opts.Collector,
	}
	if opts.EnableMetering {
		m.meter = meter.New(logger, opts.Collector)
	}

	for _, cfg := range configs {
		if _, ok := m.byName[cfg.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate provider name %q", provider.ErrConfiguration, cfg.Name)
		}
		p, err := provider.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		mp := &managed{provider: p, cfg: cfg}
		m.byName[cfg.Name] = mp
		m.order = append(m.order, mp)
		if m.meter != nil {
			m.meter.RegisterProviderPrice(cfg.Name, cfg.PricePerGB)
		}
	}

	logger.Info("proxy manager initialized", "providers", len(m.order), "metering", m.meter != nil)
	return m, nil
}

// AcquireOptions narrows an acquisition. All fields are optional.
type AcquireOptions struct {
	// Provider pins the acquisition to one named provider. When empty the
	// cheapest provider with spare capacity is selected.
	Provider string
	Region   string
	Purpose  string
}

// Acquire hands out an endpoint, reserving one concurrency slot on the
// owning provider. It never blocks waiting for capacity: a full provider
// yields ErrConcurrencyLimit (named) or is skipped for the next-cheapest
// candidate (auto-select, exhausted pool yields ErrNoProviderAvailable).
func (m *Manager) Acquire(opts AcquireOptions) (models.Endpoint, error) {
	if opts.Provider != "" {
		mp, ok := m.byName[opts.Provider]
		if !ok {
			return models.Endpoint{}, fmt.Errorf("%w: %s", ErrUnknownProvider, opts.Provider)
		}
		return m.acquireFrom(mp, opts)
	}

	// Cheapest first; sort is stable so equal prices keep declaration order.
	candidates := make([]*managed, len(m.order))
	copy(candidates, m.order)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].cfg.PricePerGB < candidates[j].cfg.PricePerGB
	})

	for _, mp := range candidates {
		ep, err := m.acquireFrom(mp, opts)
		if errors.Is(err, ErrConcurrencyLimit) {
			continue
		}
		return ep, err
	}

	m.logger.Warn("no provider with spare capacity", "providers", len(m.order))
	return models.Endpoint{}, ErrNoProviderAvailable
}

func (m *Manager) acquireFrom(mp *managed, opts AcquireOptions) (models.Endpoint, error) {
	if err := mp.tryAcquire(); err != nil {
		m.collector.RecordAcquire(mp.cfg.Name, "limit")
		return models.Endpoint{}, err
	}

	ep, err := mp.provider.Acquire(opts.Region, opts.Purpose)
	if err != nil {
		mp.undoAcquire()
		m.collector.RecordAcquire(mp.cfg.Name, "error")
		return models.Endpoint{}, err
	}

	if m.meter != nil {
		m.meter.RecordAcquire(ep, opts.Purpose)
	}
	m.collector.RecordAcquire(mp.cfg.Name, "success")
	m.collector.SetActiveEndpoints(mp.cfg.Name, mp.activeCount())

	m.logger.Debug("endpoint acquired",
		"provider", mp.cfg.Name,
		"host", ep.Host,
		"port", ep.Port,
		"session", ep.Session,
		"purpose", opts.Purpose)

	return ep, nil
}

// Release returns the endpoint's concurrency slot and informs the meter.
// Releasing an endpoint that was never acquired (or twice) is tolerated
// and logged so cleanup paths stay simple.
func (m *Manager) Release(ep models.Endpoint, reason string) {
	mp, ok := m.byName[ep.Provider]
	if !ok {
		m.logger.Warn("release for unknown provider", "provider", ep.Provider, "host", ep.Host)
		return
	}

	active, double := mp.releaseSlot()
	if double {
		m.logger.Warn("double release ignored",
			"provider", ep.Provider,
			"host", ep.Host,
			"port", ep.Port,
			"session", ep.Session)
	}

	if m.meter != nil {
		m.meter.RecordRelease(ep, reason)
	}
	m.collector.RecordRelease(ep.Provider)
	m.collector.SetActiveEndpoints(ep.Provider, active)
}

// Meter returns the attached usage ledger, or nil when metering is off.
func (m *Manager) Meter() *meter.Meter {
	return m.meter
}

// ProviderStats is one provider's admission snapshot.
type ProviderStats struct {
	Active     int
	Limit      int
	Type       string
	PricePerGB float64
}

// Stats is a point-in-time view of all providers plus the usage summary
// when metering is enabled.
type Stats struct {
	Providers map[string]ProviderStats
	Usage     *meter.Summary
}

func (m *Manager) Stats() Stats {
	s := Stats{Providers: make(map[string]ProviderStats, len(m.order))}
	for _, mp := range m.order {
		s.Providers[mp.cfg.Name] = ProviderStats{
			Active:     mp.activeCount(),
			Limit:      mp.cfg.ConcurrencyLimit,
			Type:       mp.cfg.Type,
			PricePerGB: mp.cfg.PricePerGB,
		}
	}
	if m.meter != nil {
		sum := m.meter.Summary()
		s.Usage = &sum
	}
	return s
}

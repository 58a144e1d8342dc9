package provider

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"proxybroker/pkg/models"
)

// StaticListProvider cycles round-robin through a fixed pool of endpoints.
//
// Expected options:
//   - entries: comma-or-newline-separated endpoints in one of the forms
//     username:password@host:port, host:port, or either prefixed with
//     scheme://
//   - scheme: default scheme when an entry carries none (default http)
//   - proxy_type, ip_version, rotation_type: endpoint traits
//     (defaults: datacenter, v4, sticky)
type StaticListProvider struct {
	name   string
	pool   []models.Endpoint
	next   atomic.Uint64
	logger *slog.Logger
}

func newStaticListProvider(cfg models.ProviderConfig, logger *slog.Logger) (*StaticListProvider, error) {
	defScheme := strings.ToLower(optString(cfg.Options, "scheme", "http"))
	proxyType, ipVersion, rotation, err := parseEndpointTraits(cfg.Options, models.DatacenterType, models.Sticky)
	if err != nil {
		return nil, err
	}

	var pool []models.Endpoint
	for _, entry := range splitEntries(cfg.Options["entries"]) {
		ep, err := parseStaticEntry(entry, defScheme)
		if err != nil {
			logger.Warn("skipping invalid static proxy entry", "provider", cfg.Name, "entry", entry, "error", err)
			continue
		}
		ep.Provider = cfg.Name
		ep.ProxyType = proxyType
		ep.IPVersion = ipVersion
		ep.RotationType = rotation
		ep.Metadata = map[string]string{"kind": "static"}
		pool = append(pool, ep)
	}

	if len(pool) == 0 {
		return nil, fmt.Errorf("%w: static list provider %q requires at least one proxy entry", ErrConfiguration, cfg.Name)
	}

	logger.Info("initialized static list provider",
		"name", cfg.Name,
		"entries", len(pool),
		"type", proxyType,
		"ip_version", ipVersion)

	return &StaticListProvider{name: cfg.Name, pool: pool, logger: logger}, nil
}

func parseStaticEntry(entry, defScheme string) (models.Endpoint, error) {
	scheme := defScheme
	rest := entry
	if i := strings.Index(entry, "://"); i >= 0 {
		scheme = strings.ToLower(entry[:i])
		rest = entry[i+3:]
	}

	var username, password string
	hostport := rest
	if i := strings.LastIndex(rest, "@"); i >= 0 {
		creds := rest[:i]
		hostport = rest[i+1:]
		if j := strings.Index(creds, ":"); j >= 0 {
			username, password = creds[:j], creds[j+1:]
		} else {
			username = creds
		}
	}

	i := strings.LastIndex(hostport, ":")
	if i < 0 {
		return models.Endpoint{}, fmt.Errorf("missing port in %q", entry)
	}
	port, err := strconv.Atoi(hostport[i+1:])
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("bad port in %q", entry)
	}

	return models.Endpoint{
		Scheme:   scheme,
		Host:     hostport[:i],
		Port:     port,
		Username: username,
		Password: password,
	}, nil
}

func (p *StaticListProvider) Name() string {
	return p.name
}

// Acquire returns the next endpoint in the cycle. The index advances with a
// single atomic add, so concurrent acquisitions never see a duplicate index
// before a full wrap.
func (p *StaticListProvider) Acquire(region, purpose string) (models.Endpoint, error) {
	idx := p.next.Add(1) - 1
	ep := p.pool[idx%uint64(len(p.pool))]

	p.logger.Debug("static endpoint acquired",
		"provider", p.name,
		"host", ep.Host,
		"port", ep.Port,
		"purpose", orGeneral(purpose))

	return ep, nil
}

func orGeneral(purpose string) string {
	if purpose == "" {
		return "general"
	}
	return purpose
}

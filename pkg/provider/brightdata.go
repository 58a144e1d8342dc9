package provider

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"proxybroker/pkg/models"
)

// BrightDataProvider builds session-based endpoints for Bright Data
// residential-style super-proxies. Every acquisition generates a fresh
// session token and embeds it, together with the target country, in the
// proxy username. Sticky use is caller-driven: thread the same endpoint
// through multiple requests to keep its session.
//
// Expected options:
//   - host: super-proxy host (default zproxy.lum-superproxy.io)
//   - port: super-proxy port (default 22225)
//   - username: zone username without the session suffix
//   - password: zone password
//   - country: default two-letter country code, overridable per acquire
//   - city: optional city code
//   - proxy_type, ip_version: endpoint traits (defaults: residential, v4)
type BrightDataProvider struct {
	name      string
	host      string
	port      int
	username  string
	password  string
	country   string
	city      string
	proxyType models.ProxyType
	ipVersion models.IPVersion
	logger    *slog.Logger
}

func newBrightDataProvider(cfg models.ProviderConfig, logger *slog.Logger) (*BrightDataProvider, error) {
	opts := cfg.Options

	port, err := strconv.Atoi(optString(opts, "port", "22225"))
	if err != nil {
		return nil, fmt.Errorf("%w: brightdata provider %q: bad port %q", ErrConfiguration, cfg.Name, opts["port"])
	}

	proxyType, ipVersion, _, err := parseEndpointTraits(opts, models.ResidentialType, models.Rotating)
	if err != nil {
		return nil, err
	}

	p := &BrightDataProvider{
		name:      cfg.Name,
		host:      optString(opts, "host", "zproxy.lum-superproxy.io"),
		port:      port,
		username:  opts["username"],
		password:  opts["password"],
		country:   opts["country"],
		city:      opts["city"],
		proxyType: proxyType,
		ipVersion: ipVersion,
		logger:    logger,
	}

	if p.username == "" || p.password == "" {
		return nil, fmt.Errorf("%w: brightdata provider %q requires username and password", ErrConfiguration, cfg.Name)
	}

	logger.Info("initialized brightdata provider",
		"name", cfg.Name,
		"host", p.host,
		"port", p.port,
		"type", proxyType,
		"country", orAny(p.country))

	return p, nil
}

func (p *BrightDataProvider) Name() string {
	return p.name
}

// Acquire creates an endpoint with a freshly generated session. The session
// token and region are encoded into the username per the vendor wire format:
// user-session-<id>-country-XX[-city-YY].
func (p *BrightDataProvider) Acquire(region, purpose string) (models.Endpoint, error) {
	sessionID := newSessionToken(12)

	cc := region
	if cc == "" {
		cc = p.country
	}

	parts := []string{p.username, "session-" + sessionID}
	if cc != "" {
		parts = append(parts, "country-"+strings.ToLower(cc))
	}
	if p.city != "" {
		parts = append(parts, "city-"+p.city)
	}
	user := strings.Join(parts, "-")

	p.logger.Debug("creating brightdata session",
		"session", sessionID,
		"region", orAny(cc),
		"purpose", orGeneral(purpose))

	return models.Endpoint{
		Scheme:       "http",
		Host:         p.host,
		Port:         p.port,
		Username:     user,
		Password:     p.password,
		Provider:     p.name,
		Session:      sessionID,
		ProxyType:    p.proxyType,
		IPVersion:    p.ipVersion,
		RotationType: models.Rotating,
		Region:       cc,
		Metadata: map[string]string{
			"kind":    "metered",
			"purpose": orGeneral(purpose),
		},
	}, nil
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

package provider

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"proxybroker/pkg/models"
)

// MooProxyProvider serves MooProxy-style session proxies in one of two
// modes, selected by config shape:
//
// Static mode ("entries" option present): cycles through pre-generated
// session entries of the form
//
//	host:port:username:password_country-XX_session-ID
//
// parsing region and session id out of the password suffix. A malformed
// entry fails provider construction.
//
// Dynamic mode: synthesizes a new session per acquisition from base
// credentials, appending _country-XX_session-ID to the password.
//
// Expected options (dynamic mode): host, port, username, password,
// country (default US), scheme (default http); both modes honor
// proxy_type and ip_version (defaults: residential, v4).
type MooProxyProvider struct {
	name   string
	logger *slog.Logger

	// static mode
	pool []models.Endpoint
	next atomic.Uint64

	// dynamic mode
	dynamic   bool
	scheme    string
	host      string
	port      int
	username  string
	password  string
	country   string
	proxyType models.ProxyType
	ipVersion models.IPVersion
}

func newMooProxyProvider(cfg models.ProviderConfig, logger *slog.Logger) (*MooProxyProvider, error) {
	opts := cfg.Options

	proxyType, ipVersion, _, err := parseEndpointTraits(opts, models.ResidentialType, models.Sticky)
	if err != nil {
		return nil, err
	}

	p := &MooProxyProvider{
		name:      cfg.Name,
		logger:    logger,
		proxyType: proxyType,
		ipVersion: ipVersion,
	}

	if raw := strings.TrimSpace(opts["entries"]); raw != "" {
		for _, entry := range splitEntries(raw) {
			ep, err := p.parseSessionEntry(entry)
			if err != nil {
				return nil, fmt.Errorf("%w: mooproxy provider %q: %v", ErrGeneration, cfg.Name, err)
			}
			p.pool = append(p.pool, ep)
		}
		logger.Info("initialized mooproxy provider (static mode)",
			"name", cfg.Name,
			"entries", len(p.pool),
			"type", proxyType)
		return p, nil
	}

	p.dynamic = true
	p.scheme = strings.ToLower(optString(opts, "scheme", "http"))
	p.host = opts["host"]
	p.username = opts["username"]
	p.password = opts["password"]
	p.country = optString(opts, "country", "US")

	if p.host == "" || opts["port"] == "" || p.username == "" || p.password == "" {
		return nil, fmt.Errorf("%w: mooproxy provider %q requires either entries or host, port, username, password", ErrConfiguration, cfg.Name)
	}
	p.port, err = strconv.Atoi(opts["port"])
	if err != nil {
		return nil, fmt.Errorf("%w: mooproxy provider %q: bad port %q", ErrConfiguration, cfg.Name, opts["port"])
	}

	logger.Info("initialized mooproxy provider (dynamic mode)",
		"name", cfg.Name,
		"host", p.host,
		"port", p.port,
		"type", proxyType,
		"country", p.country)

	return p, nil
}

// parseSessionEntry parses a pre-generated entry host:port:username:password.
// The password may itself contain colons, so only the first three fields
// split on them.
func (p *MooProxyProvider) parseSessionEntry(entry string) (models.Endpoint, error) {
	parts := strings.SplitN(entry, ":", 4)
	if len(parts) < 4 {
		return models.Endpoint{}, fmt.Errorf("malformed session entry %q", entry)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return models.Endpoint{}, fmt.Errorf("bad port in session entry %q", entry)
	}
	password := parts[3]

	return models.Endpoint{
		Scheme:       "http",
		Host:         parts[0],
		Port:         port,
		Username:     parts[2],
		Password:     password,
		Provider:     p.name,
		Session:      extractSessionID(password),
		ProxyType:    p.proxyType,
		IPVersion:    p.ipVersion,
		RotationType: models.Sticky,
		Region:       extractRegion(password),
		Metadata:     map[string]string{"kind": "mooproxy", "mode": "static"},
	}, nil
}

// extractSessionID pulls the session id out of a password suffix like
// base_country-US_session-abc123.
func extractSessionID(password string) string {
	if i := strings.LastIndex(password, "_session-"); i >= 0 {
		return password[i+len("_session-"):]
	}
	return ""
}

func extractRegion(password string) string {
	if i := strings.Index(password, "_country-"); i >= 0 {
		rest := password[i+len("_country-"):]
		if j := strings.Index(rest, "_"); j >= 0 {
			rest = rest[:j]
		}
		return rest
	}
	return ""
}

func (p *MooProxyProvider) Name() string {
	return p.name
}

func (p *MooProxyProvider) Acquire(region, purpose string) (models.Endpoint, error) {
	if !p.dynamic {
		idx := p.next.Add(1) - 1
		ep := p.pool[idx%uint64(len(p.pool))]
		p.logger.Debug("mooproxy static endpoint acquired",
			"provider", p.name,
			"session", ep.Session,
			"region", ep.Region)
		return ep, nil
	}

	country := region
	if country == "" {
		country = p.country
	}
	if !validCountryCode(country) {
		return models.Endpoint{}, fmt.Errorf("%w: mooproxy provider %q: invalid country code %q", ErrGeneration, p.name, country)
	}
	country = strings.ToUpper(country)

	sessionID := newSessionToken(10)
	password := fmt.Sprintf("%s_country-%s_session-%s", p.password, country, sessionID)

	p.logger.Debug("creating mooproxy dynamic session",
		"session", sessionID,
		"region", country,
		"purpose", orGeneral(purpose))

	return models.Endpoint{
		Scheme:       p.scheme,
		Host:         p.host,
		Port:         p.port,
		Username:     p.username,
		Password:     password,
		Provider:     p.name,
		Session:      sessionID,
		ProxyType:    p.proxyType,
		IPVersion:    p.ipVersion,
		RotationType: models.Sticky,
		Region:       country,
		Metadata: map[string]string{
			"kind":    "mooproxy",
			"mode":    "dynamic",
			"purpose": orGeneral(purpose),
		},
	}, nil
}

func validCountryCode(cc string) bool {
	if len(cc) != 2 {
		return false
	}
	for _, r := range cc {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}

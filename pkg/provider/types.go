package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"proxybroker/pkg/models"
)

// Type identifies a provider implementation.
type Type string

const (
	TypeStaticList Type = "static_list"
	TypeBrightData Type = "brightdata"
	TypeMooProxy   Type = "mooproxy"
)

var (
	// ErrConfiguration marks malformed provider configuration detected at
	// load time (bad options, empty pools, unresolved secrets).
	ErrConfiguration = errors.New("provider configuration error")

	// ErrGeneration marks a provider that failed to produce a valid
	// endpoint (malformed session entries, bad synthesis input).
	ErrGeneration = errors.New("provider generation error")
)

// Provider is a source of proxy endpoints implementing one acquisition
// strategy. Acquire never blocks; region and purpose are optional hints
// and may be empty.
type Provider interface {
	Name() string
	Acquire(region, purpose string) (models.Endpoint, error)
}

// newSessionToken generates an opaque session identifier of n hex-like
// characters. UUIDs are backed by crypto/rand, so tokens are unique across
// concurrent acquisitions.
func newSessionToken(n int) string {
	tok := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > 0 && n < len(tok) {
		tok = tok[:n]
	}
	return tok
}

func optString(opts map[string]string, key, def string) string {
	if v, ok := opts[key]; ok && v != "" {
		return v
	}
	return def
}

// parseEndpointTraits reads the proxy_type / ip_version / rotation_type
// options shared by all providers.
func parseEndpointTraits(opts map[string]string, defType models.ProxyType, defRotation models.RotationType) (models.ProxyType, models.IPVersion, models.RotationType, error) {
	proxyType := models.ProxyType(strings.ToLower(optString(opts, "proxy_type", string(defType))))
	switch proxyType {
	case models.ResidentialType, models.DatacenterType, models.ISPType, models.MobileType:
	default:
		return "", "", "", fmt.Errorf("%w: unknown proxy_type %q", ErrConfiguration, proxyType)
	}

	ipVersion := models.IPVersion(strings.ToLower(optString(opts, "ip_version", string(models.IPv4))))
	switch ipVersion {
	case models.IPv4, models.IPv6:
	default:
		return "", "", "", fmt.Errorf("%w: unknown ip_version %q", ErrConfiguration, ipVersion)
	}

	rotation := models.RotationType(strings.ToLower(optString(opts, "rotation_type", string(defRotation))))
	switch rotation {
	case models.Rotating, models.Sticky:
	default:
		return "", "", "", fmt.Errorf("%w: unknown rotation_type %q", ErrConfiguration, rotation)
	}

	return proxyType, ipVersion, rotation, nil
}

// splitEntries breaks a comma-or-newline-separated option value into
// trimmed, non-empty items.
func splitEntries(raw string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, ",", "\n"), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			out = append(out, s)
		}
	}
	return out
}

package models

import (
	"fmt"
	"net/url"
)

// ProxyType classifies the network a proxy egresses from.
type ProxyType string

const (
	ResidentialType ProxyType = "residential"
	DatacenterType  ProxyType = "datacenter"
	ISPType         ProxyType = "isp"
	MobileType      ProxyType = "mobile"
)

// IPVersion is the IP protocol version of an endpoint's egress address.
type IPVersion string

const (
	IPv4 IPVersion = "v4"
	IPv6 IPVersion = "v6"
)

// RotationType describes how a provider rotates the egress IP.
type RotationType string

const (
	Rotating RotationType = "rotating"
	Sticky   RotationType = "sticky"
)

// Endpoint is a fully resolved proxy connection descriptor. Endpoints are
// created by providers and treated as immutable values afterwards.
type Endpoint struct {
	Scheme       string
	Host         string
	Port         int
	Username     string
	Password     string
	Provider     string
	Session      string
	ProxyType    ProxyType
	IPVersion    IPVersion
	RotationType RotationType
	Region       string
	Metadata     map[string]string
}

// Key returns the identity key used for concurrency accounting and metering.
// Endpoints from the same provider that share host, port and session are the
// same logical resource.
func (e Endpoint) Key() string {
	return fmt.Sprintf("%s|%s:%d|%s", e.Provider, e.Host, e.Port, e.Session)
}

// URL builds the full proxy URL with embedded credentials.
func (e Endpoint) URL() string {
	u := &url.URL{
		Scheme: e.Scheme,
		Host:   fmt.Sprintf("%s:%d", e.Host, e.Port),
	}
	if e.Username != "" {
		if e.Password != "" {
			u.User = url.UserPassword(e.Username, e.Password)
		} else {
			u.User = url.User(e.Username)
		}
	}
	return u.String()
}

// AsHTTPProxy returns the endpoint in the shape generic HTTP client
// libraries expect: one proxy URL for each of the http and https schemes.
func (e Endpoint) AsHTTPProxy() map[string]string {
	u := e.URL()
	return map[string]string{"http": u, "https": u}
}

// BrowserProxy is the proxy option shape expected by headless-browser
// drivers: server URL without credentials, credentials alongside.
type BrowserProxy struct {
	Server   string `json:"server"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AsBrowserProxy returns the endpoint formatted for a browser driver's
// proxy option.
func (e Endpoint) AsBrowserProxy() BrowserProxy {
	return BrowserProxy{
		Server:   fmt.Sprintf("%s://%s:%d", e.Scheme, e.Host, e.Port),
		Username: e.Username,
		Password: e.Password,
	}
}

// ProviderConfig describes one configured proxy provider. The structure is
// immutable after loading; any env: secret indirections in Options have
// already been resolved by the config loader.
type ProviderConfig struct {
	Name string `mapstructure:"name" json:"name"`
	Type string `mapstructure:"type" json:"type"`
	// PricePerGB is the provider's bandwidth price in USD per gigabyte.
	PricePerGB float64 `mapstructure:"price_per_gb" json:"price_per_gb"`
	// ConcurrencyLimit caps concurrently held endpoints; 0 means unlimited.
	ConcurrencyLimit int               `mapstructure:"concurrency_limit" json:"concurrency_limit,omitempty"`
	Options          map[string]string `mapstructure:"options" json:"options,omitempty"`
}

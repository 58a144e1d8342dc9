// Package importer parses raw proxy lists and auto-detects provider
// family, proxy type and session information from host and credential
// patterns, so bulk-supplied proxies can be turned into provider configs.
package importer

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"proxybroker/pkg/models"
	"proxybroker/pkg/provider"
)

// Detection is the auto-detected description of one raw proxy line.
type Detection struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	// Family is the detected provider family (e.g. "mooproxy",
	// "brightdata"); empty when unknown.
	Family       string
	Session      string
	Region       string
	ProxyType    models.ProxyType
	RotationType models.RotationType
}

// familyPatterns match known vendor hosts and credential shapes.
var familyPatterns = map[string][]*regexp.Regexp{
	"mooproxy": {
		regexp.MustCompile(`(?i)mooproxy\.net`),
		regexp.MustCompile(`_session-[A-Za-z0-9]+`),
	},
	"brightdata": {
		regexp.MustCompile(`(?i)lum-superproxy\.io`),
		regexp.MustCompile(`(?i)zproxy\.lum`),
	},
	"smartproxy": {
		regexp.MustCompile(`(?i)smartproxy\.com`),
		regexp.MustCompile(`(?i)gate\.smartproxy`),
	},
	"oxylabs": {
		regexp.MustCompile(`(?i)oxylabs\.io`),
		regexp.MustCompile(`(?i)pr\.oxylabs`),
	},
	"iproyal": {
		regexp.MustCompile(`(?i)iproyal\.com`),
	},
}

var (
	sessionPattern = regexp.MustCompile(`_session-([A-Za-z0-9_-]+)`)
	regionPattern  = regexp.MustCompile(`_country-([A-Za-z]{2})`)
)

type Importer struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Importer {
	return &Importer{logger: logger}
}

// ParseLine parses a single proxy line. Supported formats:
//
//	host:port
//	username:password@host:port
//	host:port:username:password
//	scheme://[username:password@]host:port
func (im *Importer) ParseLine(line string) (Detection, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Detection{}, fmt.Errorf("empty proxy line")
	}

	d := Detection{Scheme: "http"}
	rest := line
	if i := strings.Index(line, "://"); i >= 0 {
		d.Scheme = strings.ToLower(line[:i])
		rest = line[i+3:]
	}

	if i := strings.LastIndex(rest, "@"); i >= 0 {
		creds := rest[:i]
		if j := strings.Index(creds, ":"); j >= 0 {
			d.Username, d.Password = creds[:j], creds[j+1:]
		} else {
			d.Username = creds
		}
		rest = rest[i+1:]
	}

	parts := strings.SplitN(rest, ":", 4)
	switch {
	case len(parts) == 2:
		d.Host = parts[0]
	case len(parts) == 4 && d.Username == "":
		// host:port:username:password, password may contain colons
		d.Host = parts[0]
		d.Username = parts[2]
		d.Password = parts[3]
	default:
		return Detection{}, fmt.Errorf("unrecognized proxy format: %q", line)
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil {
		return Detection{}, fmt.Errorf("bad port in %q", line)
	}
	d.Port = port

	im.annotate(&d)
	return d, nil
}

// annotate fills the detected family, session, region and proxy type.
func (im *Importer) annotate(d *Detection) {
	blob := d.Host + " " + d.Username + " " + d.Password

	for family, patterns := range familyPatterns {
		for _, p := range patterns {
			if p.MatchString(blob) {
				d.Family = family
				break
			}
		}
		if d.Family != "" {
			break
		}
	}

	if m := sessionPattern.FindStringSubmatch(d.Password); m != nil {
		d.Session = m[1]
	}
	if m := regionPattern.FindStringSubmatch(d.Password); m != nil {
		d.Region = strings.ToUpper(m[1])
	}

	d.ProxyType = detectProxyType(blob)
	// Session-bound proxies hold their egress IP; everything else is
	// treated as sticky too, the conservative default.
	d.RotationType = models.Sticky
}

func detectProxyType(blob string) models.ProxyType {
	lower := strings.ToLower(blob)
	switch {
	case containsAny(lower, "residential", "resi", "home", "dsl", "cable"):
		return models.ResidentialType
	case containsAny(lower, "isp", "static-residential"):
		return models.ISPType
	case containsAny(lower, "mobile", "4g", "5g", "cellular"):
		return models.MobileType
	default:
		return models.DatacenterType
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// ParseList parses a newline-separated proxy list, skipping (and logging)
// lines that fail to parse. Lines starting with # are comments.
func (im *Importer) ParseList(raw string) []Detection {
	var out []Detection
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		d, err := im.ParseLine(line)
		if err != nil {
			im.logger.Warn("skipping unparseable proxy line", "line", line, "error", err)
			continue
		}
		out = append(out, d)
	}
	return out
}

// ToProviderConfig folds detections into a static_list provider config
// ready for the manager. Detections must be non-empty.
func (im *Importer) ToProviderConfig(name string, pricePerGB float64, detections []Detection) (models.ProviderConfig, error) {
	if len(detections) == 0 {
		return models.ProviderConfig{}, fmt.Errorf("%w: no proxies to import", provider.ErrConfiguration)
	}

	entries := make([]string, 0, len(detections))
	for _, d := range detections {
		entry := fmt.Sprintf("%s:%d", d.Host, d.Port)
		if d.Username != "" {
			entry = fmt.Sprintf("%s:%s@%s", d.Username, d.Password, entry)
		}
		if d.Scheme != "http" {
			entry = d.Scheme + "://" + entry
		}
		entries = append(entries, entry)
	}

	// Proxy type of the first detection wins; mixed lists should be
	// split into separate providers by the caller.
	cfg := models.ProviderConfig{
		Name:       name,
		Type:       string(provider.TypeStaticList),
		PricePerGB: pricePerGB,
		Options: map[string]string{
			"entries":    strings.Join(entries, "\n"),
			"proxy_type": string(detections[0].ProxyType),
		},
	}

	im.logger.Info("imported proxy list", "name", name, "entries", len(entries), "type", detections[0].ProxyType)
	return cfg, nil
}

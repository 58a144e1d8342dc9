// Package config loads the broker's provider configuration. Secrets given
// as env:VAR_NAME indirections are resolved exactly once at load time, so
// the resulting []ProviderConfig is immutable and the environment is never
// re-read afterwards.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"proxybroker/pkg/models"
	"proxybroker/pkg/provider"
)

const envPrefix = "env:"

// LoadProviders reads the ordered provider list from a config file
// (yaml or json, "providers" key) and returns the resolved configs.
func LoadProviders(path string) ([]models.ProviderConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", provider.ErrConfiguration, path, err)
	}

	var configs []models.ProviderConfig
	if err := v.UnmarshalKey("providers", &configs); err != nil {
		return nil, fmt.Errorf("%w: parsing providers: %v", provider.ErrConfiguration, err)
	}

	return PrepareProviders(configs)
}

// PrepareProviders validates an ordered provider list and resolves env:
// secret indirections against the process environment. Declaration order
// is preserved; the manager relies on it for deterministic tie-breaking.
func PrepareProviders(configs []models.ProviderConfig) ([]models.ProviderConfig, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("%w: no providers configured", provider.ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(configs))
	out := make([]models.ProviderConfig, 0, len(configs))

	for _, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("%w: provider with empty name", provider.ErrConfiguration)
		}
		if _, ok := seen[cfg.Name]; ok {
			return nil, fmt.Errorf("%w: duplicate provider name %q", provider.ErrConfiguration, cfg.Name)
		}
		seen[cfg.Name] = struct{}{}

		if cfg.Type == "" {
			return nil, fmt.Errorf("%w: provider %q has no type", provider.ErrConfiguration, cfg.Name)
		}
		if cfg.PricePerGB < 0 {
			return nil, fmt.Errorf("%w: provider %q has negative price_per_gb", provider.ErrConfiguration, cfg.Name)
		}
		if cfg.ConcurrencyLimit < 0 {
			return nil, fmt.Errorf("%w: provider %q has negative concurrency_limit", provider.ErrConfiguration, cfg.Name)
		}

		resolved, err := resolveOptions(cfg.Name, cfg.Options)
		if err != nil {
			return nil, err
		}
		cfg.Options = resolved
		out = append(out, cfg)
	}

	return out, nil
}

func resolveOptions(providerName string, options map[string]string) (map[string]string, error) {
	if options == nil {
		return nil, nil
	}
	resolved := make(map[string]string, len(options))
	for key, value := range options {
		if !strings.HasPrefix(value, envPrefix) {
			resolved[key] = value
			continue
		}
		envVar := strings.TrimPrefix(value, envPrefix)
		v, ok := os.LookupEnv(envVar)
		if !ok {
			return nil, fmt.Errorf("%w: provider %q option %q references unset environment variable %s",
				provider.ErrConfiguration, providerName, key, envVar)
		}
		resolved[key] = v
	}
	return resolved, nil
}

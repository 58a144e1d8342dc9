package provider

import (
	"fmt"
	"log/slog"

	"proxybroker/pkg/models"
)

// New creates a provider instance from its config.
func New(cfg models.ProviderConfig, logger *slog.Logger) (Provider, error) {
	switch Type(cfg.Type) {
	case TypeStaticList:
		return newStaticListProvider(cfg, logger)
	case TypeBrightData:
		return newBrightDataProvider(cfg, logger)
	case TypeMooProxy:
		return newMooProxyProvider(cfg, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported provider type %q", ErrConfiguration, cfg.Type)
	}
}

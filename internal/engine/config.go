package engine

import (
	"github.com/irfndi/etffactor/internal/config"
	"github.com/irfndi/etffactor/internal/talib"
)

// ConfigFrom maps the loaded service configuration onto engine settings.
func ConfigFrom(cfg *config.Config) Config {
	c := DefaultConfig()
	if cfg == nil {
		return c
	}
	c.Workers = cfg.Engine.Workers
	c.QueueSize = cfg.Engine.QueueSize
	c.Numeric = cfg.Numeric()
	c.Adjustment = cfg.Adjustment()
	c.CrossCheck = cfg.Engine.CrossCheck
	if cfg.Engine.ReferenceProvider != "" {
		c.Reference = talib.ProviderType(cfg.Engine.ReferenceProvider)
	}
	return c
}

package cli

import (
	"github.com/xxxsen/romsort/internal/config"
)

var defaultConfigList = []string{
	"./romsort.json",
	"./romsort.toml",
	"/etc/romsort.json",
}

// LoadConfig returns the first config file found, starting with explicit.
// An explicit path that does not exist is an error.
func LoadConfig(explicit string) (*config.Config, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		if err != nil {
			return nil, config.Errorf("load config %s: %v", explicit, err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadFirst(defaultConfigList...)
	if err != nil {
		return nil, config.Errorf("load config: %v", err)
	}
	return cfg, nil
}

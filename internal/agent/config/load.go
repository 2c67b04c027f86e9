package config

import (
	"fmt"

	"github.com/yndnr/pksa-go/internal/infra/confloader"
)

// Load reads defaults, the file at path (optional) and PKSA_* variables,
// then verifies the result.
func Load(path string) (*AgentConfig, error) {
	opts := []confloader.Option{confloader.WithDefaults(DefaultMap())}
	if path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}

	cfg := &AgentConfig{}
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	if err := Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Package config holds the write-side configuration record. Settings are
// plain inputs threaded into the planner, there are no process-wide
// singletons.
package config

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// WriteConfig controls one writer's behavior across transactions.
type WriteConfig struct {
	// EngineInfo identifies the engine in commitInfo records.
	EngineInfo string `toml:"engine_info"`
	// MaxRetries bounds commit retries after a version collision.
	MaxRetries int `toml:"max_retries"`
	// LogCompactionInterval schedules compaction hooks, 0 disables them.
	LogCompactionInterval int `toml:"log_compaction_interval"`
	// AllowEmptySchemaTable permits creating a table without a schema even
	// when no query plan supplies one.
	AllowEmptySchemaTable bool `toml:"allow_empty_schema_table"`
}

func Default() *WriteConfig {
	return &WriteConfig{
		EngineInfo: "delta-go",
		MaxRetries: 200,
	}
}

// Load reads a TOML config file, filling unset keys from Default.
func Load(path string) (*WriteConfig, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, errors.Wrapf(err, "loading config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *WriteConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be >= 0")
	}
	if c.LogCompactionInterval < 0 {
		return errors.New("log_compaction_interval must be >= 0")
	}
	return nil
}

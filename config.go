package arangodoc

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
)

// Config holds connection and query settings.
type Config struct {
	// Endpoints are the ArangoDB coordinator URLs.
	Endpoints []string `json:"endpoints"`

	// Username and Password authenticate against the server.
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`

	// Database is the database to select on connect. Default "_system".
	Database string `json:"database,omitempty"`

	// QueryMaxLimit caps LIMIT for every compiled query. Default 100.
	QueryMaxLimit int `json:"query_max_limit,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Database:      "_system",
		QueryMaxLimit: 100,
	}
}

// LoadConfig reads a config file in JWCC form (JSON with comments and
// trailing commas), merged over the defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("config: endpoints cannot be empty")
	}

	if c.QueryMaxLimit < 1 {
		return fmt.Errorf("config: query_max_limit must be positive")
	}

	return nil
}

// withDefaults fills zero-valued fields from the defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()

	if c.Database == "" {
		c.Database = def.Database
	}

	if c.QueryMaxLimit == 0 {
		c.QueryMaxLimit = def.QueryMaxLimit
	}

	return c
}

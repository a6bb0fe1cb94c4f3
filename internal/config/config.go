// Package config loads the eval-server startup configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultMaxFetchConcurrency is used when the config file omits the field
// or sets it to zero.
const DefaultMaxFetchConcurrency = 5

// DefaultMaxConnsPerIP and DefaultMaxTotalConns bound the TCP accept path
// (see internal/listener). This is a single-isolate service that already
// serializes every evaluation behind a 20-slot admission queue, so the
// connection ceiling only needs to absorb a caller's retry burst, not the
// thousands of concurrent sockets a fanned-out PaaS edge would expect.
const (
	DefaultMaxConnsPerIP = 20
	DefaultMaxTotalConns = 500
)

// fileConfig mirrors the on-disk JSON document: {port, auth,
// maxFetchConcurrency, maxConnsPerIP, maxTotalConns}.
type fileConfig struct {
	Port                int    `json:"port"`
	Auth                string `json:"auth"`
	MaxFetchConcurrency int    `json:"maxFetchConcurrency"`
	MaxConnsPerIP       int    `json:"maxConnsPerIP"`
	MaxTotalConns       int64  `json:"maxTotalConns"`
}

// Config is the immutable runtime configuration.
type Config struct {
	Port                int
	AuthSecret          string
	MaxFetchConcurrency int
	MaxConnsPerIP       int
	MaxTotalConns       int64
}

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var fc fileConfig
	if err := json.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if fc.Port <= 0 {
		return nil, fmt.Errorf("config: %s: port must be a positive integer", path)
	}
	if fc.Auth == "" {
		return nil, fmt.Errorf("config: %s: auth secret must not be empty", path)
	}

	maxFetch := fc.MaxFetchConcurrency
	if maxFetch <= 0 {
		maxFetch = DefaultMaxFetchConcurrency
	}
	maxConnsPerIP := fc.MaxConnsPerIP
	if maxConnsPerIP <= 0 {
		maxConnsPerIP = DefaultMaxConnsPerIP
	}
	maxTotalConns := fc.MaxTotalConns
	if maxTotalConns <= 0 {
		maxTotalConns = DefaultMaxTotalConns
	}

	return &Config{
		Port:                fc.Port,
		AuthSecret:          fc.Auth,
		MaxFetchConcurrency: maxFetch,
		MaxConnsPerIP:       maxConnsPerIP,
		MaxTotalConns:       maxTotalConns,
	}, nil
}

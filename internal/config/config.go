// Package config loads the mesh host's runtime configuration: a TOML
// file under the data directory, layered with environment variable
// overrides (env always wins), plus .env loading for local development.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// ServerConfig controls the HTTP listener and data directory.
type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
	DataDir    string `toml:"data_dir"`
}

// TimeoutsConfig mirrors spec.md §5's timeout table so every suspension
// point is operator-tunable without a rebuild.
type TimeoutsConfig struct {
	SelfFetch     time.Duration `toml:"self_fetch"`
	PeerFetch     time.Duration `toml:"peer_fetch"`
	PeerForward   time.Duration `toml:"peer_forward"`
	Health        time.Duration `toml:"health"`
	MeshDiscovery time.Duration `toml:"mesh_discovery"`
	Federation    time.Duration `toml:"federation"`
}

// RateLimitsConfig controls the Router's token-bucket throttles.
type RateLimitsConfig struct {
	RoutePerMinute      int `toml:"route_per_minute"`
	FederationPerMinute int `toml:"federation_per_minute"`
}

// Config is the fully assembled runtime configuration for one host
// process.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Timeouts   TimeoutsConfig   `toml:"timeouts"`
	RateLimits RateLimitsConfig `toml:"rate_limits"`
}

// Default returns the baseline configuration applied before any TOML
// file or environment overlay.
func Default() Config {
	return Config{
		Server: ServerConfig{ListenAddr: ":7420", DataDir: defaultDataDir()},
		Timeouts: TimeoutsConfig{
			SelfFetch:     8 * time.Second,
			PeerFetch:     3 * time.Second,
			PeerForward:   10 * time.Second,
			Health:        5 * time.Second,
			MeshDiscovery: 3 * time.Second,
			Federation:    10 * time.Second,
		},
		RateLimits: RateLimitsConfig{RoutePerMinute: 60, FederationPerMinute: 120},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshhost"
	}
	return filepath.Join(home, ".meshhost")
}

// Load assembles the final Config: defaults, then tomlPath if it exists,
// then .env (loaded via godotenv, dev convenience only — it never
// overrides variables already present in the real environment), then
// MESH_* environment variables, which always win.
func Load(tomlPath string) (Config, error) {
	cfg := Default()

	if tomlPath != "" {
		if _, err := os.Stat(tomlPath); err == nil {
			if _, err := toml.DecodeFile(tomlPath, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing %s: %w", tomlPath, err)
			}
		}
	}

	_ = godotenv.Load() // best-effort; absence of .env is not an error

	applyEnvOverlay(&cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("MESH_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("MESH_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v, ok := envInt("MESH_ROUTE_RATE_PER_MINUTE"); ok {
		cfg.RateLimits.RoutePerMinute = v
	}
	if v, ok := envInt("MESH_FEDERATION_RATE_PER_MINUTE"); ok {
		cfg.RateLimits.FederationPerMinute = v
	}
	if v, ok := envDuration("MESH_TIMEOUT_PEER_FORWARD"); ok {
		cfg.Timeouts.PeerForward = v
	}
	if v, ok := envDuration("MESH_TIMEOUT_HEALTH"); ok {
		cfg.Timeouts.Health = v
	}
}

func envInt(key string) (int, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envDuration(key string) (time.Duration, bool) {
	raw := os.Getenv(key)
	if raw == "" {
		return 0, false
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, false
	}
	return d, true
}

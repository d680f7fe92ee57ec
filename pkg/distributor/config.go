package distributor

import (
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Config holds the server's tunables. The CLI flags in cmd/distributor-server
// are authoritative (spec.md §6); an optional YAML file layers additional
// tunables underneath them, following the teacher's typed-Config-struct
// convention (pkg/atlas/config.go) even though this system has no
// environment-variable surface.
type Config struct {
	// ListenAddr is the local address to bind the UDP socket to.
	ListenAddr string `yaml:"listen_addr"`
	// ListenPort is the local UDP port to bind to.
	ListenPort uint16 `yaml:"listen_port"`

	// FdbAgeing is how long an FDB entry may go unrefreshed before it is
	// considered stale (original_source/src/vars.h: DIST_FDB_AGEING).
	FdbAgeing time.Duration `yaml:"fdb_ageing"`
	// Keepalive is the interval between scavenger keepalive probes
	// (DIST_UDP_KEEPALIVE).
	Keepalive time.Duration `yaml:"keepalive"`
	// Retries is the multiple of Keepalive a client may go unheard from
	// before it is evicted (DIST_UDP_RETRIES).
	Retries int `yaml:"retries"`
	// ScavengePeriod is how often the scavenger sweeps the registry.
	ScavengePeriod time.Duration `yaml:"scavenge_period"`

	// MetricsAddr, if non-empty, serves /metrics and /debug/frames on this
	// address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// DefaultConfig returns the spec's documented defaults
// (FDB_AGEING=300s, KEEPALIVE=60s, RETRIES=3).
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "0.0.0.0",
		FdbAgeing:      300 * time.Second,
		Keepalive:      60 * time.Second,
		Retries:        3,
		ScavengePeriod: 1 * time.Second,
	}
}

// LoadConfigFile reads tunables from a YAML file, layering them on top of
// base. Only fields present in the file override base's value.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, err
	}
	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, err
	}
	return cfg, nil
}

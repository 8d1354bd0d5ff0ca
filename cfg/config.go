package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ListenerConfiguration for the client binary-protocol listener
type ListenerConfiguration struct {
	BindAddress    string `toml:"bind_address"`
	Port           int    `toml:"port"`
	MaxConnections int    `toml:"max_connections"`
}

// SessionConfiguration controls per-session statement execution.
// Immutable once a session handler has been constructed.
type SessionConfiguration struct {
	MaxOpenCursors   int  `toml:"max_open_cursors"` // 0 = unlimited
	DistributedJoins bool `toml:"distributed_joins"`
	EnforceJoinOrder bool `toml:"enforce_join_order"`
	Collocated       bool `toml:"collocated"`
	ReplicatedOnly   bool `toml:"replicated_only"`
	Lazy             bool `toml:"lazy"`
	AutoCloseCursors bool `toml:"auto_close_cursors"`
}

// CacheConfiguration describes one queryable cache backed by a database file
type CacheConfiguration struct {
	Name string `toml:"name"`
	Path string `toml:"path"` // empty = <data_dir>/<name>.db
}

// AdminConfiguration for the admin/metrics HTTP surface
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Listener   ListenerConfiguration   `toml:"listener"`
	Session    SessionConfiguration    `toml:"session"`
	Caches     []CacheConfiguration    `toml:"caches"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "Client listener port (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./burrow-data",

	Listener: ListenerConfiguration{
		BindAddress:    "0.0.0.0",
		Port:           10800,
		MaxConnections: 1000,
	},

	Session: SessionConfiguration{
		MaxOpenCursors:   128,
		DistributedJoins: false,
		EnforceJoinOrder: false,
		Collocated:       false,
		ReplicatedOnly:   false,
		Lazy:             false,
		AutoCloseCursors: false,
	},

	Caches: []CacheConfiguration{
		{Name: "public"},
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "0.0.0.0",
		Port:        9191,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Listener.Port = *PortFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("burrow")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Listener.Port < 1 || Config.Listener.Port > 65535 {
		return fmt.Errorf("invalid listener port: %d", Config.Listener.Port)
	}

	if Config.Listener.MaxConnections < 1 {
		return fmt.Errorf("max connections must be >= 1")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if Config.Session.MaxOpenCursors < 0 {
		return fmt.Errorf("max open cursors must be >= 0 (0 = unlimited)")
	}

	if len(Config.Caches) == 0 {
		return fmt.Errorf("at least one cache must be configured")
	}

	seen := make(map[string]bool, len(Config.Caches))
	for _, c := range Config.Caches {
		if c.Name == "" {
			return fmt.Errorf("cache name must not be empty")
		}
		if seen[c.Name] {
			return fmt.Errorf("duplicate cache name: %s", c.Name)
		}
		seen[c.Name] = true
	}

	return nil
}

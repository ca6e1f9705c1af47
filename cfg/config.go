package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
	"github.com/velocitydb/velocity/encoding"
)

// DriverConfiguration bounds every native session
type DriverConfiguration struct {
	LoginTimeoutSeconds int `toml:"login_timeout_seconds"`
	QueryTimeoutSeconds int `toml:"query_timeout_seconds"` // Per statement, 0 is not allowed
}

// CacheConfiguration controls the result cache
type CacheConfiguration struct {
	MaxSizeMB  int `toml:"max_size_mb"`
	MaxEntries int `toml:"max_entries"` // Upper bound on entry count, independent of bytes
}

// AsyncConfiguration controls async task retention
type AsyncConfiguration struct {
	EvictIntervalSeconds int `toml:"evict_interval_seconds"` // Minimum time between stale-task scans
	MaxAgeSeconds        int `toml:"max_age_seconds"`        // Terminal tasks older than this are dropped
}

// TunnelConfiguration controls SSH tunnels
type TunnelConfiguration struct {
	DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
	KnownHostsPath     string `toml:"known_hosts_path"` // Empty disables host key verification
}

// HistoryConfiguration controls executed-statement notifications
type HistoryConfiguration struct {
	Enabled      bool     `toml:"enabled"`
	BufferSize   int      `toml:"buffer_size"` // Per-subscriber channel size
	MaxEntries   int      `toml:"max_entries"` // In-memory history kept for inspection
	LogEntries   bool     `toml:"log_entries"`
	NATSURL      string   `toml:"nats_url"`
	NATSSubject  string   `toml:"nats_subject"`
	KafkaBrokers []string `toml:"kafka_brokers"`
	KafkaTopic   string   `toml:"kafka_topic"`
	Format       string   `toml:"format"` // json or msgpack, for NATS and Kafka payloads
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

// AdminConfiguration for the HTTP inspection endpoints
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
	AuthToken   string `toml:"auth_token"` // Bearer token, empty disables auth
}

// Configuration is the main configuration structure
type Configuration struct {
	InstanceID string `toml:"instance_id"`

	Driver     DriverConfiguration     `toml:"driver"`
	Cache      CacheConfiguration      `toml:"cache"`
	Async      AsyncConfiguration      `toml:"async"`
	Tunnel     TunnelConfiguration     `toml:"tunnel"`
	History    HistoryConfiguration    `toml:"history"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
	Admin      AdminConfiguration      `toml:"admin"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging (overrides config)")
)

// Default configuration
var Config = &Configuration{
	InstanceID: "", // Auto-generate

	Driver: DriverConfiguration{
		LoginTimeoutSeconds: 30,
		QueryTimeoutSeconds: 300, // 5 minutes
	},

	Cache: CacheConfiguration{
		MaxSizeMB:  100,
		MaxEntries: 10000,
	},

	Async: AsyncConfiguration{
		EvictIntervalSeconds: 60,
		MaxAgeSeconds:        600, // 10 minutes
	},

	Tunnel: TunnelConfiguration{
		DialTimeoutSeconds: 15,
		KnownHostsPath:     "",
	},

	History: HistoryConfiguration{
		Enabled:     true,
		BufferSize:  256,
		MaxEntries:  1000,
		LogEntries:  false,
		NATSURL:     "",
		NATSSubject: "velocity.history",
		KafkaTopic:  "velocity.history",
		Format:      "json",
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},

	Admin: AdminConfiguration{
		Enabled:     true,
		BindAddress: "127.0.0.1",
		Port:        7390,
		AuthToken:   "",
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

	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	if Config.InstanceID == "" {
		id, err := generateInstanceID()
		if err != nil {
			return fmt.Errorf("failed to generate instance ID: %w", err)
		}
		Config.InstanceID = id
		log.Info().Str("instance_id", Config.InstanceID).Msg("Auto-generated instance ID")
	}

	return nil
}

// generateInstanceID derives a stable id from the machine id
func generateInstanceID() (string, error) {
	id, err := machineid.ProtectedID("velocity")
	if err != nil {
		return "", err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return strconv.FormatUint(h.Sum64(), 16), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Driver.LoginTimeoutSeconds < 1 {
		return fmt.Errorf("driver login timeout must be >= 1 second")
	}

	if Config.Driver.QueryTimeoutSeconds < 1 {
		return fmt.Errorf("driver query timeout must be >= 1 second")
	}

	if Config.Cache.MaxSizeMB < 1 {
		return fmt.Errorf("cache max size must be >= 1 MB")
	}

	if Config.Cache.MaxEntries < 1 {
		return fmt.Errorf("cache max entries must be >= 1")
	}

	if Config.Async.EvictIntervalSeconds < 0 {
		return fmt.Errorf("async evict interval must be >= 0")
	}

	if Config.Async.MaxAgeSeconds < 1 {
		return fmt.Errorf("async max age must be >= 1 second")
	}

	if Config.Tunnel.DialTimeoutSeconds < 1 {
		return fmt.Errorf("tunnel dial timeout must be >= 1 second")
	}

	if Config.History.Enabled {
		if Config.History.BufferSize < 1 {
			return fmt.Errorf("history buffer size must be >= 1")
		}
		if Config.History.MaxEntries < 0 {
			return fmt.Errorf("history max entries must be >= 0")
		}
		if Config.History.NATSURL != "" && Config.History.NATSSubject == "" {
			return fmt.Errorf("history NATS subject is required when a NATS URL is set")
		}
		if len(Config.History.KafkaBrokers) > 0 && Config.History.KafkaTopic == "" {
			return fmt.Errorf("history Kafka topic is required when brokers are set")
		}
		if _, err := encoding.ParseFormat(Config.History.Format); err != nil {
			return fmt.Errorf("invalid history format: %w", err)
		}
	}

	if Config.Logging.Format != "console" && Config.Logging.Format != "json" {
		return fmt.Errorf("invalid logging format: %s", Config.Logging.Format)
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	return nil
}

// LoginTimeout returns the driver login timeout as a duration
func (c *Configuration) LoginTimeout() time.Duration {
	return time.Duration(c.Driver.LoginTimeoutSeconds) * time.Second
}

// QueryTimeout returns the driver query timeout as a duration
func (c *Configuration) QueryTimeout() time.Duration {
	return time.Duration(c.Driver.QueryTimeoutSeconds) * time.Second
}

// CacheMaxBytes returns the result cache budget in bytes
func (c *Configuration) CacheMaxBytes() int64 {
	return int64(c.Cache.MaxSizeMB) * 1024 * 1024
}

// EvictInterval returns the minimum time between stale-task scans
func (c *Configuration) EvictInterval() time.Duration {
	return time.Duration(c.Async.EvictIntervalSeconds) * time.Second
}

// TaskMaxAge returns the retention of terminal async tasks
func (c *Configuration) TaskMaxAge() time.Duration {
	return time.Duration(c.Async.MaxAgeSeconds) * time.Second
}

// TunnelDialTimeout returns the SSH dial timeout
func (c *Configuration) TunnelDialTimeout() time.Duration {
	return time.Duration(c.Tunnel.DialTimeoutSeconds) * time.Second
}

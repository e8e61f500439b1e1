package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "STATMGR"

// Load reads configuration from file and environment variables.
// .env and .env.local in the working directory are loaded first when present.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/statmanager/")
	}

	// Read environment variables
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found, use defaults/env)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, serrors.NewCounterError(serrors.ErrCodeConfiguration, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, serrors.NewCounterError(serrors.ErrCodeConfiguration, "failed to unmarshal config", err)
	}

	if err := applyClusterOverride(&cfg); err != nil {
		return nil, err
	}

	// Validate config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.system", "")
	v.SetDefault("app.product", "")
	v.SetDefault("app.environment", "")
	v.SetDefault("app.key_variant", "stat")
	v.SetDefault("app.host", "")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_timeout_ms", 20000)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.pool_size", 10)

	// Scan defaults
	v.SetDefault("scan.page_size", 500)
	v.SetDefault("scan.delete_rate", 0)

	// Dispatch defaults
	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue_size", 1024)

	// Agent defaults
	v.SetDefault("agent.instance_id", "")
	v.SetDefault("agent.heartbeat_interval", "10s")
	v.SetDefault("agent.online_ttl", "30s")
	v.SetDefault("agent.listen", ":9090")
	v.SetDefault("agent.shutdown_timeout", "10s")

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// applyClusterOverride parses STATMGR_CLUSTER_NODES as host:port[,host:port...]
func applyClusterOverride(cfg *Config) error {
	raw := os.Getenv(EnvPrefix + "_CLUSTER_NODES")
	if raw == "" {
		return nil
	}
	nodes, err := ParseNodes(raw)
	if err != nil {
		return err
	}
	cfg.ClusterNodes = nodes
	return nil
}

// ParseNodes parses a comma separated host:port list
func ParseNodes(raw string) ([]NodeConfig, error) {
	var nodes []NodeConfig
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := strings.LastIndex(part, ":")
		if idx <= 0 {
			return nil, serrors.Configuration("cluster_nodes", fmt.Sprintf("%q is not host:port", part))
		}
		port, err := strconv.Atoi(part[idx+1:])
		if err != nil {
			return nil, serrors.Configuration("cluster_nodes", fmt.Sprintf("%q has an invalid port", part))
		}
		nodes = append(nodes, NodeConfig{Host: part[:idx], Port: port})
	}
	return nodes, nil
}

// Render returns the effective configuration as YAML with secrets omitted
func Render(cfg *Config) ([]byte, error) {
	return yaml.Marshal(cfg)
}

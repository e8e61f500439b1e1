// Package config provides configuration management for the stat manager.
package config

import (
	"fmt"
	"net"
	"strconv"
	"time"

	serrors "github.com/MDrooker/rna-stat-manager/internal/errors"
	"github.com/MDrooker/rna-stat-manager/internal/model"
)

// Config holds all configuration for the stat manager.
type Config struct {
	App          AppConfig      `mapstructure:"app" yaml:"app"`
	Redis        RedisConfig    `mapstructure:"redis" yaml:"redis"`
	ClusterNodes []NodeConfig   `mapstructure:"cluster_nodes" yaml:"cluster_nodes,omitempty"`
	Scan         ScanConfig     `mapstructure:"scan" yaml:"scan"`
	Dispatch     DispatchConfig `mapstructure:"dispatch" yaml:"dispatch"`
	Agent        AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Metrics      MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Logging      LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// AppConfig holds the key namespace identity.
type AppConfig struct {
	System      string `mapstructure:"system" yaml:"system"`
	Product     string `mapstructure:"product" yaml:"product"`
	Environment string `mapstructure:"environment" yaml:"environment"`
	KeyVariant  string `mapstructure:"key_variant" yaml:"key_variant"`
	Host        string `mapstructure:"host" yaml:"host,omitempty"`
}

// RedisConfig holds the single-node connection settings. Password and
// timeouts also apply to cluster nodes.
type RedisConfig struct {
	Host             string `mapstructure:"host" yaml:"host"`
	Port             int    `mapstructure:"port" yaml:"port"`
	Password         string `mapstructure:"password" yaml:"-"`
	DB               int    `mapstructure:"db" yaml:"db"`
	ConnectTimeoutMs int    `mapstructure:"connect_timeout_ms" yaml:"connect_timeout_ms"`
	MaxRetries       int    `mapstructure:"max_retries" yaml:"max_retries"`
	PoolSize         int    `mapstructure:"pool_size" yaml:"pool_size"`
}

// NodeConfig is one cluster seed node.
type NodeConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns host:port
func (n NodeConfig) Addr() string {
	return net.JoinHostPort(n.Host, strconv.Itoa(n.Port))
}

// ScanConfig holds key enumeration settings.
type ScanConfig struct {
	PageSize   int     `mapstructure:"page_size" yaml:"page_size"`
	DeleteRate float64 `mapstructure:"delete_rate" yaml:"delete_rate"`
}

// DispatchConfig sizes the fire-and-forget worker pool.
type DispatchConfig struct {
	Workers   int `mapstructure:"workers" yaml:"workers"`
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size"`
}

// AgentConfig holds the heartbeat agent settings.
type AgentConfig struct {
	InstanceID        string        `mapstructure:"instance_id" yaml:"instance_id,omitempty"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	OnlineTTL         time.Duration `mapstructure:"online_ttl" yaml:"online_ttl"`
	Listen            string        `mapstructure:"listen" yaml:"listen"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// IsCluster reports whether cluster nodes are configured
func (c *Config) IsCluster() bool {
	return len(c.ClusterNodes) > 0
}

// ConnectTimeout returns the connection establishment timeout
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.Redis.ConnectTimeoutMs) * time.Millisecond
}

// Namespace returns the key namespace identity
func (c *Config) Namespace() model.Namespace {
	return model.Namespace{
		System:      c.App.System,
		Product:     c.App.Product,
		Environment: c.App.Environment,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Namespace().Validate(); err != nil {
		return err
	}
	if _, err := model.ParseVariant(c.App.KeyVariant); err != nil {
		return err
	}

	if c.IsCluster() {
		for i, n := range c.ClusterNodes {
			if n.Host == "" {
				return serrors.Configuration(fmt.Sprintf("cluster_nodes[%d].host", i), "is required")
			}
			if n.Port <= 0 || n.Port > 65535 {
				return serrors.Configuration(fmt.Sprintf("cluster_nodes[%d].port", i), fmt.Sprintf("invalid port %d", n.Port))
			}
		}
	} else {
		if c.Redis.Host == "" {
			return serrors.Configuration("redis.host", "is required")
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			return serrors.Configuration("redis.port", fmt.Sprintf("invalid port %d", c.Redis.Port))
		}
	}

	if c.Redis.ConnectTimeoutMs <= 0 {
		return serrors.Configuration("redis.connect_timeout_ms", "must be positive")
	}
	if c.Redis.MaxRetries < 0 {
		return serrors.Configuration("redis.max_retries", "must not be negative")
	}
	if c.Scan.PageSize <= 0 {
		return serrors.Configuration("scan.page_size", "must be positive")
	}
	if c.Scan.DeleteRate < 0 {
		return serrors.Configuration("scan.delete_rate", "must not be negative")
	}
	if c.Dispatch.Workers <= 0 {
		return serrors.Configuration("dispatch.workers", "must be positive")
	}
	if c.Dispatch.QueueSize <= 0 {
		return serrors.Configuration("dispatch.queue_size", "must be positive")
	}
	if c.Agent.OnlineTTL > 0 && c.Agent.HeartbeatInterval >= c.Agent.OnlineTTL {
		return serrors.Configuration("agent.heartbeat_interval", "must be shorter than agent.online_ttl")
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return serrors.Configuration("logging.format", fmt.Sprintf("unknown format %q", c.Logging.Format))
	}

	return nil
}

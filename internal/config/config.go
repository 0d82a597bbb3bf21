// Package config loads service configuration from defaults, an optional YAML
// file and CLUSTERD_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dreamware/clusterd/internal/cluster"
)

// Config holds service configuration.
type Config struct {
	ListenAddr     string          `mapstructure:"listen_addr"`
	DefaultCluster string          `mapstructure:"default_cluster"`
	CustomURL      string          `mapstructure:"custom_url"`
	Clusters       []ClusterConfig `mapstructure:"clusters"`
	Health         HealthConfig    `mapstructure:"health"`
	Switch         SwitchConfig    `mapstructure:"switch"`
}

// ClusterConfig describes one builtin cluster.
type ClusterConfig struct {
	Name      string `mapstructure:"name"`
	Slug      string `mapstructure:"slug"`
	URL       string `mapstructure:"url"`
	WebSocket bool   `mapstructure:"websocket"`
}

// HealthConfig holds health monitor settings.
type HealthConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	SlowThreshold    time.Duration `mapstructure:"slow_threshold"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
	WebSocket        bool          `mapstructure:"websocket"`
}

// SwitchConfig holds switch coordinator settings.
type SwitchConfig struct {
	Timeout  time.Duration `mapstructure:"timeout"`
	Fallback []string      `mapstructure:"fallback"`
}

// DefaultClusters are the public Solana clusters.
var DefaultClusters = []ClusterConfig{
	{Name: "Mainnet Beta", Slug: "mainnet-beta", URL: "https://api.mainnet-beta.solana.com", WebSocket: true},
	{Name: "Testnet", Slug: "testnet", URL: "https://api.testnet.solana.com", WebSocket: true},
	{Name: "Devnet", Slug: "devnet", URL: "https://api.devnet.solana.com", WebSocket: true},
}

// Load reads configuration from file and env. Env var overrides use prefix CLUSTERD_.
// The file is CLUSTERD_CONFIG when set, otherwise ./clusterd.yaml if present.
func Load() (Config, error) {
	v := viper.New()

	// default values
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("default_cluster", "mainnet-beta")
	v.SetDefault("custom_url", "")
	v.SetDefault("clusters", defaultClusterMaps())
	v.SetDefault("health.interval", 15*time.Second)
	v.SetDefault("health.timeout", 3*time.Second)
	v.SetDefault("health.slow_threshold", time.Second)
	v.SetDefault("health.failure_threshold", 3)
	v.SetDefault("health.websocket", false)
	v.SetDefault("switch.timeout", 5*time.Second)
	v.SetDefault("switch.fallback", []string{})

	v.SetConfigType("yaml")

	cfgPath := os.Getenv("CLUSTERD_CONFIG")
	if cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("clusterd")
	}

	v.SetEnvPrefix("CLUSTERD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return c, nil
}

func defaultClusterMaps() []map[string]any {
	out := make([]map[string]any, 0, len(DefaultClusters))
	for _, c := range DefaultClusters {
		out = append(out, map[string]any{
			"name":      c.Name,
			"slug":      c.Slug,
			"url":       c.URL,
			"websocket": c.WebSocket,
		})
	}
	return out
}

// Validate checks durations, thresholds and cluster references.
func (c Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen_addr is required")
	}
	if len(c.Clusters) == 0 {
		return errors.New("at least one cluster is required")
	}
	if c.Health.Interval <= 0 {
		return fmt.Errorf("health.interval must be positive, got %v", c.Health.Interval)
	}
	if c.Health.Timeout <= 0 {
		return fmt.Errorf("health.timeout must be positive, got %v", c.Health.Timeout)
	}
	if c.Health.SlowThreshold < 0 {
		return fmt.Errorf("health.slow_threshold must not be negative, got %v", c.Health.SlowThreshold)
	}
	if c.Health.SlowThreshold >= c.Health.Timeout {
		return fmt.Errorf("health.slow_threshold %v must be below health.timeout %v", c.Health.SlowThreshold, c.Health.Timeout)
	}
	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1, got %d", c.Health.FailureThreshold)
	}
	if c.Switch.Timeout <= 0 {
		return fmt.Errorf("switch.timeout must be positive, got %v", c.Switch.Timeout)
	}

	known := make(map[string]bool, len(c.Clusters))
	for _, cl := range c.Clusters {
		known[strings.ToLower(strings.TrimSpace(cl.Slug))] = true
	}
	if !known[strings.ToLower(c.DefaultCluster)] {
		return fmt.Errorf("default_cluster %q is not a configured cluster", c.DefaultCluster)
	}
	for _, ref := range c.Switch.Fallback {
		if !known[strings.ToLower(ref)] {
			return fmt.Errorf("switch.fallback %q is not a configured cluster", ref)
		}
	}
	return nil
}

// Endpoints converts the configured clusters into builtin endpoints.
func (c Config) Endpoints() []cluster.Endpoint {
	out := make([]cluster.Endpoint, 0, len(c.Clusters))
	for _, cl := range c.Clusters {
		out = append(out, cluster.Endpoint{
			Name:         cl.Name,
			Slug:         cl.Slug,
			URL:          cl.URL,
			Origin:       cluster.OriginBuiltin,
			Capabilities: cluster.Capabilities{WebSocket: cl.WebSocket},
		})
	}
	return out
}

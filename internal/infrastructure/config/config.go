// Package config loads and layers the gateway's runtime configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full gateway configuration.
type Config struct {
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Features FeatureConfig  `mapstructure:"features"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Log      LogConfig      `mapstructure:"log"`
	CertDir  string         `mapstructure:"cert_dir"`
}

// GatewayConfig controls the public HTTP surface (§6).
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// ProxyConfig controls the MITM stream proxy (C3).
type ProxyConfig struct {
	ListenPort    int      `mapstructure:"listen_port"` // 0 disables the proxy (DOM-scrape fallback)
	InterceptHost []string `mapstructure:"intercept_hosts"`
	UpstreamProxy string   `mapstructure:"upstream_proxy"` // optional chained HTTP proxy (CONNECT only; SOCKS is not supported)
	StreamBusSize int      `mapstructure:"stream_bus_size"`
}

// BrowserConfig controls how the singleton browser session launches.
type BrowserConfig struct {
	LaunchMode    string `mapstructure:"launch_mode"` // debug, headless, virtual_headless, direct_debug_no_browser
	AuthStateFile string `mapstructure:"auth_state_file"`
	DefaultModel  string `mapstructure:"default_model"`
}

// TimeoutsConfig controls the various scaled timeouts in §5.
type TimeoutsConfig struct {
	CompletionMS     int `mapstructure:"completion_ms"`     // per-request completion timeout
	QueueWaitMS      int `mapstructure:"queue_wait_ms"`      // bounded dequeue wait
	StreamIdleMS     int `mapstructure:"stream_idle_ms"`     // internal parser idle-read timeout (~30s)
	SelectorMS       int `mapstructure:"selector_ms"`        // UI-selector wait
	StreamCooldownMS int `mapstructure:"stream_cooldown_ms"` // inter-stream cooldown (~1.0s)
}

// FeatureConfig toggles optional UI affordances.
type FeatureConfig struct {
	URLContext bool `mapstructure:"url_context"`
	Search     bool `mapstructure:"search"`
	Debug      bool `mapstructure:"debug"`
}

// AuthConfig controls the optional bearer-token middleware.
type AuthConfig struct {
	Enabled  bool     `mapstructure:"enabled"`
	Token    string   `mapstructure:"token"`
	Excluded []string `mapstructure:"excluded_paths"`
}

// LogConfig controls zap construction, including rotation when
// OutputPath names a file rather than stdout/stderr.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Load reads configuration layered low-to-high: defaults → global
// ~/.aistudioproxy/config.yaml → project ./config/config.yaml or
// ./config.yaml → environment variables (AISTUDIOPROXY_ prefix).
// This mirrors the teacher's layered viper loading in
// internal/infrastructure/config/config.go, generalized from
// agent/telegram settings to gateway/proxy/browser settings.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".aistudioproxy")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break
		}
	}

	v.SetEnvPrefix("AISTUDIOPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 8080)
	v.SetDefault("gateway.mode", "release")

	v.SetDefault("proxy.listen_port", 8081)
	v.SetDefault("proxy.intercept_hosts", []string{"*.googleapis.com", "aistudio.google.com"})
	v.SetDefault("proxy.stream_bus_size", 64)

	v.SetDefault("browser.launch_mode", "headless")
	v.SetDefault("browser.default_model", "default")

	v.SetDefault("timeouts.completion_ms", int(300*time.Second/time.Millisecond))
	v.SetDefault("timeouts.queue_wait_ms", 5000)
	v.SetDefault("timeouts.stream_idle_ms", 30000)
	v.SetDefault("timeouts.selector_ms", 8000)
	v.SetDefault("timeouts.stream_cooldown_ms", 1000)

	v.SetDefault("features.url_context", false)
	v.SetDefault("features.search", false)
	v.SetDefault("features.debug", false)

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.excluded_paths", []string{"/health"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("cert_dir", "./certstore")
}

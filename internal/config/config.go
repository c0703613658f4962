package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/protocol/frame"
	"github.com/danmuck/ctxbridge/internal/relay/wsrelay"
	"github.com/pelletier/go-toml/v2"
)

// RelayConfig is the relayd file format.
type RelayConfig struct {
	ID              string            `toml:"id"`
	Addr            string            `toml:"addr"`
	Path            string            `toml:"path"`
	CorsOrigins     []string          `toml:"cors_origins"`
	AllowedOrigins  []string          `toml:"allowed_origins"`
	SendQueue       int               `toml:"send_queue"`
	WriteTimeout    string            `toml:"write_timeout"`
	MaxPayloadBytes uint64            `toml:"max_payload_bytes"`
	TLS             wsrelay.ServerTLS `toml:"tls"`
}

func LoadRelayConfig(path string) (RelayConfig, error) {
	var cfg RelayConfig
	if err := loadToml(path, &cfg); err != nil {
		return RelayConfig{}, err
	}
	cfg = withRelayDefaults(cfg)
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayConfig{}, err
	}
	return cfg, nil
}

// DefaultRelayConfig matches the relay template.
func DefaultRelayConfig() RelayConfig {
	return withRelayDefaults(RelayConfig{})
}

func withRelayDefaults(cfg RelayConfig) RelayConfig {
	def := wsrelay.DefaultHubConfig()
	if cfg.ID == "" {
		cfg.ID = "relayd"
	}
	if cfg.Addr == "" {
		cfg.Addr = ":7120"
	}
	if cfg.Path == "" {
		cfg.Path = "/relay"
	}
	if cfg.SendQueue == 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.WriteTimeout == "" {
		cfg.WriteTimeout = def.WriteTimeout.String()
	}
	if cfg.MaxPayloadBytes == 0 {
		cfg.MaxPayloadBytes = def.Limits.MaxPayloadBytes
	}
	return cfg
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayConfig) error {
	if strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("relay config missing id")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return fmt.Errorf("relay config path must start with /: %q", cfg.Path)
	}
	if cfg.SendQueue < 0 {
		return fmt.Errorf("relay config send_queue must not be negative")
	}
	if _, err := time.ParseDuration(cfg.WriteTimeout); err != nil {
		return fmt.Errorf("relay config write_timeout invalid: %w", err)
	}
	if (strings.TrimSpace(cfg.TLS.CertFile) == "") != (strings.TrimSpace(cfg.TLS.KeyFile) == "") {
		return fmt.Errorf("relay config tls requires cert_file and key_file")
	}
	if strings.TrimSpace(cfg.TLS.ClientCAFile) != "" && !cfg.TLS.Enabled() {
		return fmt.Errorf("relay config client_ca_file requires server cert")
	}
	return nil
}

// HubConfig converts the file format into hub settings.
func (c RelayConfig) HubConfig() (wsrelay.HubConfig, error) {
	out := wsrelay.DefaultHubConfig()
	d, err := time.ParseDuration(c.WriteTimeout)
	if err != nil {
		return wsrelay.HubConfig{}, err
	}
	out.WriteTimeout = d
	out.SendQueue = c.SendQueue
	out.AllowedOrigins = c.AllowedOrigins
	out.Limits = frame.Limits{MaxPayloadBytes: c.MaxPayloadBytes}
	return out, nil
}

package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/pelletier/go-toml/v2"
)

// BridgeFile is the bridgectl file layout, decoded strictly so that
// misspelled keys are reported instead of silently ignored.
type BridgeFile struct {
	ID                string   `toml:"id"`
	Endpoint          string   `toml:"endpoint"`
	Scope             string   `toml:"scope"`
	Peers             []string `toml:"peers"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	MaxAttempts       int      `toml:"max_attempts"`
	RequestTimeout    string   `toml:"request_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AdminListenAddr   string   `toml:"admin_listen_addr"`
	CorsOrigins       []string `toml:"cors_origins"`
	Retry             struct {
		InitialDelay string  `toml:"initial_delay"`
		Multiplier   float64 `toml:"multiplier"`
		MaxDelay     string  `toml:"max_delay"`
		Jitter       bool    `toml:"jitter"`
	} `toml:"retry"`
	Relay struct {
		Kind          string `toml:"kind"`
		Codec         string `toml:"codec"`
		URL           string `toml:"url"`
		RedisAddr     string `toml:"redis_addr"`
		RedisPassword string `toml:"redis_password"`
		RedisDB       int    `toml:"redis_db"`
		RedisPrefix   string `toml:"redis_prefix"`
		TLS           *struct {
			CAFile             string `toml:"ca_file"`
			CertFile           string `toml:"cert_file"`
			KeyFile            string `toml:"key_file"`
			ServerName         string `toml:"server_name"`
			InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
		} `toml:"tls"`
	} `toml:"relay"`
}

func LoadBridgeFile(path string) (BridgeFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BridgeFile{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	var cfg BridgeFile
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return BridgeFile{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := ValidateBridgeFile(cfg); err != nil {
		return BridgeFile{}, err
	}
	return cfg, nil
}

// ValidateBridgeFile checks what can be checked without defaults applied.
func ValidateBridgeFile(cfg BridgeFile) error {
	if cfg.Endpoint != "" {
		if _, err := endpoint.Parse(cfg.Endpoint); err != nil {
			return fmt.Errorf("bridge config endpoint: %w", err)
		}
	}
	for _, p := range cfg.Peers {
		if _, err := endpoint.ParseContext(p); err != nil {
			return fmt.Errorf("bridge config peer: %w", err)
		}
	}
	durations := map[string]string{
		"handshake_timeout":   cfg.HandshakeTimeout,
		"request_timeout":     cfg.RequestTimeout,
		"heartbeat_interval":  cfg.HeartbeatInterval,
		"retry.initial_delay": cfg.Retry.InitialDelay,
		"retry.max_delay":     cfg.Retry.MaxDelay,
	}
	for key, raw := range durations {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("bridge config %s invalid: %w", key, err)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Relay.Kind)) {
	case "", "memory":
	case "websocket":
		if strings.TrimSpace(cfg.Relay.URL) == "" {
			return fmt.Errorf("bridge config relay.url required for websocket relay")
		}
	case "redis":
		if strings.TrimSpace(cfg.Relay.RedisAddr) == "" {
			return fmt.Errorf("bridge config relay.redis_addr required for redis relay")
		}
	default:
		return fmt.Errorf("bridge config relay.kind unknown: %q", cfg.Relay.Kind)
	}
	return nil
}

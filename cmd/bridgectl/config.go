package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ctxbridge/internal/node"
	"github.com/danmuck/ctxbridge/internal/relay/wsrelay"
)

type fileConfig struct {
	ID                string   `toml:"id"`
	Endpoint          string   `toml:"endpoint"`
	Scope             string   `toml:"scope"`
	Peers             []string `toml:"peers"`
	HandshakeTimeout  string   `toml:"handshake_timeout"`
	MaxAttempts       int      `toml:"max_attempts"`
	RequestTimeout    string   `toml:"request_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AdminListenAddr   string   `toml:"admin_listen_addr"`
	CORSOrigins       []string `toml:"cors_origins"`

	Retry fileBackoff `toml:"retry"`
	Relay fileRelay   `toml:"relay"`
}

type fileBackoff struct {
	InitialDelay string  `toml:"initial_delay"`
	Multiplier   float64 `toml:"multiplier"`
	MaxDelay     string  `toml:"max_delay"`
	Jitter       bool    `toml:"jitter"`
}

type fileRelay struct {
	Kind          string             `toml:"kind"`
	Codec         string             `toml:"codec"`
	URL           string             `toml:"url"`
	RedisAddr     string             `toml:"redis_addr"`
	RedisPassword string             `toml:"redis_password"`
	RedisDB       int                `toml:"redis_db"`
	RedisPrefix   string             `toml:"redis_prefix"`
	TLS           *wsrelay.ClientTLS `toml:"tls"`
}

func loadServiceConfig(path string) (node.ServiceConfig, error) {
	cfg := node.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return node.ServiceConfig{}, fmt.Errorf("load bridge config: %w", err)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.NodeID = id
		}
	}
	if meta.IsDefined("endpoint") {
		cfg.Endpoint = strings.TrimSpace(raw.Endpoint)
	}
	if meta.IsDefined("scope") {
		cfg.Scope = strings.TrimSpace(raw.Scope)
	}
	if meta.IsDefined("peers") {
		cfg.Peers = normalizeList(raw.Peers)
	}
	if meta.IsDefined("max_attempts") {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CORSOrigins)
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"handshake_timeout", raw.HandshakeTimeout, &cfg.HandshakeTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
		{"heartbeat_interval", raw.HeartbeatInterval, &cfg.HeartbeatInterval},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}

	if meta.IsDefined("retry", "initial_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.Retry.InitialDelay))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse retry.initial_delay: %w", err)
		}
		cfg.RetryBackoff.InitialDelay = v
	}
	if meta.IsDefined("retry", "max_delay") {
		v, err := time.ParseDuration(strings.TrimSpace(raw.Retry.MaxDelay))
		if err != nil {
			return node.ServiceConfig{}, fmt.Errorf("parse retry.max_delay: %w", err)
		}
		cfg.RetryBackoff.MaxDelay = v
	}
	if meta.IsDefined("retry", "multiplier") {
		cfg.RetryBackoff.Multiplier = raw.Retry.Multiplier
	}
	if meta.IsDefined("retry", "jitter") {
		cfg.RetryBackoff.Jitter = raw.Retry.Jitter
	}

	if meta.IsDefined("relay", "kind") {
		cfg.Relay.Kind = node.RelayKind(strings.ToLower(strings.TrimSpace(raw.Relay.Kind)))
	}
	if meta.IsDefined("relay", "codec") {
		cfg.Relay.Codec = strings.TrimSpace(raw.Relay.Codec)
	}
	if meta.IsDefined("relay", "url") {
		cfg.Relay.URL = strings.TrimSpace(raw.Relay.URL)
	}
	if meta.IsDefined("relay", "redis_addr") {
		cfg.Relay.RedisAddr = strings.TrimSpace(raw.Relay.RedisAddr)
	}
	if meta.IsDefined("relay", "redis_password") {
		cfg.Relay.RedisPassword = raw.Relay.RedisPassword
	}
	if meta.IsDefined("relay", "redis_db") {
		cfg.Relay.RedisDB = raw.Relay.RedisDB
	}
	if meta.IsDefined("relay", "redis_prefix") {
		cfg.Relay.RedisPrefix = strings.TrimSpace(raw.Relay.RedisPrefix)
	}
	if meta.IsDefined("relay", "tls") {
		cfg.Relay.TLS = raw.Relay.TLS
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}

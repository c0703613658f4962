package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
	"github.com/pelletier/go-toml/v2"
)

func TestRelayTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := WriteTemplate(path, "relay", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadRelayConfig(path)
	if err != nil {
		t.Fatalf("load relay config: %v", err)
	}
	if cfg.ID != "relayd" || cfg.Addr != ":7120" || cfg.Path != "/relay" {
		t.Fatalf("unexpected relay config: %+v", cfg)
	}
	if cfg.TLS.Enabled() {
		t.Fatalf("template should not enable tls")
	}
	hub, err := cfg.HubConfig()
	if err != nil {
		t.Fatalf("hub config: %v", err)
	}
	if hub.SendQueue != 256 || hub.WriteTimeout != 10*time.Second || hub.Limits.MaxPayloadBytes != 8388608 {
		t.Fatalf("unexpected hub config: %+v", hub)
	}
}

func TestBridgeTemplateParses(t *testing.T) {
	testlog.Start(t)
	tmpl, err := Template(" Bridge ")
	if err != nil {
		t.Fatalf("template: %v", err)
	}
	var raw map[string]any
	if err := toml.Unmarshal([]byte(tmpl), &raw); err != nil {
		t.Fatalf("bridge template is not valid toml: %v", err)
	}
	relay, ok := raw["relay"].(map[string]any)
	if !ok || relay["kind"] != "websocket" {
		t.Fatalf("unexpected relay table: %v", raw["relay"])
	}
	if raw["scope"] != "ctxbridge" {
		t.Fatalf("unexpected scope: %v", raw["scope"])
	}
	if !strings.Contains(tmpl, "memory is local-only") {
		t.Fatalf("bridge template should document the memory relay as local-only")
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	if _, err := Template("sidebar"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "relay.toml")
	if err := os.WriteFile(path, []byte("id = \"keep\"\n"), 0o600); err != nil {
		t.Fatalf("prepare file: %v", err)
	}
	if err := WriteTemplate(path, "relay", false); err == nil {
		t.Fatalf("expected existing file error")
	}
	if err := WriteTemplate(path, "relay", true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.HasPrefix(string(data), `id = "relayd"`) {
		t.Fatalf("expected template contents, got %q", data)
	}
}

func TestLoadRelayConfigDefaultsAndValidation(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	minimal := filepath.Join(dir, "min.toml")
	if err := os.WriteFile(minimal, []byte("addr = \"127.0.0.1:9999\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadRelayConfig(minimal)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	def := DefaultRelayConfig()
	if cfg.ID != def.ID || cfg.Path != def.Path || cfg.WriteTimeout != def.WriteTimeout {
		t.Fatalf("expected defaults filled, got %+v", cfg)
	}

	bad := map[string]string{
		"path":    "path = \"relay\"\n",
		"timeout": "write_timeout = \"later\"\n",
		"keypair": "[tls]\ncert_file = \"relay.crt\"\n",
		"mtls":    "[tls]\nclient_ca_file = \"ca.crt\"\n",
	}
	for name, body := range bad {
		path := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := LoadRelayConfig(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if _, err := LoadRelayConfig(filepath.Join(dir, "missing.toml")); err == nil {
		t.Fatalf("expected missing file error")
	}
}

func TestBridgeTemplateValidatesStrictly(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.toml")
	if err := WriteTemplate(path, "bridge", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadBridgeFile(path)
	if err != nil {
		t.Fatalf("load bridge file: %v", err)
	}
	if cfg.Endpoint != "background" || len(cfg.Peers) != 5 {
		t.Fatalf("unexpected bridge file: %+v", cfg)
	}

	bad := map[string]string{
		"typo":     "scpoe = \"x\"\n",
		"endpoint": "endpoint = \"sidebar\"\n",
		"peer":     "peers = [\"nowhere\"]\n",
		"duration": "request_timeout = \"10\"\n",
		"relay":    "[relay]\nkind = \"websocket\"\n",
		"kind":     "[relay]\nkind = \"smoke\"\n",
	}
	for name, body := range bad {
		p := filepath.Join(dir, name+".toml")
		if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		if _, err := LoadBridgeFile(p); err == nil {
			t.Fatalf("%s: expected rejection", name)
		}
	}
}

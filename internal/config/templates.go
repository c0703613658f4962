package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "bridge":
		return bridgeTemplate, nil
	case "relay":
		return relayTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const bridgeTemplate = `id = "bridge.local"
endpoint = "background"
scope = "ctxbridge"
peers = ["content-script", "popup", "devtools", "options", "window"]
handshake_timeout = "100ms"
max_attempts = 0
request_timeout = "10s"
heartbeat_interval = "5s"
admin_listen_addr = "127.0.0.1:7110"
cors_origins = ["http://localhost:3000"]

[retry]
initial_delay = "0s"
multiplier = 2.0
max_delay = "1s"
jitter = false

# kind: websocket | redis | memory
# memory is local-only: a private bus inside this process, so peers are unreachable.
[relay]
kind = "websocket"
codec = "json"
url = "ws://127.0.0.1:7120/relay"
`

const relayTemplate = `id = "relayd"
addr = ":7120"
path = "/relay"
cors_origins = ["http://localhost:3000"]
allowed_origins = []
send_queue = 256
write_timeout = "10s"
max_payload_bytes = 8388608

[tls]
cert_file = ""
key_file = ""
client_ca_file = ""
`

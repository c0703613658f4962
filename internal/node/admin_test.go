package node

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/ctxbridge/internal/bridge"
	"github.com/danmuck/ctxbridge/internal/relay/memrelay"
	"github.com/danmuck/ctxbridge/internal/testutil/testlog"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	out := map[string]any{}
	if w.Body.Len() > 0 && path != "/metrics" {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s response: %v body=%s", path, err, w.Body.String())
		}
	}
	return w.Code, out
}

func TestAdminIsBridgeNode(t *testing.T) {
	testlog.Start(t)
	svc, err := NewServiceWithConfig(testConfig("bg", "background"))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	var n Node = svc.Admin()
	if n.Kind() != "bridge" || n.NodeID() != "bg" || n.HTTPRouter() == nil {
		t.Fatalf("unexpected node identity: kind=%q id=%q", n.Kind(), n.NodeID())
	}
}

func TestAdminHealthReadyAndMetrics(t *testing.T) {
	testlog.Start(t)
	svc, err := NewServiceWithTransport(testConfig("bg", "background"), memrelay.New(nil).Attach())
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	h := svc.Admin().HTTPRouter()

	code, body := doJSON(t, h, http.MethodGet, "/health", nil)
	if code != http.StatusOK || body["status"] != "ok" || body["endpoint"] != "background" {
		t.Fatalf("unexpected health: %d %v", code, body)
	}
	if code, _ := doJSON(t, h, http.MethodGet, "/ready", nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", code)
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Close()
	code, body = doJSON(t, h, http.MethodGet, "/ready", nil)
	if code != http.StatusOK || body["ready"] != true || body["node_id"] != "bg" {
		t.Fatalf("unexpected ready: %d %v", code, body)
	}
	if code, _ := doJSON(t, h, http.MethodGet, "/metrics", nil); code != http.StatusOK {
		t.Fatalf("expected metrics 200, got %d", code)
	}
}

func TestAdminListenersAndTransactions(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, testConfig("bg", "background"), memrelay.New(nil).Attach())
	h := svc.Admin().HTTPRouter()

	code, body := doJSON(t, h, http.MethodGet, "/listeners", nil)
	ids, _ := body["listeners"].([]any)
	if code != http.StatusOK || len(ids) != 2 || ids[0] != MessagePing {
		t.Fatalf("unexpected listeners: %d %v", code, body)
	}
	code, body = doJSON(t, h, http.MethodGet, "/transactions", nil)
	txs, _ := body["transactions"].([]any)
	if code != http.StatusOK || len(txs) != 0 {
		t.Fatalf("unexpected transactions: %d %v", code, body)
	}
}

func TestAdminSendLocalPing(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, testConfig("bg", "background"), memrelay.New(nil).Attach())

	code, body := doJSON(t, svc.Admin().HTTPRouter(), http.MethodPost, "/send", SendRequest{
		MessageID:   MessagePing,
		Destination: "background",
		Data:        "hi",
	})
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || data["pong"] != true || data["data"] != "hi" {
		t.Fatalf("unexpected send response: %d %v", code, body)
	}
}

func TestAdminSendAcrossRelay(t *testing.T) {
	testlog.Start(t)
	bus := memrelay.New(nil)
	bg := startService(t, testConfig("bg", "background", "options"), bus.Attach())
	startService(t, testConfig("opts", "options", "background"), bus.Attach())

	code, body := doJSON(t, bg.Admin().HTTPRouter(), http.MethodPost, "/send", SendRequest{
		MessageID:   MessagePing,
		Destination: "options",
	})
	data, _ := body["data"].(map[string]any)
	if code != http.StatusOK || data["endpoint"] != "options" {
		t.Fatalf("unexpected send response: %d %v", code, body)
	}
}

func TestAdminSendBadRequests(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, testConfig("bg", "background"), memrelay.New(nil).Attach())
	h := svc.Admin().HTTPRouter()

	if code, _ := doJSON(t, h, http.MethodPost, "/send", "{not json"); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", code)
	}
	if code, _ := doJSON(t, h, http.MethodPost, "/send", SendRequest{Destination: "background"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing message id, got %d", code)
	}
	if code, _ := doJSON(t, h, http.MethodPost, "/send", SendRequest{MessageID: MessagePing, Destination: "sidebar"}); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad destination, got %d", code)
	}
}

func TestAdminSendRemoteErrorRecord(t *testing.T) {
	testlog.Start(t)
	svc := startService(t, testConfig("bg", "background"), memrelay.New(nil).Attach())
	if err := svc.Router().OnMessage("fail", func(context.Context, bridge.Message) (any, error) {
		return nil, errors.New("quota exceeded")
	}); err != nil {
		t.Fatalf("on message: %v", err)
	}

	code, body := doJSON(t, svc.Admin().HTTPRouter(), http.MethodPost, "/send", SendRequest{
		MessageID:   "fail",
		Destination: "background",
	})
	rec, _ := body["error"].(map[string]any)
	if code != http.StatusBadGateway || rec["message"] != "quota exceeded" || rec["name"] == nil {
		t.Fatalf("unexpected error response: %d %v", code, body)
	}

	code, body = doJSON(t, svc.Admin().HTTPRouter(), http.MethodPost, "/send", SendRequest{
		MessageID:   "missing",
		Destination: "background",
	})
	rec, _ = body["error"].(map[string]any)
	if code != http.StatusBadGateway || rec["name"] != "NoHandlerError" {
		t.Fatalf("unexpected no-handler response: %d %v", code, body)
	}
}

func TestAdminSendTimeout(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig("bg", "background", "window")
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.HandshakeTimeout = 20 * time.Millisecond
	svc := startService(t, cfg, memrelay.New(nil).Attach())

	code, _ := doJSON(t, svc.Admin().HTTPRouter(), http.MethodPost, "/send", SendRequest{
		MessageID:   MessagePing,
		Destination: "window",
	})
	if code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d", code)
	}
}

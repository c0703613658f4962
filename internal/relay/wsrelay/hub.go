package wsrelay

import (
	"net/http"
	"sync"
	"time"

	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/protocol/frame"
	"github.com/danmuck/ctxbridge/internal/relay/framing"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// HubConfig tunes the relay hub.
type HubConfig struct {
	Limits       frame.Limits
	SendQueue    int
	WriteTimeout time.Duration
	// AllowedOrigins restricts browser upgrades; empty accepts any origin.
	AllowedOrigins []string
}

func DefaultHubConfig() HubConfig {
	return HubConfig{
		Limits:       frame.DefaultLimits(),
		SendQueue:    256,
		WriteTimeout: 10 * time.Second,
	}
}

// Hub is the shared relay: broadcast frames go to every connected client and
// port acks go back to the client that opened the port.
type Hub struct {
	cfg      HubConfig
	codecs   *codec.Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu      sync.RWMutex
	clients map[*hubClient]struct{}
	owners  map[string]*hubClient
	closed  bool
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *hubClient) stop() {
	c.once.Do(func() { close(c.done) })
}

func NewHub(cfg HubConfig) *Hub {
	def := DefaultHubConfig()
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	h := &Hub{
		cfg:     cfg,
		codecs:  codec.Default(),
		log:     logging.Component("wsrelay"),
		clients: make(map[*hubClient]struct{}),
		owners:  make(map[string]*hubClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Clients is the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		c.stop()
		_ = c.conn.Close()
	}
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("wsrelay.Hub.ServeHTTP upgrade failed")
		return
	}
	conn.SetReadLimit(int64(h.cfg.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))
	c := &hubClient{
		conn: conn,
		send: make(chan []byte, h.cfg.SendQueue),
		done: make(chan struct{}),
	}
	if !h.add(c) {
		_ = conn.Close()
		return
	}
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("wsrelay.Hub client connected")

	go h.writeLoop(c)
	h.readLoop(c)

	h.remove(c)
	c.stop()
	_ = conn.Close()
	h.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("wsrelay.Hub client disconnected")
}

func (h *Hub) add(c *hubClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	for id, owner := range h.owners {
		if owner == c {
			delete(h.owners, id)
		}
	}
}

func (h *Hub) readLoop(c *hubClient) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("wsrelay.Hub.readLoop closed unexpectedly")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		header, rec, err := framing.Decode(h.codecs, data, h.cfg.Limits)
		if err != nil {
			h.log.Debug().Err(err).Msg("wsrelay.Hub.readLoop frame dropped")
			continue
		}
		switch header.Kind {
		case frame.KindBroadcast:
			h.broadcast(data)
		case frame.KindPortOpen:
			h.mu.Lock()
			h.owners[rec.Port] = c
			h.mu.Unlock()
		case frame.KindPortClose:
			h.mu.Lock()
			if h.owners[rec.Port] == c {
				delete(h.owners, rec.Port)
			}
			h.mu.Unlock()
		case frame.KindPortAck:
			h.mu.RLock()
			owner := h.owners[rec.Port]
			h.mu.RUnlock()
			if owner != nil {
				h.enqueue(owner, data)
			}
		}
	}
}

func (h *Hub) broadcast(data []byte) {
	h.mu.RLock()
	targets := make([]*hubClient, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		h.enqueue(c, data)
	}
}

func (h *Hub) enqueue(c *hubClient, data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		h.log.Warn().Err(ErrSlowConsumer).Str("remote", c.conn.RemoteAddr().String()).Msg("wsrelay.Hub.enqueue frame dropped")
	}
}

func (h *Hub) writeLoop(c *hubClient) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				h.log.Debug().Err(err).Msg("wsrelay.Hub.writeLoop write failed")
				c.stop()
				_ = c.conn.Close()
				return
			}
		}
	}
}

package wsrelay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/protocol"
	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/protocol/frame"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/danmuck/ctxbridge/internal/relay/framing"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config configures a relay client.
type Config struct {
	// URL is the hub address, ws:// or wss://.
	URL              string
	Codec            codec.Codec
	TLS              *ClientTLS
	Header           http.Header
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Limits           frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Codec:            codec.JSON(),
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		Limits:           frame.DefaultLimits(),
	}
}

// Transport is a relay.Transport connected to a Hub.
type Transport struct {
	cfg    Config
	conn   *websocket.Conn
	codecs *codec.Registry
	log    zerolog.Logger

	writeMu sync.Mutex

	mu       sync.RWMutex
	subs     map[string]func(relay.Inbound)
	channels map[string]*channel
	closed   bool

	closeOnce sync.Once
	done      chan struct{}
}

// Dial connects to the hub at cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	def := DefaultConfig()
	cfg.URL = strings.TrimSpace(cfg.URL)
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	if cfg.TLS != nil {
		tlsCfg, err := cfg.TLS.Config()
		if err != nil {
			return nil, err
		}
		dialer.TLSClientConfig = tlsCfg
	}
	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(int64(cfg.Limits.MaxPayloadBytes) + int64(frame.FixedHeaderLen))

	t := &Transport{
		cfg:      cfg,
		conn:     conn,
		codecs:   codec.Default(),
		log:      logging.Component("wsrelay").With().Str("url", cfg.URL).Logger(),
		subs:     make(map[string]func(relay.Inbound)),
		channels: make(map[string]*channel),
		done:     make(chan struct{}),
	}
	go t.readLoop()
	t.log.Debug().Msg("wsrelay.Transport.Dial connected")
	return t, nil
}

// Done is closed once the connection to the hub is gone.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) OpenChannel(ctx context.Context) (relay.Channel, error) {
	ch := &channel{
		t:    t,
		id:   uuid.NewString(),
		acks: make(chan bool, 1),
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, relay.ErrClosed
	}
	t.channels[ch.id] = ch
	t.mu.Unlock()

	if err := t.write(ctx, frame.KindPortOpen, framing.Record{Port: ch.id}); err != nil {
		t.dropChannel(ch.id)
		return nil, err
	}
	return ch, nil
}

func (t *Transport) Broadcast(ctx context.Context, msg protocol.RelayMessage, ch relay.Channel) error {
	rec := framing.Record{Message: msg}
	if ch != nil {
		rec.Port = ch.ID()
	}
	return t.write(ctx, frame.KindBroadcast, rec)
}

func (t *Transport) Subscribe(fn func(relay.Inbound)) (func(), error) {
	id := uuid.NewString()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, relay.ErrClosed
	}
	t.subs[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs, id)
	}, nil
}

func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.writeMu.Lock()
		_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = t.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		t.writeMu.Unlock()
		err = t.conn.Close()
		<-t.done
	})
	return err
}

func (t *Transport) write(ctx context.Context, kind frame.Kind, rec framing.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.RLock()
	closed := t.closed
	t.mu.RUnlock()
	if closed {
		return relay.ErrClosed
	}
	data, err := framing.Encode(t.cfg.Codec, kind, rec, t.cfg.Limits)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(t.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.conn.SetWriteDeadline(deadline)
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *Transport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		close(t.done)
	}()
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.log.Warn().Err(err).Msg("wsrelay.Transport.readLoop connection lost")
			}
			return
		}
		if messageType != websocket.BinaryMessage {
			continue
		}
		header, rec, err := framing.Decode(t.codecs, data, t.cfg.Limits)
		if err != nil {
			t.log.Debug().Err(err).Msg("wsrelay.Transport.readLoop frame dropped")
			continue
		}
		switch header.Kind {
		case frame.KindBroadcast:
			t.dispatch(header, rec)
		case frame.KindPortAck:
			t.mu.RLock()
			ch := t.channels[rec.Port]
			t.mu.RUnlock()
			if ch != nil {
				ch.offer(rec.Ack)
			}
		}
	}
}

func (t *Transport) dispatch(header frame.Header, rec framing.Record) {
	in := relay.Inbound{Message: rec.Message}
	if framing.Attached(header, rec) {
		in.Ports = []relay.Port{port{t: t, id: rec.Port}}
	}
	t.mu.RLock()
	subs := make([]func(relay.Inbound), 0, len(t.subs))
	for _, fn := range t.subs {
		subs = append(subs, fn)
	}
	t.mu.RUnlock()
	for _, fn := range subs {
		fn(in)
	}
}

func (t *Transport) dropChannel(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.channels, id)
}

type channel struct {
	t    *Transport
	id   string
	acks chan bool
	once sync.Once
}

func (c *channel) ID() string        { return c.id }
func (c *channel) Acks() <-chan bool { return c.acks }

func (c *channel) offer(ack bool) {
	select {
	case c.acks <- ack:
	default:
	}
}

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		c.t.dropChannel(c.id)
		err = c.t.write(context.Background(), frame.KindPortClose, framing.Record{Port: c.id})
		if errors.Is(err, relay.ErrClosed) {
			err = nil
		}
	})
	return err
}

// port posts acks back through the hub to the channel's opener.
type port struct {
	t  *Transport
	id string
}

func (p port) Post(ctx context.Context, ack bool) error {
	return p.t.write(ctx, frame.KindPortAck, framing.Record{Port: p.id, Ack: ack})
}

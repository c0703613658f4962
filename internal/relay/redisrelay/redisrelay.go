// Package redisrelay runs the relay over Redis pub/sub.
//
// Broadcasts are published on <prefix>:relay; each private channel is a
// dedicated <prefix>:port:<id> subscription owned by its opener.
package redisrelay

import (
	"context"
	"errors"
	"fmt"
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
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var ErrAddrRequired = errors.New("redisrelay: address required")

const DefaultPrefix = "ctxbridge"

type Config struct {
	Addr        string
	Password    string
	DB          int
	Prefix      string
	Codec       codec.Codec
	DialTimeout time.Duration
	Limits      frame.Limits
}

func DefaultConfig() Config {
	return Config{
		Prefix:      DefaultPrefix,
		Codec:       codec.JSON(),
		DialTimeout: 5 * time.Second,
		Limits:      frame.DefaultLimits(),
	}
}

// Transport is a relay.Transport backed by one Redis client.
type Transport struct {
	cfg    Config
	client *redis.Client
	relay  *redis.PubSub
	codecs *codec.Registry
	log    zerolog.Logger

	mu     sync.RWMutex
	subs   map[string]func(relay.Inbound)
	closed bool

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// Dial connects to Redis and subscribes to the relay channel.
func Dial(ctx context.Context, cfg Config) (*Transport, error) {
	def := DefaultConfig()
	cfg.Addr = strings.TrimSpace(cfg.Addr)
	if cfg.Addr == "" {
		return nil, ErrAddrRequired
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = def.Prefix
	}
	if cfg.Codec == nil {
		cfg.Codec = def.Codec
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = def.DialTimeout
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = def.Limits
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redisrelay: connect %s: %w", cfg.Addr, err)
	}

	t := &Transport{
		cfg:    cfg,
		client: client,
		codecs: codec.Default(),
		log:    logging.Component("redisrelay").With().Str("addr", cfg.Addr).Logger(),
		subs:   make(map[string]func(relay.Inbound)),
	}
	ps := client.Subscribe(ctx, t.relayChannel())
	if _, err := ps.Receive(pingCtx); err != nil {
		_ = ps.Close()
		_ = client.Close()
		return nil, fmt.Errorf("redisrelay: subscribe: %w", err)
	}
	t.relay = ps
	t.wg.Add(1)
	go t.readLoop(ps.Channel())
	return t, nil
}

func (t *Transport) relayChannel() string {
	return t.cfg.Prefix + ":relay"
}

func (t *Transport) portChannel(id string) string {
	return t.cfg.Prefix + ":port:" + id
}

func (t *Transport) OpenChannel(ctx context.Context) (relay.Channel, error) {
	if t.isClosed() {
		return nil, relay.ErrClosed
	}
	id := uuid.NewString()
	ps := t.client.Subscribe(ctx, t.portChannel(id))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	ch := &channel{
		id:   id,
		ps:   ps,
		acks: make(chan bool, 1),
	}
	go t.portLoop(ch)
	return ch, nil
}

func (t *Transport) Broadcast(ctx context.Context, msg protocol.RelayMessage, ch relay.Channel) error {
	rec := framing.Record{Message: msg}
	if ch != nil {
		rec.Port = ch.ID()
	}
	return t.publish(ctx, t.relayChannel(), frame.KindBroadcast, rec)
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
		err = t.relay.Close()
		t.wg.Wait()
		if cerr := t.client.Close(); err == nil {
			err = cerr
		}
	})
	return err
}

func (t *Transport) isClosed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.closed
}

func (t *Transport) publish(ctx context.Context, channel string, kind frame.Kind, rec framing.Record) error {
	_, err := t.publishCount(ctx, channel, kind, rec)
	return err
}

// publishCount returns the number of subscribers that received the frame.
func (t *Transport) publishCount(ctx context.Context, channel string, kind frame.Kind, rec framing.Record) (int64, error) {
	if t.isClosed() {
		return 0, relay.ErrClosed
	}
	data, err := framing.Encode(t.cfg.Codec, kind, rec, t.cfg.Limits)
	if err != nil {
		return 0, err
	}
	return t.client.Publish(ctx, channel, data).Result()
}

func (t *Transport) readLoop(msgs <-chan *redis.Message) {
	defer t.wg.Done()
	for msg := range msgs {
		header, rec, err := framing.Decode(t.codecs, []byte(msg.Payload), t.cfg.Limits)
		if err != nil {
			t.log.Debug().Err(err).Msg("redisrelay.Transport.readLoop frame dropped")
			continue
		}
		if header.Kind != frame.KindBroadcast {
			continue
		}
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
}

func (t *Transport) portLoop(ch *channel) {
	for msg := range ch.ps.Channel() {
		header, rec, err := framing.Decode(t.codecs, []byte(msg.Payload), t.cfg.Limits)
		if err != nil || header.Kind != frame.KindPortAck || rec.Port != ch.id {
			continue
		}
		select {
		case ch.acks <- rec.Ack:
		default:
		}
	}
}

type channel struct {
	id   string
	ps   *redis.PubSub
	acks chan bool
	once sync.Once
}

func (c *channel) ID() string        { return c.id }
func (c *channel) Acks() <-chan bool { return c.acks }

func (c *channel) Close() error {
	var err error
	c.once.Do(func() {
		err = c.ps.Close()
	})
	return err
}

type port struct {
	t  *Transport
	id string
}

// Post publishes an ack to the opener; relay.ErrClosed when nobody holds the channel.
func (p port) Post(ctx context.Context, ack bool) error {
	n, err := p.t.publishCount(ctx, p.t.portChannel(p.id), frame.KindPortAck, framing.Record{Port: p.id, Ack: ack})
	if err != nil {
		return err
	}
	if n == 0 {
		return relay.ErrClosed
	}
	return nil
}

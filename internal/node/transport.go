package node

import (
	"context"
	"fmt"

	"github.com/danmuck/ctxbridge/internal/protocol/codec"
	"github.com/danmuck/ctxbridge/internal/relay"
	"github.com/danmuck/ctxbridge/internal/relay/memrelay"
	"github.com/danmuck/ctxbridge/internal/relay/redisrelay"
	"github.com/danmuck/ctxbridge/internal/relay/wsrelay"
)

// dialRelay builds the transport named by cfg.
func dialRelay(ctx context.Context, cfg RelayConfig) (relay.Transport, error) {
	c, err := codec.Default().Lookup(cfg.Codec)
	if err != nil {
		return nil, err
	}
	switch cfg.Kind {
	case RelayMemory:
		return memrelay.New(c).Attach(), nil
	case RelayWebsocket:
		t, err := wsrelay.Dial(ctx, wsrelay.Config{
			URL:   cfg.URL,
			Codec: c,
			TLS:   cfg.TLS,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	case RelayRedis:
		t, err := redisrelay.Dial(ctx, redisrelay.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Prefix:   cfg.RedisPrefix,
			Codec:    c,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelayKind, cfg.Kind)
	}
}

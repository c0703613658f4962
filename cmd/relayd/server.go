package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/config"
	"github.com/danmuck/ctxbridge/internal/logging"
	"github.com/danmuck/ctxbridge/internal/node"
	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/relay/wsrelay"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Relay hosts one websocket hub plus health and metrics routes.
type Relay struct {
	cfg      config.RelayConfig
	hub      *wsrelay.Hub
	router   *gin.Engine
	log      zerolog.Logger
	appeared time.Time
}

var _ node.Node = (*Relay)(nil)

func NewRelay(cfg config.RelayConfig) (*Relay, error) {
	hubCfg, err := cfg.HubConfig()
	if err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(cfg.ID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: corsOrigins(cfg.CorsOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Relay{
		cfg:      cfg,
		hub:      wsrelay.NewHub(hubCfg),
		router:   r,
		log:      logging.Component("relayd").With().Str("node", cfg.ID).Logger(),
		appeared: time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

func (s *Relay) NodeID() string { return s.cfg.ID }

func (s *Relay) Kind() string { return "relay" }

func (s *Relay) HTTPRouter() *gin.Engine { return s.router }

func (s *Relay) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"relay":   s.cfg.ID,
			"clients": s.hub.Clients(),
			"version": node.Version,
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET(s.cfg.Path, gin.WrapH(s.hub))
}

// Serve listens until ctx ends, then closes the hub and drains the server.
func (s *Relay) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.cfg.TLS.Enabled() {
		tlsCfg, err := s.cfg.TLS.Config()
		if err != nil {
			return err
		}
		srv.TLSConfig = tlsCfg
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().
			Str("addr", s.cfg.Addr).
			Str("path", s.cfg.Path).
			Bool("tls", s.cfg.TLS.Enabled()).
			Msg("relayd.Relay.Serve listening")
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		s.hub.Close()
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("relayd.Relay.Serve shutdown")
	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func corsOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		if v := strings.TrimSpace(origin); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		out = []string{"http://localhost:3000"}
	}
	return out
}

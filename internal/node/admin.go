package node

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/ctxbridge/internal/bridge"
	"github.com/danmuck/ctxbridge/internal/endpoint"
	"github.com/danmuck/ctxbridge/internal/observability"
	"github.com/danmuck/ctxbridge/internal/protocol/errwire"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Admin is the node's HTTP control surface.
type Admin struct {
	svc    *Service
	router *gin.Engine
}

var _ Node = (*Admin)(nil)

// SendRequest is the body of POST /send.
type SendRequest struct {
	MessageID   string `json:"message_id" binding:"required"`
	Destination string `json:"destination" binding:"required"`
	Data        any    `json:"data"`
}

func newAdmin(s *Service) *Admin {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.NodeID))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CORSOrigins),
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	a := &Admin{svc: s, router: r}
	a.registerRoutes()
	return a
}

func (a *Admin) NodeID() string { return a.svc.cfg.NodeID }

func (a *Admin) Kind() string { return "bridge" }

func (a *Admin) HTTPRouter() *gin.Engine { return a.router }

func (a *Admin) registerRoutes() {
	r := a.router
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"uptime":   time.Since(a.svc.appeared).String(),
			"node":     a.svc.cfg.NodeID,
			"endpoint": a.svc.local.String(),
			"version":  Version,
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !a.svc.Ready() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, a.svc.Status())
	})

	r.GET("/listeners", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"listeners": a.svc.router.Listeners().IDs()})
	})

	r.GET("/transactions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"transactions": a.svc.router.Transactions().List()})
	})

	r.POST("/send", a.send)
}

func (a *Admin) send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	data, err := a.svc.Send(c.Request.Context(), req.MessageID, req.Data, req.Destination)
	if err != nil {
		status := sendStatus(err)
		body := gin.H{"error": errwire.Serialize(err)}
		if status == http.StatusBadRequest || status == http.StatusGatewayTimeout {
			body = gin.H{"error": err.Error()}
		}
		c.JSON(status, body)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": data})
}

func sendStatus(err error) int {
	switch {
	case errors.Is(err, endpoint.ErrInvalidEndpoint), errors.Is(err, bridge.ErrInvalidMessageID):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "" {
			continue
		}
		out = append(out, origin)
	}
	if len(out) == 0 {
		out = []string{"http://localhost:3000"}
	}
	return out
}

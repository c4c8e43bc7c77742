// Package gateway exposes the platform-facing HTTP surface: inbound
// webhooks for each channel, the outbound send API, and the callback
// endpoint the external agent wrapper delivers deferred results to.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jholhewres/clawgate/pkg/clawgate/channels"
)

// Config holds gateway settings.
type Config struct {
	// Address is the listen address, e.g. ":8085".
	Address string `yaml:"address"`

	// AuthToken guards /send_msg and /api/* when set. Webhooks carry their
	// own platform verification and are exempt.
	AuthToken string `yaml:"auth_token"`
}

// Gateway is the HTTP server in front of the channel registry.
type Gateway struct {
	cfg       Config
	registry  *channels.Registry
	server    *http.Server
	logger    *slog.Logger
	startedAt time.Time

	// webhooks are the per-platform inbound handlers mounted at
	// /api/<platform>/event.
	webhooks map[string]http.Handler
}

// New creates a Gateway over the channel registry.
func New(cfg Config, registry *channels.Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = ":8085"
	}
	return &Gateway{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "gateway"),
		webhooks: make(map[string]http.Handler),
	}
}

// MountWebhook registers a platform's inbound handler at
// /api/<platform>/event. Must be called before Start.
func (g *Gateway) MountWebhook(platform string, h http.Handler) {
	g.webhooks[platform] = h
}

// Handler builds the full HTTP handler. Exposed for tests.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/send_msg", g.handleSendMsg)
	mux.HandleFunc("/api/clawdbot/callback", g.handleCallback)
	for platform, h := range g.webhooks {
		mux.Handle("/api/"+platform+"/event", h)
	}
	return g.authMiddleware(mux)
}

// webhookPath reports whether the request path is a mounted platform
// webhook. Webhooks carry platform-level verification instead of the
// gateway token.
func (g *Gateway) webhookPath(path string) bool {
	for platform := range g.webhooks {
		if path == "/api/"+platform+"/event" {
			return true
		}
	}
	return false
}

// Start begins serving. It returns once the listener is accepting;
// ListenAndServe errors after that are logged, not returned.
func (g *Gateway) Start(ctx context.Context) error {
	g.startedAt = time.Now()
	g.server = &http.Server{
		Addr:              g.cfg.Address,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if g.cfg.AuthToken == "" {
		host, _, _ := net.SplitHostPort(g.cfg.Address)
		ip := net.ParseIP(host)
		if host != "" && host != "localhost" && (ip == nil || !ip.IsLoopback()) {
			g.logger.Warn("gateway has no auth token on a non-loopback address", "address", g.cfg.Address)
		}
	}

	ln, err := net.Listen("tcp", g.cfg.Address)
	if err != nil {
		return fmt.Errorf("gateway listen on %s: %w", g.cfg.Address, err)
	}
	g.logger.Info("gateway listening", "address", g.cfg.Address)

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway server stopped", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}
	return g.server.Shutdown(ctx)
}

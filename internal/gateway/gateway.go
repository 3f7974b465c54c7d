// Package gateway is the client-facing HTTP and WebSocket surface: room
// signaling sessions and tunnels to individual SFUs.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"sfu-gateway/internal/auth"
	"sfu-gateway/internal/balance"
	"sfu-gateway/internal/model"
	"sfu-gateway/internal/platform/logger"
	"sfu-gateway/internal/platform/metrics"
	"sfu-gateway/internal/registry"
	"sfu-gateway/internal/roster"
	"sfu-gateway/internal/selection"
)

const (
	writeTimeout     = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	// pollRetryDelay is the pause after a failed change poll.
	pollRetryDelay = time.Second
)

// Registry is what the gateway needs from the SFU registry.
type Registry interface {
	selection.Registry
	StartCursor(ctx context.Context, roomID model.RoomID) string
	GetTracksInRoom(ctx context.Context, roomID model.RoomID) []model.TrackInfo
	AwaitTrackChanges(ctx context.Context, roomID model.RoomID, cursor string) (registry.TrackChanges, error)
	GetSfuAddress(ctx context.Context, sfuID model.SfuID) (string, error)
	GetLegacySfuAddressByRoomID(ctx context.Context, roomID model.RoomID) (string, bool, error)
}

// Config wires a Gateway.
type Config struct {
	Registry Registry
	Roster   roster.Source
	Auth     auth.Authenticator
	Policy   balance.Policy
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// UpdateGauges runs before each metrics scrape.
	UpdateGauges func()
}

// Gateway serves the gateway routes. Close ends every open session.
type Gateway struct {
	registry Registry
	selector *selection.Selector
	auth     auth.Authenticator
	metrics  *metrics.Metrics
	logger   *slog.Logger
	update   func()

	upgrader websocket.Upgrader
	dialer   websocket.Dialer

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Gateway. A nil Metrics gets a private registry.
func New(cfg Config) *Gateway {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	met := cfg.Metrics
	if met == nil {
		met = metrics.New()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		registry: cfg.Registry,
		selector: selection.NewSelector(cfg.Registry, cfg.Roster, cfg.Policy, log, met.ObserveSelection),
		auth:     cfg.Auth,
		metrics:  met,
		logger:   log,
		update:   cfg.UpdateGauges,
		upgrader: websocket.Upgrader{
			HandshakeTimeout: handshakeTimeout,
			CheckOrigin:      func(*http.Request) bool { return true },
		},
		dialer: websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Handler returns the routed handler with request logging and metrics.
func (g *Gateway) Handler() http.Handler {
	rt := NewRouter(g.logger)
	rt.Use(logger.RequestLogger(g.logger))
	rt.Use(metrics.RequestMiddleware(g.metrics))

	rt.Get("/server-health", g.health)
	rt.Get("/metrics", g.metrics.Handler(g.update).ServeHTTP)

	rt.Upgrade("/room", g.handleRoom)
	rt.Upgrade("/sfuid/:sfuId", g.handleSfuID)
	rt.Upgrade("/sfu/:roomId", g.handleLegacyRoom)
	return rt
}

// Close ends open room sessions and tunnels. It does not wait for them.
func (g *Gateway) Close() {
	g.cancel()
}

func (g *Gateway) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Ok"))
}

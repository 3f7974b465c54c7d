package gateway

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
)

// Router dispatches plain GET requests and WebSocket upgrades through two
// separate route tables. A GET with no matching route gets 404. An upgrade
// with no matching route has its connection closed without a handshake.
type Router struct {
	get     *chi.Mux
	upgrade *chi.Mux
	logger  *slog.Logger
}

// NewRouter returns an empty Router.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	rt := &Router{get: chi.NewRouter(), upgrade: chi.NewRouter(), logger: logger}

	notFound := func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	}
	rt.get.NotFound(notFound)
	rt.get.MethodNotAllowed(notFound)

	rt.upgrade.NotFound(rt.refuseUpgrade)
	rt.upgrade.MethodNotAllowed(rt.refuseUpgrade)

	for _, mux := range []*chi.Mux{rt.get, rt.upgrade} {
		mux.Use(middleware.StripSlashes)
	}
	return rt
}

// Use appends middleware to both route tables. It must be called before
// any route is added.
func (rt *Router) Use(middlewares ...func(http.Handler) http.Handler) {
	rt.get.Use(middlewares...)
	rt.upgrade.Use(middlewares...)
}

// Get adds a plain GET route. pattern may contain :name segments.
func (rt *Router) Get(pattern string, h http.HandlerFunc) {
	rt.get.Get(chiPattern(pattern), h)
}

// Upgrade adds a WebSocket route. pattern may contain :name segments.
func (rt *Router) Upgrade(pattern string, h http.HandlerFunc) {
	rt.upgrade.Get(chiPattern(pattern), h)
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if websocket.IsWebSocketUpgrade(r) {
		rt.upgrade.ServeHTTP(w, r)
		return
	}
	rt.get.ServeHTTP(w, r)
}

func (rt *Router) refuseUpgrade(w http.ResponseWriter, r *http.Request) {
	rt.logger.Debug("no route for upgrade", "path", r.URL.Path)
	hijackClose(w)
}

// hijackClose drops the client connection without writing a response.
func hijackClose(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		return
	}
	conn.Close()
}

// chiPattern rewrites "/sfuid/:sfuId" as "/sfuid/{sfuId}".
func chiPattern(pattern string) string {
	segments := strings.Split(pattern, "/")
	for i, s := range segments {
		if strings.HasPrefix(s, ":") && len(s) > 1 {
			segments[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segments, "/")
}

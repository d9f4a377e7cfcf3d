// File: router/router.go
// License: Apache-2.0
//
// Route table, CORS decoration and request logging.

package router

import (
	"net/http"
	"sort"
	"sync"

	"github.com/wordrush/wsreactor/control"
	"github.com/wordrush/wsreactor/protocol"
	"github.com/wordrush/wsreactor/server"
	"go.uber.org/zap"
)

// HandlerFunc serves one route. A returned error is rendered by
// errorResponse; a nil response with a nil error becomes 204.
type HandlerFunc func(c *server.Conn, req *protocol.Request) (*protocol.Response, error)

// corsMethods is advertised on every response regardless of route.
const corsMethods = "GET, POST, OPTIONS, PUT, DELETE, PATCH"

// routeUnmatched labels responses for unknown paths in metrics.
const routeUnmatched = "unmatched"

// Router dispatches requests by path and method.
type Router struct {
	mu     sync.RWMutex
	routes map[string]map[protocol.Method]HandlerFunc

	log     *zap.Logger
	metrics *control.Metrics
	store   *control.ConfigStore
	probes  *control.DebugProbes
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the request logger.
func WithLogger(l *zap.Logger) Option { return func(r *Router) { r.log = l } }

// WithMetrics records response counts.
func WithMetrics(m *control.Metrics) Option { return func(r *Router) { r.metrics = m } }

// WithConfigStore supplies the allowed origin for CORS.
func WithConfigStore(cs *control.ConfigStore) Option { return func(r *Router) { r.store = cs } }

// WithDebugProbes exposes probes on GET /debug/state.
func WithDebugProbes(dp *control.DebugProbes) Option { return func(r *Router) { r.probes = dp } }

// New creates a router with GET /health registered.
func New(opts ...Option) *Router {
	r := &Router{
		routes: make(map[string]map[protocol.Method]HandlerFunc),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.Handle("/health", protocol.MethodGet, func(*server.Conn, *protocol.Request) (*protocol.Response, error) {
		return protocol.JSON(http.StatusOK, map[string]string{"status": "ok"}), nil
	})
	if r.probes != nil {
		r.Handle("/debug/state", protocol.MethodGet, func(*server.Conn, *protocol.Request) (*protocol.Response, error) {
			return protocol.JSON(http.StatusOK, r.probes.DumpState()), nil
		})
	}
	return r
}

// Handle registers h for path and method, replacing an earlier handler.
func (r *Router) Handle(path string, m protocol.Method, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byMethod, ok := r.routes[path]
	if !ok {
		byMethod = make(map[protocol.Method]HandlerFunc)
		r.routes[path] = byMethod
	}
	byMethod[m] = h
}

// Allowed returns the methods registered for path, in method order, plus
// OPTIONS. Unknown paths yield only OPTIONS.
func (r *Router) Allowed(path string) []protocol.Method {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Method, 0, len(r.routes[path])+1)
	for m := range r.routes[path] {
		if m != protocol.MethodOptions {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return append(out, protocol.MethodOptions)
}

// LogRoutes writes every registered route at info level.
func (r *Router) LogRoutes() {
	r.mu.RLock()
	paths := make([]string, 0, len(r.routes))
	for p := range r.routes {
		paths = append(paths, p)
	}
	r.mu.RUnlock()
	sort.Strings(paths)
	for _, p := range paths {
		for _, m := range r.Allowed(p) {
			if m != protocol.MethodOptions {
				r.log.Info("registered route", zap.String("path", p), zap.Stringer("method", m))
			}
		}
	}
}

// HandleHTTP implements the HTTP half of server.Handler.
func (r *Router) HandleHTTP(c *server.Conn, req *protocol.Request) *protocol.Response {
	resp, route := r.dispatch(c, req)
	r.decorate(resp)
	r.metrics.Response(route, resp.StatusCode)
	r.logResult(c, req, resp)
	return resp
}

func (r *Router) dispatch(c *server.Conn, req *protocol.Request) (*protocol.Response, string) {
	r.mu.RLock()
	byMethod, known := r.routes[req.Path]
	h := byMethod[req.Method]
	r.mu.RUnlock()

	route := req.Path
	if !known {
		route = routeUnmatched
	}
	if req.Method == protocol.MethodOptions && h == nil {
		return protocol.Options(r.Allowed(req.Path)), route
	}
	if !known {
		return protocol.ErrorJSON(http.StatusNotFound, "Path not found"), route
	}
	if h == nil {
		return protocol.ErrorJSON(http.StatusMethodNotAllowed, "Method not allowed for this path"), route
	}
	resp, err := h(c, req)
	if err != nil {
		return errorResponse(err), route
	}
	if resp == nil {
		resp = protocol.NoContent()
	}
	return resp, route
}

func (r *Router) decorate(resp *protocol.Response) {
	origin := "*"
	if r.store != nil {
		origin = r.store.GetString(control.KeyAllowedOrigin, origin)
	}
	h := &resp.Headers
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Credentials", "true")
	h.Set("Access-Control-Max-Age", "86400")
	h.Set("Access-Control-Expose-Headers", "Content-Type")
	h.Set("Access-Control-Allow-Methods", corsMethods)
	if !h.Has("Connection") {
		h.Set("Connection", "keep-alive")
	}
}

func (r *Router) logResult(c *server.Conn, req *protocol.Request, resp *protocol.Response) {
	fields := []zap.Field{
		zap.String("method", req.RawMethod),
		zap.String("path", req.Path),
		zap.Int("status", resp.StatusCode),
	}
	if c != nil {
		fields = append(fields, zap.String("peer", c.Peer()))
	}
	if resp.StatusCode >= 400 {
		r.log.Error("request failed", fields...)
		return
	}
	r.log.Info("request served", fields...)
}

package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

type HandlerFunc func(http.ResponseWriter, *http.Request)

// Router is a small method-aware mux with single-segment and trailing
// wildcards ("*"). Registered handlers are matched exact-first, then by
// wildcard pattern; a known path with the wrong method gets 405.
type Router struct {
	mux    *http.ServeMux
	log    *zap.SugaredLogger
	routes map[string]HandlerFunc // key = METHOD:PATH
	paths  map[string]bool
	// wildcard patterns in registration order, so more specific routes
	// registered first win
	patterns []string
	server   *http.Server
}

func New(log *zap.SugaredLogger) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		log:    log,
		routes: make(map[string]HandlerFunc),
		paths:  make(map[string]bool),
	}

	r.mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		r.dispatch(lrw, req)
		r.log.Infow("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", lrw.statusCode,
			"duration", time.Since(start),
		)
	})

	return r
}

func (r *Router) dispatch(w http.ResponseWriter, req *http.Request) {
	if h, ok := r.routes[req.Method+":"+req.URL.Path]; ok {
		h(w, req)
		return
	}

	for _, pattern := range r.patterns {
		if !matchWildcardRoute(req.URL.Path, pattern) {
			continue
		}
		if h, ok := r.routes[req.Method+":"+pattern]; ok {
			h(w, req)
			return
		}
	}

	if r.pathKnown(req.URL.Path) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	http.Error(w, "Not Found", http.StatusNotFound)
}

func (r *Router) pathKnown(path string) bool {
	if r.paths[path] {
		return true
	}
	for _, pattern := range r.patterns {
		if matchWildcardRoute(path, pattern) {
			return true
		}
	}
	return false
}

// matchWildcardRoute matches a request path against a registered pattern.
// "*" matches one segment; a trailing "*" matches the rest of the path.
func matchWildcardRoute(requestPath, routePattern string) bool {
	requestSegments := strings.Split(strings.Trim(requestPath, "/"), "/")
	routeSegments := strings.Split(strings.Trim(routePattern, "/"), "/")

	if len(routeSegments) > 0 && routeSegments[len(routeSegments)-1] == "*" {
		if len(requestSegments) < len(routeSegments)-1 {
			return false
		}
		for i := 0; i < len(routeSegments)-1; i++ {
			if routeSegments[i] != "*" && requestSegments[i] != routeSegments[i] {
				return false
			}
		}
		return true
	}

	if len(requestSegments) != len(routeSegments) {
		return false
	}
	for i, seg := range routeSegments {
		if seg == "*" {
			continue
		}
		if requestSegments[i] != seg {
			return false
		}
	}
	return true
}

func (r *Router) register(method, path string, handler HandlerFunc) {
	r.routes[method+":"+path] = handler
	if strings.Contains(path, "*") && !r.paths[path] {
		r.patterns = append(r.patterns, path)
	}
	r.paths[path] = true
}

func (r *Router) GET(path string, handler HandlerFunc)  { r.register(http.MethodGet, path, handler) }
func (r *Router) POST(path string, handler HandlerFunc) { r.register(http.MethodPost, path, handler) }
func (r *Router) PUT(path string, handler HandlerFunc)  { r.register(http.MethodPut, path, handler) }
func (r *Router) DELETE(path string, handler HandlerFunc) {
	r.register(http.MethodDelete, path, handler)
}

// Handle mounts a plain http.Handler on an exact path, for things like
// metrics and swagger that bring their own handler.
func (r *Router) Handle(path string, h http.Handler) {
	r.register(http.MethodGet, path, h.ServeHTTP)
}

// Routes exposes the registered handlers, for tests.
func (r *Router) Routes() map[string]HandlerFunc {
	return r.routes
}

// ServeHTTP lets the router be driven directly by httptest.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Start serves until the context is cancelled, then drains in-flight
// requests for up to ten seconds.
func (r *Router) Start(ctx context.Context, addr string) error {
	r.server = &http.Server{Addr: addr, Handler: r.mux}

	errCh := make(chan error, 1)
	go func() {
		r.log.Infow("server started", "addr", addr)
		errCh <- r.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return r.server.Shutdown(shutdownCtx)
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

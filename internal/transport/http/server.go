package http

import (
	"bufio"
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"memechaos/internal/app"
	"memechaos/internal/config"
	"memechaos/internal/transport/ws"
)

const timeout = 15 * time.Second

// Server represents the HTTP server
type Server struct {
	server  *http.Server
	router  *httprouter.Router
	hub     *app.GameHub
	config  *config.Config
	logger  *slog.Logger
	version string
	prefix  string
}

// NewServer creates a new HTTP server
func NewServer(cfg *config.Config, hub *app.GameHub, version string, logger *slog.Logger) *Server {
	s := &Server{
		router:  httprouter.New(),
		hub:     hub,
		config:  cfg,
		logger:  logger,
		version: version,
		prefix:  strings.TrimSuffix(cfg.Server.Prefix, "/"),
	}

	s.router.PanicHandler = s.handlePanic
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.GetAddr(),
		Handler:           s.Handler(),
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
		IdleTimeout:       60 * time.Second,
	}

	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	p := s.prefix
	r := s.router

	// API routes
	r.POST(p+"/api/games", s.handleCreateGame)
	r.GET(p+"/api/games/:code", s.handleGetGame)
	r.POST(p+"/api/games/:code/players", s.handleJoinGame)
	r.GET(p+"/api/games/:code/qr", s.handleQRCode)
	r.GET(p+"/api/session", s.handleGetSession)
	r.DELETE(p+"/api/session", s.handleDeleteSession)
	r.GET(p+"/api/cards", s.handleCards)
	r.GET(p+"/api/health", s.handleHealth)
	r.GET(p+"/api/stats", s.handleStats)
	r.GET(p+"/version", s.handleVersion)

	// WebSocket
	r.Handler(http.MethodGet, p+"/ws", ws.NewHandler(s.hub, s.config.IsDevelopment(), s.logger))

	if s.config.Server.Profile {
		s.registerProfileHandlers()
	}
}

func (s *Server) registerProfileHandlers() {
	p := s.prefix + "/debug/pprof"
	r := s.router

	for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
		r.Handler(http.MethodGet, p+"/"+name, pprof.Handler(name))
	}
	r.HandlerFunc(http.MethodGet, p+"/cmdline", pprof.Cmdline)
	r.HandlerFunc(http.MethodGet, p+"/profile", pprof.Profile)
	r.HandlerFunc(http.MethodGet, p+"/symbol", pprof.Symbol)
	r.HandlerFunc(http.MethodGet, p+"/trace", pprof.Trace)
}

// Handler returns the router wrapped in middleware
func (s *Server) Handler() http.Handler {
	return s.middleware(s.router)
}

// middleware wraps the handler with logging and other middleware
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		securityHeaders(s.config, w)

		// Cross-origin requests are only allowed while developing a separately
		// served frontend
		if s.config.IsDevelopment() {
			if origin := r.Header.Get("Origin"); origin != "" {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Add("Vary", "Origin")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote", realIP(r),
		)
	})
}

func (s *Server) handlePanic(w http.ResponseWriter, r *http.Request, v any) {
	s.logger.Error("handler panic", "path", r.URL.Path, "panic", v)
	s.sendError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An error has occurred. Please try again.")
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.server.Addr, "scheme", s.config.Scheme(), "prefix", s.prefix)

	var err error
	if s.config.UseTLS() {
		err = s.server.ListenAndServeTLS(s.config.Server.TLSCert, s.config.Server.TLSKey)
	} else {
		err = s.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.server.Shutdown(ctx)
}

func securityHeaders(cfg *config.Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if cfg.UseTLS() {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	if ip := r.Header.Get("CF-Connecting-IP"); net.ParseIP(ip) != nil {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// Flush implements http.Flusher
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

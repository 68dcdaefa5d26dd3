// Package gateway serves the bot's HTTP surface: a health check, Prometheus
// metrics and a WebSocket chat endpoint that feeds the same message handler
// as the Telegram adapter.
package gateway

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"relaybot/internal/domain"
	"relaybot/internal/obs"
)

var (
	// ErrInvalidPort is returned when gateway port is not in 0..65535.
	ErrInvalidPort = errors.New("gateway port must be 0-65535")
	// ErrAuthRequired is returned when a chat handler is given without an auth token.
	ErrAuthRequired = errors.New("gateway auth token is required to serve chat")
)

// shutdownTimeout bounds graceful shutdown once the run context is done.
const shutdownTimeout = 5 * time.Second

// Server is an HTTP server that enforces Bearer token auth on /ws and /metrics when a token is configured.
type Server struct {
	cfg     domain.GatewayConfig
	server  *http.Server
	logger  zerolog.Logger
	metrics *obs.Metrics
	chat    MessageHandler

	addrMu sync.RWMutex
	addr   string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for connection and shutdown events. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics exposes m on /metrics. Without it /metrics answers 404.
func WithMetrics(m *obs.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds a gateway server. Port 0 means pick a random port.
// If chat is nil, /ws echoes messages back instead of handling them; otherwise
// cfg.AuthToken must be set.
func NewServer(cfg domain.GatewayConfig, chat MessageHandler, opts ...Option) (*Server, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, ErrInvalidPort
	}
	if chat != nil && cfg.AuthToken == "" {
		return nil, ErrAuthRequired
	}
	s := &Server{
		cfg:    cfg,
		chat:   chat,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	auth := BearerAuth(cfg.AuthToken)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", auth(s.metrics.Handler()))
	mux.Handle("/ws", auth(http.HandlerFunc(s.handleWS)))

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Addr returns the bound address (e.g. "127.0.0.1:8080") after Run has started. Empty before Run.
func (s *Server) Addr() string {
	s.addrMu.RLock()
	defer s.addrMu.RUnlock()
	return s.addr
}

// Handler returns the HTTP handler used by the server. For testing without binding.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// netListen is the function used to listen; tests may replace it to force Listen errors.
var netListen = func(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

// Run listens on the configured port and serves until ctx is done.
// Returns nil after a clean shutdown.
func (s *Server) Run(ctx context.Context) error {
	ln, err := netListen("tcp", ":"+strconv.Itoa(s.cfg.Port))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()
	s.logger.Info().Str("addr", s.Addr()).Msg("gateway listening")

	done := make(chan error, 1)
	go func() {
		done <- s.server.Serve(ln)
	}()

	select {
	case err := <-done:
		// Serve returned before shutdown was requested.
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-done
	s.logger.Info().Msg("gateway stopped")
	return nil
}

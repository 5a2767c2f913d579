package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/syntharb/internal/server/handler"
	"github.com/alanyoungcy/syntharb/internal/server/middleware"
	"github.com/alanyoungcy/syntharb/internal/server/ws"
)

// Config holds the HTTP listener and middleware settings.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string  // empty disables authentication
	RateLimit   float64 // requests per second per client; 0 disables limiting
	RateBurst   int
}

// Handlers are the REST endpoints. Metrics is optional.
type Handlers struct {
	Health  *handler.HealthHandler
	Status  *handler.StatusHandler
	Market  *handler.MarketHandler
	Pricing *handler.PricingHandler
	Arb     *handler.ArbHandler
	Metrics http.Handler
}

// Server serves the REST API, the dashboard socket and the scrape endpoint.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		logger: logger,
		httpServer: &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Port),
			Handler:           NewHandler(cfg, handlers, hub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

type route struct {
	pattern string
	handler http.Handler
}

func routes(h Handlers, hub *ws.Hub) []route {
	rs := []route{
		{"GET /api/health", http.HandlerFunc(h.Health.HealthCheck)},
		{"GET /api/status", http.HandlerFunc(h.Status.GetStatus)},
		{"GET /api/market-data", http.HandlerFunc(h.Market.ListMarketData)},
		{"GET /api/pricing-results", http.HandlerFunc(h.Pricing.ListResults)},
		{"GET /api/opportunities", http.HandlerFunc(h.Arb.ListOpportunities)},
		{"GET /api/arbitrage/metrics", http.HandlerFunc(h.Arb.Metrics)},
		{"POST /api/arbitrage/control", http.HandlerFunc(h.Arb.Control)},
	}
	if h.Metrics != nil {
		rs = append(rs, route{"GET /metrics", h.Metrics})
	}
	if hub != nil {
		rs = append(rs, route{"GET /ws", http.HandlerFunc(hub.HandleWS)})
	}
	return rs
}

// NewHandler registers the routes and wraps them, outermost first, in rate
// limiting, access logging, CORS and auth.
func NewHandler(cfg Config, handlers Handlers, hub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	for _, r := range routes(handlers, hub) {
		mux.Handle(r.pattern, r.handler)
	}

	var limiter *middleware.IPLimiter
	if cfg.RateLimit > 0 {
		limiter = middleware.NewIPLimiter(cfg.RateLimit, cfg.RateBurst)
	}
	return chain(mux,
		middleware.RateLimit(limiter),
		middleware.Logging(logger),
		middleware.CORS(cfg.CORSOrigins),
		middleware.Auth(cfg.APIKey),
	)
}

// chain applies mws so the first one listed sees the request first.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.httpServer.Addr }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until the server is shut down.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

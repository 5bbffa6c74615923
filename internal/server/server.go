package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"

	"github.com/lox/pokersplit/internal/events"
)

// DealerTokenHeader carries the dealer token on mutating requests.
const DealerTokenHeader = "X-Dealer-Token"

// AdminTokenHeader carries the admin token on round list and delete.
const AdminTokenHeader = "X-Admin-Token"

// Server serves the round API and the watcher WebSocket.
type Server struct {
	service    *RoundService
	hub        *Hub
	logger     *log.Logger
	origins    []string
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewServer wires the API around service. Changes published on bus reach
// WebSocket watchers. The hub runs until Shutdown or Close.
func NewServer(service *RoundService, bus *events.Bus, logger *log.Logger, origins []string) *Server {
	logger = logger.WithPrefix("server")

	hub := NewHub(service, bus, origins, logger)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		service: service,
		hub:     hub,
		logger:  logger,
		origins: origins,
		ctx:     ctx,
		cancel:  cancel,
	}
	// Built up front so Shutdown can stop a Serve that has not started yet.
	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go hub.Run(ctx)
	return s
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/ws", s.hub)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/stats", s.handleStats)
		r.Post("/settle", s.handleSettle)

		r.Get("/rounds", s.handleListRounds)
		r.Post("/rounds", s.handleCreateRound)
		r.Route("/rounds/{code}", func(r chi.Router) {
			r.Get("/", s.handleGetRound)
			r.Delete("/", s.handleDeleteRound)
			r.Get("/settlement", s.handleSettlement)
			r.Get("/summary", s.handleSummary)

			r.Post("/players", s.handleAddPlayer)
			r.Post("/players/{id}/buy-ins", s.handleAddBuyIn)
			r.Delete("/players/{id}/buy-ins", s.handleRemoveBuyIn)
			r.Post("/players/{id}/cash-out", s.handleCashOut)
			r.Put("/players/{id}/wins", s.handleSetWins)

			r.Post("/end", s.handleEndGame)
			r.Post("/resume", s.handleResume)
			r.Post("/finalize", s.handleFinalize)
		})
	})

	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", DealerTokenHeader, AdminTokenHeader},
	}).Handler(r)
}

// requestLogger logs each request at debug level.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"requestId", middleware.GetReqID(r.Context()))
	})
}

// Serve accepts connections on ln until Shutdown is called. It returns nil
// at once, closing ln, if Shutdown already ran.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("Starting server", "addr", ln.Addr().String())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Start listens on addr and serves until Shutdown is called.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every watcher.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// Close stops the hub without waiting. Used when the server was never started.
func (s *Server) Close() {
	s.cancel()
}

// WaitForHealthy polls baseURL/health until the round server answers 200 or
// ctx ends. Used to hold requests back until a freshly started Serve is up.
func WaitForHealthy(ctx context.Context, baseURL string) error {
	healthURL := strings.TrimSuffix(baseURL, "/") + "/health"
	client := &http.Client{Timeout: time.Second}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
		if err != nil {
			return err
		}
		if resp, err := client.Do(req); err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("server at %s not healthy: %w", baseURL, ctx.Err())
		case <-ticker.C:
		}
	}
}

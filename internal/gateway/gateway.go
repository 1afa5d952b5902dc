// ABOUTME: Gateway orchestrator wiring store, services, bus, and the HTTP server
// ABOUTME: Manages startup order and graceful shutdown of all components

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/mart-code/first-aid-app/internal/assign"
	"github.com/mart-code/first-aid-app/internal/auth"
	"github.com/mart-code/first-aid-app/internal/bus"
	"github.com/mart-code/first-aid-app/internal/config"
	"github.com/mart-code/first-aid-app/internal/conversation"
	"github.com/mart-code/first-aid-app/internal/notify"
	"github.com/mart-code/first-aid-app/internal/request"
	"github.com/mart-code/first-aid-app/internal/store"
)

const defaultShutdownTimeout = 5 * time.Second

// Gateway orchestrates the firstaid-gateway server components. It owns the
// store, the event bus, the domain services, and the HTTP server exposing
// them.
type Gateway struct {
	config      *config.Config
	store       store.Store
	broadcaster *bus.Broadcaster
	relay       *bus.Relay // nil when redis is disabled
	notifier    notify.Notifier
	registry    *request.Registry
	coordinator *assign.Coordinator
	messages    *conversation.Service
	verifier    *auth.JWTVerifier
	httpServer  *http.Server
	logger      *slog.Logger
}

// initStore creates the store based on config and environment.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("FIRSTAID_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initPublisher builds the event publisher: the in-memory broadcaster alone,
// or wrapped in the Redis relay when running multi-instance.
func initPublisher(ctx context.Context, cfg *config.Config, broadcaster *bus.Broadcaster, logger *slog.Logger) (bus.Publisher, *bus.Relay, error) {
	if !cfg.Redis.Enabled {
		return broadcaster, nil, nil
	}

	channel := cfg.Redis.Channel
	if channel == "" {
		channel = "firstaid-events"
	}
	relay, err := bus.NewRelay(ctx, broadcaster, bus.RelayOptions{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Channel:  channel,
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("starting redis relay: %w", err)
	}
	return relay, relay, nil
}

// initNotifier builds the lifecycle notifier, a no-op unless AMQP is enabled.
func initNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.Notify.Enabled {
		return notify.Nop{}, nil
	}

	notifier, err := notify.NewAMQPNotifier(cfg.Notify.AMQPURL, cfg.Notify.Exchange, logger)
	if err != nil {
		return nil, fmt.Errorf("starting amqp notifier: %w", err)
	}
	return notifier, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	broadcaster := bus.NewBroadcaster(cfg.Bus.SubscriberBuffer, logger)
	publisher, relay, err := initPublisher(ctx, cfg, broadcaster, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	notifier, err := initNotifier(cfg, logger)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.AdminIDs)

	g := &Gateway{
		config:      cfg,
		store:       s,
		broadcaster: broadcaster,
		relay:       relay,
		notifier:    notifier,
		registry:    request.NewRegistry(s, publisher, notifier, logger),
		coordinator: assign.NewCoordinator(s, publisher, notifier, logger),
		messages:    conversation.New(s, publisher, logger),
		verifier:    verifier,
		logger:      logger.With("component", "gateway"),
	}

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// routes builds the HTTP mux: health endpoints are open, the API requires a
// valid JWT, and claiming additionally requires the responder role.
func (g *Gateway) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)

	authMiddleware := auth.HTTPAuthMiddleware(g.verifier)
	adminMiddleware := auth.RequireAdminHTTP()

	mux.Handle("/api/requests", authMiddleware(http.HandlerFunc(g.handleRequests)))
	mux.Handle("/api/requests/", authMiddleware(http.HandlerFunc(g.handleRequestRoutes)))
	mux.Handle("/api/messages", authMiddleware(http.HandlerFunc(g.handleMessages)))
	mux.Handle("/api/events/open", authMiddleware(adminMiddleware(http.HandlerFunc(g.handleOpenRequestsEvents))))
	mux.Handle("/api/events/requests/", authMiddleware(http.HandlerFunc(g.handleRequestEvents)))
	mux.Handle("/api/events/conversation", authMiddleware(http.HandlerFunc(g.handleConversationEvents)))

	return mux
}

// Run starts the HTTP server and blocks until the context is canceled.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening on HTTP address: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() intentionally since the original context is
// already canceled.
func (g *Gateway) gracefulShutdown() error {
	timeout := g.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown gracefully stops the gateway and releases resources.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	// Closing the broadcaster closes subscriber channels, which unblocks any
	// SSE handlers the HTTP shutdown is still draining.
	if g.relay != nil {
		errs = appendCloseError(errs, "relay close", g.relay.Close())
	}
	g.broadcaster.Close()

	if closer, ok := g.notifier.(interface{ Close() error }); ok {
		errs = appendCloseError(errs, "notifier close", closer.Close())
	}

	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the store answers queries.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.ListRequests(r.Context(), store.StatusOpen, "", 1); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

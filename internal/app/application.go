package app

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"pulsewire/internal/api"
	"pulsewire/internal/config"
	"pulsewire/internal/manager"
	"pulsewire/internal/metrics"
	"pulsewire/internal/queue"
	"pulsewire/internal/registry"
	"pulsewire/internal/stream"
	"pulsewire/internal/websocket"
	"pulsewire/pkg/interfaces"
)

// Application wires all components together. Initialization follows
// dependency order: store, queue, registry, manager, streamer, handlers,
// HTTP server. The periodic heartbeat and stale-connection sweeps live here
// rather than inside the manager so the manager stays timer-free and easy
// to test.
type Application struct {
	config     *config.Config
	log        *zap.Logger
	promReg    *prometheus.Registry
	store      interfaces.QueueStore
	queue      *queue.Queue
	manager    *manager.Manager
	streamer   *stream.Streamer
	apiServer  *api.Server
	httpServer *http.Server

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewApplication builds a fully wired application. auth may be nil to accept
// identity from query parameters.
func NewApplication(cfg *config.Config, log *zap.Logger, auth interfaces.Authenticator) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}

	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	store, err := newQueueStore(cfg.Queue)
	if err != nil {
		return nil, err
	}

	q := queue.NewQueue(store, cfg.Queue.MessageTTL, log)
	reg := registry.NewRegistry(cfg.Registry.MaxConnectionsPerRoom)
	mgr := manager.NewManager(reg, q, m, log)
	streamer := stream.NewStreamer(mgr, m, log)
	wsHandler := websocket.NewHandler(mgr, auth, cfg.WebSocket, log)

	apiServer := api.NewServer(mgr, streamer, promReg, log)
	apiServer.Router().Handle("/ws", wsHandler).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		log:        log,
		promReg:    promReg,
		store:      store,
		queue:      q,
		manager:    mgr,
		streamer:   streamer,
		apiServer:  apiServer,
		httpServer: httpServer,
		stopCh:     make(chan struct{}),
	}, nil
}

func newQueueStore(cfg config.QueueConfig) (interfaces.QueueStore, error) {
	switch cfg.Backend {
	case "memory":
		return queue.NewMemoryStore(cfg.MaxSize), nil
	case "sqlite":
		store, err := queue.NewSQLiteStore(cfg.SQLitePath, cfg.MaxSize)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite queue store: %w", err)
		}
		return store, nil
	case "redis":
		store, err := queue.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.MaxSize, cfg.MessageTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to open redis queue store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// Start launches the HTTP listener and the background sweeps. It returns
// once the listener is up or has failed.
func (app *Application) Start(ctx context.Context) error {
	app.log.Info("starting pulsewire",
		zap.String("addr", app.httpServer.Addr),
		zap.String("queue_backend", app.config.Queue.Backend))

	serverErrCh := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	select {
	case err := <-serverErrCh:
		return err
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}

	app.wg.Add(2)
	go app.heartbeatLoop()
	go app.sweepLoop()

	app.log.Info("pulsewire started")
	return nil
}

// heartbeatLoop pushes application heartbeats to every room on the
// configured interval. Dead connections found during the push are evicted
// by the manager.
func (app *Application) heartbeatLoop() {
	defer app.wg.Done()
	ticker := time.NewTicker(app.config.WebSocket.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, roomID := range app.manager.Registry().RoomIDs() {
				app.manager.SendHeartbeat(roomID)
			}
		case <-app.stopCh:
			return
		}
	}
}

// sweepLoop evicts connections whose last heartbeat is older than the
// timeout. Runs at the heartbeat interval so a stale connection lingers at
// most one tick past the timeout.
func (app *Application) sweepLoop() {
	defer app.wg.Done()
	ticker := time.NewTicker(app.config.WebSocket.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := app.manager.EvictStale(app.config.WebSocket.HeartbeatTimeout); n > 0 {
				app.log.Info("evicted stale connections", zap.Int("count", n))
			}
		case <-app.stopCh:
			return
		}
	}
}

// Stop shuts everything down in reverse dependency order: listener, sweeps,
// queue store.
func (app *Application) Stop(ctx context.Context) error {
	app.log.Info("shutting down pulsewire")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.log.Warn("HTTP server shutdown error", zap.Error(err))
	}

	app.stopOnce.Do(func() { close(app.stopCh) })
	app.wg.Wait()

	if err := app.queue.Close(); err != nil {
		app.log.Warn("queue store shutdown error", zap.Error(err))
	}

	app.log.Info("pulsewire shutdown complete")
	return nil
}

// Manager exposes the connection manager for embedding callers.
func (app *Application) Manager() *manager.Manager {
	return app.manager
}

// Streamer exposes the event streamer for embedding callers.
func (app *Application) Streamer() *stream.Streamer {
	return app.streamer
}

// Addr returns the server address.
func (app *Application) Addr() string {
	return app.httpServer.Addr
}

// Package runtime assembles the gateway: engines, pipeline, persistence,
// bus and the HTTP front end, with a single Start that blocks until the
// context is cancelled.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aacboard/speechgate/internal/bus"
	"github.com/aacboard/speechgate/internal/config"
	"github.com/aacboard/speechgate/internal/engine"
	"github.com/aacboard/speechgate/internal/history"
	"github.com/aacboard/speechgate/internal/natsserver"
	"github.com/aacboard/speechgate/internal/pipeline"
	"github.com/aacboard/speechgate/internal/reqlog"
	"github.com/aacboard/speechgate/internal/server"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	version     string
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	primary, fallback, err := r.buildEngines()
	if err != nil {
		return err
	}

	var reqLogger *reqlog.Logger
	if r.cfg.RequestLog.Enabled {
		store, err := reqlog.NewFileStore(r.cfg.RequestLog.Directory)
		if err != nil {
			return fmt.Errorf("init request log: %w", err)
		}
		reqLogger = reqlog.New(reqlog.Options{
			Store:      store,
			Production: r.cfg.Production(),
			QueueSize:  r.cfg.RequestLog.QueueSize,
			Logger:     r.logger,
		})
	}

	var historyStore *history.Store
	if r.cfg.History.Enabled {
		historyStore, err = history.Open(ctx, r.cfg.History, r.logger)
		if err != nil {
			return fmt.Errorf("init history store: %w", err)
		}
	}

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded bus: %w", err)
		}
		busClient, err = bus.Connect(ctx, r.cfg.Bus, r.logger)
		if err != nil {
			// the gateway serves requests without a bus
			r.logger.Warn("bus unavailable, continuing without it",
				slog.String("error", err.Error()))
		}
	}

	svc := pipeline.NewService(r.cfg, primary, fallback, r.logger)
	srv := server.New(server.Options{
		Config:     r.cfg,
		Pipeline:   svc,
		RequestLog: reqLogger,
		History:    historyStore,
		Bus:        busClient,
		Metrics:    metricHandler,
		Logger:     r.logger,
		Version:    r.version,
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("gateway started",
		slog.String("addr", addr),
		slog.String("environment", r.cfg.Environment))

	<-ctx.Done()
	r.logger.Info("gateway stopping")
	r.ready.Store(false)

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if reqLogger != nil {
		if err := reqLogger.Close(shutdownCtx); err != nil {
			r.logger.Error("request log shutdown error", slog.String("error", err.Error()))
		}
	}
	if historyStore != nil {
		if err := historyStore.Close(); err != nil {
			r.logger.Error("history shutdown error", slog.String("error", err.Error()))
		}
	}
	busClient.Close()
	embedded.Shutdown()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

// Ready reports whether the runtime accepts traffic.
func (r *Runtime) Ready() bool {
	return r.ready.Load()
}

func (r *Runtime) buildEngines() (engine.Worker, engine.Worker, error) {
	var primary, fallback engine.Worker
	var loaders []*engine.ModelLoader

	if r.cfg.Engines.Primary.Enabled {
		worker, loader, err := engine.New(r.cfg.Engines.Primary)
		if err != nil {
			return nil, nil, fmt.Errorf("build primary engine: %w", err)
		}
		primary = worker
		if loader != nil {
			loaders = append(loaders, loader)
		}
	}
	if r.cfg.Engines.Fallback.Enabled {
		worker, loader, err := engine.New(r.cfg.Engines.Fallback)
		if err != nil {
			return nil, nil, fmt.Errorf("build fallback engine: %w", err)
		}
		fallback = worker
		if loader != nil {
			loaders = append(loaders, loader)
		}
	}

	if r.cfg.Engines.WarmUp {
		// Load models before the first request so it does not pay the cost.
		for _, loader := range loaders {
			if err := loader.Ensure(); err != nil {
				r.logger.Warn("engine warm-up failed", slog.String("error", err.Error()))
			}
		}
	}

	return primary, fallback, nil
}

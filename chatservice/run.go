// Package chatservice assembles and runs the chat core HTTP service.
package chatservice

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/casaflow/chatcore/internal/api"
	"github.com/casaflow/chatcore/internal/completion"
	"github.com/casaflow/chatcore/internal/config"
	"github.com/casaflow/chatcore/internal/factory"
	"github.com/casaflow/chatcore/internal/health"
	"github.com/casaflow/chatcore/internal/logger"
	"github.com/casaflow/chatcore/internal/runtime"
	"github.com/casaflow/chatcore/internal/store"
	"github.com/casaflow/chatcore/internal/threadstore"
)

// Run starts the chat core HTTP server and blocks until shutdown or error.
func Run() error {
	log := logger.New("chatcore")

	cfg, err := config.New()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load configuration")
		return err
	}

	log.Info().
		Str("build_target", cfg.BuildTarget).
		Str("db_driver", cfg.DBDriver).
		Int("http_port", cfg.HTTPPort).
		Str("completion_url", cfg.CompletionURL).
		Int("memory_window", cfg.MemoryWindow).
		Msg("Chat core starting")

	ctx, stop := newServerContext()
	defer stop()

	st, svc, err := initDependencies(ctx, cfg, log)
	if err != nil {
		return err
	}

	registry := api.NewRegistry(func(ownerID string) (api.ThreadService, api.RuntimeService, error) {
		threads := threadstore.New(ownerID, st,
			threadstore.WithSessionTTL(cfg.SessionTTL),
			threadstore.WithMemoryWindow(cfg.MemoryWindow),
			threadstore.WithLogger(log))
		rt := runtime.New(threads, svc, runtime.WithLogger(log))
		return threads, rt, nil
	})

	svcHealth := startHealthCheckers(ctx, cfg, log, st, svc)
	router := api.NewRouter(registry, svcHealth.IsHealthy)

	if err := waitUntilHealthy(ctx, cfg, svcHealth); err != nil {
		log.Error().Stack().Err(err).Msg("startup health check failed")
		return err
	}

	server := newHTTPServer(ctx, cfg, router)
	errCh := serveHTTP(server, log, cfg)

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down server")
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctxShutdown); err != nil {
			log.Error().Stack().Err(err).Msg("Server forced to shutdown")
			return err
		}
		log.Info().Msg("Server exited")
		return nil
	case err := <-errCh:
		log.Error().Stack().Err(err).Msg("HTTP server failed")
		return err
	}
}

// initDependencies constructs the durable store and completion backend,
// failing fast when either is misconfigured.
func initDependencies(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, completion.Service, error) {
	st, err := factory.NewStore(ctx, cfg, log)
	if err != nil {
		log.Error().Stack().Err(err).Msg("Store adapter unavailable")
		return nil, nil, err
	}
	svc := factory.NewCompletionService(cfg, log)
	return st, svc, nil
}

// startHealthCheckers starts component checkers plus the service aggregator.
func startHealthCheckers(ctx context.Context, cfg *config.Config, log zerolog.Logger, st store.Store, svc completion.Service) *health.ServiceHealthChecker {
	probeTimeout := time.Duration(cfg.HealthProbeTimeoutSeconds) * time.Second
	interval := time.Duration(cfg.HealthIntervalSeconds) * time.Second

	var checkers []health.Checker

	storeChecker := store.NewHealthChecker(st, log, probeTimeout)
	go storeChecker.Start(ctx, interval)
	checkers = append(checkers, storeChecker)

	// The static completion backend has nothing to probe.
	if pinger, ok := svc.(health.HealthPinger); ok {
		svcChecker := health.NewPingChecker("completion", pinger, log, probeTimeout)
		go svcChecker.Start(ctx, interval)
		checkers = append(checkers, svcChecker)
	}

	svcHealth := health.NewServiceHealthChecker(log, checkers...)
	go svcHealth.Start(ctx, interval)
	return svcHealth
}

func newHTTPServer(ctx context.Context, cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.GetHTTPAddr(),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
}

func serveHTTP(server *http.Server, log zerolog.Logger, cfg *config.Config) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	return errCh
}

// waitUntilHealthy blocks until service health is green or the startup
// window expires. Checkers start unhealthy and need one probe cycle.
func waitUntilHealthy(ctx context.Context, cfg *config.Config, svcHealth *health.ServiceHealthChecker) error {
	timeoutSeconds := cfg.HealthIntervalSeconds * 2
	if timeoutSeconds < 60 {
		timeoutSeconds = 60
	}
	deadline := time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svcHealth.IsHealthy() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("startup aborted: dependencies not healthy within %d seconds", timeoutSeconds)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newServerContext returns a context cancelled on SIGINT/SIGTERM.
func newServerContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

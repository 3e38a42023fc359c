package observability

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc releases one resource during shutdown (health server, store
// connections, broadcaster drain).
type ShutdownFunc func(context.Context) error

// ShutdownManager stops the API server and registered resources on SIGINT or
// SIGTERM. The HTTP server drains first so in-flight queue mutations finish
// before their backing stores close; remaining funcs then run in registration
// order under one deadline.
type ShutdownManager struct {
	logger  *Logger
	server  *http.Server
	timeout time.Duration

	mu    sync.Mutex
	funcs []ShutdownFunc
}

// NewShutdownManager creates a shutdown manager. A zero timeout defaults to
// 30 seconds.
func NewShutdownManager(logger *Logger, server *http.Server, timeout time.Duration) *ShutdownManager {
	if logger == nil {
		logger = NewLogger(InfoLevel, io.Discard)
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		server:  server,
		timeout: timeout,
		funcs:   make([]ShutdownFunc, 0),
	}
}

// RegisterShutdownFunc adds a resource to release during shutdown.
func (sm *ShutdownManager) RegisterShutdownFunc(fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, fn)
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then runs the shutdown
// sequence.
func (sm *ShutdownManager) WaitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("received signal %s, shutting down", sig)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	return sm.run(ctx)
}

// run executes the shutdown sequence against the given context.
func (sm *ShutdownManager) run(ctx context.Context) error {
	var failed int

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.WithError(err).Error("api server shutdown failed")
			failed++
		} else {
			sm.logger.Info("api server drained")
		}
	}

	sm.mu.Lock()
	funcs := sm.funcs
	sm.mu.Unlock()

	for i, fn := range funcs {
		if fn == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			sm.logger.Warn("shutdown deadline reached, abandoning remaining resources")
			return fmt.Errorf("shutdown timed out with %d resource(s) remaining", len(funcs)-i)
		}
		if err := fn(ctx); err != nil {
			sm.logger.WithError(err).WithField("resource", i).Error("resource shutdown failed")
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("shutdown completed with %d error(s)", failed)
	}
	sm.logger.Info("shutdown complete")
	return nil
}

// GracefulShutdown blocks until a termination signal, then drains the server
// and releases the given resources within the timeout.
func GracefulShutdown(logger *Logger, server *http.Server, timeout time.Duration, shutdownFuncs ...ShutdownFunc) error {
	manager := NewShutdownManager(logger, server, timeout)
	for _, fn := range shutdownFuncs {
		manager.RegisterShutdownFunc(fn)
	}
	return manager.WaitForShutdown()
}

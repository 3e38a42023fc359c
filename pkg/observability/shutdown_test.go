package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func discardLogger() *Logger {
	return NewLogger(InfoLevel, io.Discard)
}

func TestNewShutdownManagerDefaults(t *testing.T) {
	sm := NewShutdownManager(nil, nil, 0)
	if sm.timeout != 30*time.Second {
		t.Errorf("timeout = %v, want default 30s", sm.timeout)
	}
	if sm.logger == nil {
		t.Error("nil logger not replaced")
	}

	sm = NewShutdownManager(discardLogger(), nil, 5*time.Second)
	if sm.timeout != 5*time.Second {
		t.Errorf("timeout = %v, want 5s", sm.timeout)
	}
}

func TestShutdownRunsFuncsInOrder(t *testing.T) {
	sm := NewShutdownManager(discardLogger(), nil, 5*time.Second)

	var order []string
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "health")
		return nil
	})
	sm.RegisterShutdownFunc(nil)
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		order = append(order, "store")
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	if err := sm.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if len(order) != 2 || order[0] != "health" || order[1] != "store" {
		t.Errorf("execution order = %v, want [health store]", order)
	}
}

func TestShutdownCollectsErrors(t *testing.T) {
	sm := NewShutdownManager(discardLogger(), nil, 5*time.Second)
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("redis close failed") })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
	sm.RegisterShutdownFunc(func(ctx context.Context) error { return errors.New("db close failed") })

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	err := sm.run(ctx)
	if err == nil {
		t.Fatal("run() error = nil, want aggregate error")
	}
	if err.Error() != "shutdown completed with 2 error(s)" {
		t.Errorf("error = %q", err.Error())
	}
}

func TestShutdownStopsAtDeadline(t *testing.T) {
	sm := NewShutdownManager(discardLogger(), nil, 50*time.Millisecond)

	var ranSecond bool
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	sm.RegisterShutdownFunc(func(ctx context.Context) error {
		ranSecond = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	start := time.Now()
	err := sm.run(ctx)
	if err == nil {
		t.Fatal("run() error = nil, want timeout error")
	}
	if ranSecond {
		t.Error("func after the deadline still ran")
	}
	if time.Since(start) > time.Second {
		t.Errorf("run() took %v, should stop at the 50ms deadline", time.Since(start))
	}
}

func TestShutdownDrainsHTTPServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sm := NewShutdownManager(discardLogger(), srv.Config, 5*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	if err := sm.run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	if _, err := http.Get(srv.URL); err == nil {
		t.Error("server still accepting connections after shutdown")
	}
}

func TestRegisterShutdownFuncConcurrent(t *testing.T) {
	sm := NewShutdownManager(discardLogger(), nil, 5*time.Second)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sm.RegisterShutdownFunc(func(ctx context.Context) error { return nil })
		}()
	}
	wg.Wait()

	if len(sm.funcs) != 20 {
		t.Errorf("registered %d funcs, want 20", len(sm.funcs))
	}
}

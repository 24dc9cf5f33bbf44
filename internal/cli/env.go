package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/time/rate"

	"github.com/roach88/ledgerflow/internal/config"
	"github.com/roach88/ledgerflow/internal/ledger"
	"github.com/roach88/ledgerflow/internal/metrics"
	"github.com/roach88/ledgerflow/internal/statestore"
	"github.com/roach88/ledgerflow/internal/store"
	"github.com/roach88/ledgerflow/internal/submux"
)

// metricsNamespace prefixes every exported metric.
const metricsNamespace = "ledgerflow"

// env collects what a command opened so one Close tears it all down.
type env struct {
	opts    *RootOptions
	logger  *slog.Logger
	closers []func() error
}

func newEnv(opts *RootOptions) *env {
	return &env{opts: opts, logger: opts.Logger}
}

func (e *env) onClose(fn func() error) {
	e.closers = append(e.closers, fn)
}

// Close runs closers in reverse order and aggregates their errors.
func (e *env) Close() error {
	var result *multierror.Error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	e.closers = nil
	return result.ErrorOrNil()
}

// dial opens a client for network id, or the default network.
func (e *env) dial(ctx context.Context, id string) (config.Network, ledger.Client, error) {
	n, err := e.opts.Config.Network(id)
	if err != nil {
		return config.Network{}, nil, err
	}
	e.logger.Debug("dialing ledger", "network", n.ID, "endpoint", n.Endpoint)
	client, err := e.opts.Dial(ctx, n, e.logger)
	if err != nil {
		return config.Network{}, nil, err
	}
	if c, ok := client.(io.Closer); ok {
		e.onClose(c.Close)
	}
	return n, client, nil
}

// dialAll opens every configured network.
func (e *env) dialAll(ctx context.Context) (submux.Networks, error) {
	networks := make(submux.Networks, len(e.opts.Config.Networks))
	for _, n := range e.opts.Config.Networks {
		_, client, err := e.dial(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		networks[n.ID] = client
	}
	return networks, nil
}

func (e *env) openStore() (*store.Store, error) {
	st, err := store.Open(e.opts.Config.Database)
	if err != nil {
		return nil, err
	}
	e.onClose(st.Close)
	return st, nil
}

// openState opens the configured state backend. st is only needed for the
// sqlite backend and may be nil otherwise.
func (e *env) openState(ctx context.Context, st *store.Store) (statestore.Store, error) {
	cfg := e.opts.Config.State
	switch cfg.Backend {
	case config.BackendSQLite:
		if st == nil {
			var err error
			if st, err = e.openStore(); err != nil {
				return nil, err
			}
		}
		return st.KV(), nil
	case config.BackendRedis:
		r, err := statestore.DialRedis(ctx, cfg.RedisAddr, cfg.RedisPrefix+":")
		if err != nil {
			return nil, err
		}
		e.onClose(r.Close)
		return r, nil
	default:
		return statestore.NewMemory(), nil
	}
}

// limiter returns nil when no submit limit is configured.
func (e *env) limiter() *rate.Limiter {
	l := e.opts.Config.SubmitLimit
	if l.Rate <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(l.Rate), l.Burst)
}

// serveMetrics exposes c on the configured address until ctx ends. It is
// a no-op without an address.
func (e *env) serveMetrics(ctx context.Context, c *metrics.Collector) {
	addr := e.opts.Config.MetricsAddr
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		e.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.logger.Error("metrics server failed", "error", err)
		}
	}()
	e.onClose(func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

package cli

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/metrics"
	"github.com/roach88/ledgerflow/internal/reactive"
	"github.com/roach88/ledgerflow/internal/statestore"
	"github.com/roach88/ledgerflow/internal/submux"
	"github.com/roach88/ledgerflow/internal/wallet"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Account   string
	Poll      bool
	PollKinds []string
	Count     int
}

// WatchEvent is one printed value.
type WatchEvent struct {
	Key   string   `json:"key"`
	Value ir.Value `json:"value"`
}

func (e WatchEvent) String() string {
	return e.Key + " = " + ir.Render(e.Value)
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch [kind/path...]",
		Short: "Print live ledger values",
		Long: `Subscribe to ledger values and print every update until interrupted.

Each argument is a key: a resource kind followed by its path, e.g.
balance/0x8eaf.../1. With --account the configured assets of that account
are followed through the balance synchronizer and every stored balance
change is printed.

Example:
  ledgerflow watch balance/0x8eaf.../1 --network picasso
  ledgerflow watch --account 0x8eaf... --metrics-addr :9102`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Account, "account", "", "follow the balances of this account")
	cmd.Flags().BoolVar(&opts.Poll, "poll", false, "poll every key instead of subscribing")
	cmd.Flags().StringSliceVar(&opts.PollKinds, "poll-kind", nil, "kinds that are polled instead of subscribed")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "exit after this many values (0 runs until interrupted)")

	return cmd
}

func runWatch(opts *WatchOptions, args []string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)
	if len(args) == 0 && opts.Account == "" {
		return report(f, ExitCommandError, ErrCodeInput, "nothing to watch: give keys or --account", nil)
	}
	network, err := opts.Config.Network(opts.Network)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeConfig, err.Error(), nil)
	}
	keys, err := parseKeys(network.ID, args)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeInput, err.Error(), nil)
	}

	ctx, cancel := signalContext(cmd.Context(), opts.Logger)
	defer cancel()

	e := newEnv(opts.RootOptions)
	defer func() {
		if err := e.Close(); err != nil {
			opts.Logger.Error("error during shutdown", "error", err)
		}
	}()

	networks, err := e.dialAll(ctx)
	if err != nil {
		return report(f, ExitCommandError, ErrCodeNetwork, err.Error(), nil)
	}

	collector := metrics.NewCollector(metricsNamespace)
	e.serveMetrics(ctx, collector)

	mux := opts.mux(e, networks, collector)

	out := newPrinter(f, opts.Count, cancel)
	failures := make(chan error, 1)
	onError := submux.OnError(func(key submux.Key, err error) {
		select {
		case failures <- fmt.Errorf("%s: %w", key, err):
		default:
		}
	})

	if len(keys) > 0 {
		cancelKeys, err := mux.SubscribeMany(ctx, keys, func(key submux.Key, v ir.Value) {
			out.print(WatchEvent{Key: key.String(), Value: v})
		}, onError)
		if err != nil {
			return report(f, ExitCommandError, ErrCodeNetwork, err.Error(), nil)
		}
		e.onClose(cancelKeys)
	}

	if opts.Account != "" {
		if err := opts.followAccount(ctx, e, mux, networks, network.ID, collector, out); err != nil {
			return report(f, ExitCommandError, ErrCodeStore, err.Error(), nil)
		}
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-failures:
		return report(f, ExitFailure, "TRANSPORT_ERROR", err.Error(), nil)
	}
}

// mux builds the multiplexer: polled kinds go to a cron-driven poll
// source, everything else to storage subscriptions.
func (opts *WatchOptions) mux(e *env, networks submux.Networks, collector *metrics.Collector) *submux.Mux {
	poll := submux.NewPollSource(networks, opts.Config.PollInterval, submux.WithPollLogger(e.logger))
	e.onClose(func() error {
		poll.Stop()
		return nil
	})

	var fallback submux.Source = submux.NewLedgerSource(networks, nil)
	if opts.Poll {
		fallback = poll
	}
	routes := make(map[string]submux.Source, len(opts.PollKinds))
	for _, kind := range opts.PollKinds {
		routes[kind] = poll
	}

	mux := submux.New(submux.NewKindRouter(routes, fallback),
		submux.WithLogger(e.logger),
		submux.WithMetrics(collector),
	)
	e.onClose(func() error {
		mux.Close()
		return nil
	})
	return mux
}

// followAccount runs the balance synchronizer for account and prints every
// balance it stores.
func (opts *WatchOptions) followAccount(ctx context.Context, e *env, mux *submux.Mux, networks submux.Networks, network string, collector *metrics.Collector, out *printer) error {
	state, err := e.openState(ctx, nil)
	if err != nil {
		return err
	}
	observed := statestore.Observe(state)
	syncer := reactive.New(observed, reactive.WithLogger(e.logger), reactive.WithMetrics(collector))
	w := wallet.New(mux, networks, opts.Config.Assets(), observed, wallet.WithLogger(e.logger))
	e.onClose(w.Close)
	if err := w.Register(syncer); err != nil {
		return err
	}

	prefix := statestore.Key(wallet.BalanceKind, network, opts.Account)
	unwatch := observed.Watch(func(c statestore.Change) {
		if statestore.HasPrefix(c.Key, prefix) {
			out.print(WatchEvent{Key: c.Key, Value: c.Value})
		}
	})
	e.onClose(func() error {
		unwatch()
		return nil
	})

	if err := w.Select(ctx, network, opts.Account); err != nil {
		return err
	}

	runCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := syncer.Run(runCtx); err != nil && runCtx.Err() == nil {
			e.logger.Error("synchronizer stopped", "error", err)
		}
	}()
	e.onClose(func() error {
		stop()
		<-done
		return nil
	})
	return nil
}

func parseKeys(network string, args []string) ([]submux.Key, error) {
	keys := make([]submux.Key, 0, len(args))
	for _, arg := range args {
		parts := strings.Split(strings.Trim(arg, "/"), "/")
		if len(parts) < 2 || slices.Contains(parts, "") {
			return nil, fmt.Errorf("invalid key %q: want kind/path", arg)
		}
		keys = append(keys, submux.Key{Network: network, Kind: parts[0], Path: parts[1:]})
	}
	return keys, nil
}

// printer serializes output from concurrent callbacks and stops the
// command after limit values.
type printer struct {
	mu     sync.Mutex
	f      *OutputFormatter
	limit  int
	n      int
	finish context.CancelFunc
}

func newPrinter(f *OutputFormatter, limit int, finish context.CancelFunc) *printer {
	return &printer{f: f, limit: limit, finish: finish}
}

func (p *printer) print(ev WatchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.limit > 0 && p.n >= p.limit {
		return
	}
	_ = p.f.Success(ev)
	p.n++
	if p.limit > 0 && p.n == p.limit {
		p.finish()
	}
}

package submux

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// PollSource turns QueryStorage into a value stream for ledgers (or
// resources) without push subscriptions.
//
// Every open queries once immediately, then again on a fixed schedule.
// Only changed values are emitted. A failed query ends the stream with
// that error, which the Mux reports as a TransportError.
type PollSource struct {
	networks Networks
	path     PathFunc
	every    time.Duration
	logger   *slog.Logger

	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
}

// PollOption configures a PollSource.
type PollOption func(*PollSource)

// WithPollLogger sets the logger. Default: slog.Default().
func WithPollLogger(l *slog.Logger) PollOption {
	return func(p *PollSource) { p.logger = l }
}

// WithPollPath overrides the storage path for a key.
func WithPollPath(fn PathFunc) PollOption {
	return func(p *PollSource) { p.path = fn }
}

// NewPollSource starts a scheduler polling every interval. Intervals below
// one second are rounded up by the scheduler. Call Stop when done.
func NewPollSource(networks Networks, every time.Duration, opts ...PollOption) *PollSource {
	p := &PollSource{
		networks: networks,
		path:     Key.LedgerPath,
		every:    every,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}

	clog := cronLogger{p.logger}
	p.cron = cron.New(
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.cron.Start()
	return p
}

// Open implements Source.
func (p *PollSource) Open(ctx context.Context, key Key) (ledger.ValueWatch, error) {
	client, err := p.networks.Client(key.Network)
	if err != nil {
		return nil, err
	}
	path := p.path(key)

	first, err := client.QueryStorage(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("poll %s: %w", path, err)
	}

	pw := &pollWatch{cron: p.cron}
	pw.stream = ledger.NewStream[ir.Value](1, pw.unschedule)
	pw.last = first
	pw.stream.Send(first)

	id, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.every), func() {
		p.tick(client, path, pw)
	})
	if err != nil {
		pw.stream.Close()
		return nil, fmt.Errorf("schedule poll %s: %w", path, err)
	}
	pw.schedule(id)
	return pw.stream, nil
}

func (p *PollSource) tick(client ledger.Client, path ledger.Path, pw *pollWatch) {
	select {
	case <-pw.stream.Done():
		return
	default:
	}

	v, err := client.QueryStorage(p.ctx, path)
	if err != nil {
		p.logger.Warn("poll failed", "path", path.String(), "error", err)
		pw.stream.Finish(fmt.Errorf("poll %s: %w", path, err))
		pw.unschedule()
		return
	}
	if ir.Equal(v, pw.last) {
		return
	}
	pw.last = v
	pw.stream.Send(v)
}

// Stop halts the scheduler and waits for running polls to finish.
func (p *PollSource) Stop() {
	p.cancel()
	<-p.cron.Stop().Done()
}

type pollWatch struct {
	stream *ledger.Stream[ir.Value]
	cron   *cron.Cron

	// last is only touched by the scheduled job, which never overlaps
	// itself, and by Open before scheduling.
	last ir.Value

	mu        sync.Mutex
	id        cron.EntryID
	scheduled bool
	removed   bool
}

func (w *pollWatch) schedule(id cron.EntryID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.removed {
		w.cron.Remove(id)
		return
	}
	w.id, w.scheduled = id, true
}

func (w *pollWatch) unschedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.removed = true
	if w.scheduled {
		w.cron.Remove(w.id)
		w.scheduled = false
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

package submux

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// CancelFunc ends a subscription. Safe to call more than once, and from
// inside the subscription's own callbacks. No callback starts after it
// returns; one already running on another goroutine is not waited for.
type CancelFunc func() error

// Metrics receives multiplexer counters.
type Metrics interface {
	UpstreamOpened(kind string)
	UpstreamClosed(kind string)
	ValueDelivered(kind string)
	TransportFailed(kind string)
}

type nopMetrics struct{}

func (nopMetrics) UpstreamOpened(string)  {}
func (nopMetrics) UpstreamClosed(string)  {}
func (nopMetrics) ValueDelivered(string)  {}
func (nopMetrics) TransportFailed(string) {}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscriber)

// OnError receives the TransportError when the upstream fails. The
// subscription is dead afterwards; its CancelFunc becomes a no-op.
func OnError(fn func(Key, error)) SubscribeOption {
	return func(s *subscriber) { s.onError = fn }
}

// Mux is the subscription table.
type Mux struct {
	source  Source
	logger  *slog.Logger
	metrics Metrics

	pumps   sync.WaitGroup
	mu      sync.Mutex
	entries map[string]*entry
	nextSub uint64
	closed  bool
}

// Option configures a Mux.
type Option func(*Mux)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mux) { m.logger = l }
}

// WithMetrics reports counters to mt.
func WithMetrics(mt Metrics) Option {
	return func(m *Mux) { m.metrics = mt }
}

// New creates a Mux over source.
func New(source Source, opts ...Option) *Mux {
	m := &Mux{
		source:  source,
		logger:  slog.Default(),
		metrics: nopMetrics{},
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// entry is one shared upstream.
type entry struct {
	key   Key
	id    string
	watch ledger.ValueWatch

	// ready is closed once the upstream open finished; openErr is set
	// before that if it failed.
	ready   chan struct{}
	openErr error

	// deliverMu serializes fan-outs with late-joiner replays.
	deliverMu sync.Mutex

	// stopped is closed with closing set; the pump stops reading even if
	// the upstream ignores Close.
	stopped chan struct{}

	// Guarded by Mux.mu.
	subs    map[uint64]*subscriber
	last    ir.Value
	hasLast bool
	closing bool
}

// markClosing must be called with Mux.mu held.
func (e *entry) markClosing() {
	e.closing = true
	close(e.stopped)
}

type subscriber struct {
	id      uint64
	onValue func(Key, ir.Value)
	onError func(Key, error)

	// mu guards cancelled only. Callbacks run without it, so a subscriber
	// may cancel itself from inside onValue or onError.
	mu        sync.Mutex
	cancelled bool
	once      sync.Once
}

func (s *subscriber) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.cancelled
}

func (s *subscriber) deliver(key Key, v ir.Value) bool {
	if !s.live() {
		return false
	}
	s.onValue(key, v)
	return true
}

func (s *subscriber) fail(key Key, err error) {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	if s.onError != nil {
		s.onError(key, err)
	}
}

// Subscribe attaches onValue to key, opening the upstream if this is the
// first subscriber. ctx bounds only the open.
func (m *Mux) Subscribe(ctx context.Context, key Key, onValue func(Key, ir.Value), opts ...SubscribeOption) (CancelFunc, error) {
	if onValue == nil {
		return nil, fmt.Errorf("subscribe %s: onValue is required", key)
	}
	id := key.ID()

	m.mu.Lock()
	m.nextSub++
	s := &subscriber{id: m.nextSub, onValue: onValue}
	m.mu.Unlock()
	for _, opt := range opts {
		opt(s)
	}

	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		e, shared := m.entries[id]
		if !shared {
			e = &entry{
				key:     key,
				id:      id,
				ready:   make(chan struct{}),
				stopped: make(chan struct{}),
				subs:    map[uint64]*subscriber{s.id: s},
			}
			m.entries[id] = e
			m.mu.Unlock()

			if err := m.open(ctx, e); err != nil {
				return nil, err
			}
			return m.cancelFunc(e, s), nil
		}
		m.mu.Unlock()

		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.openErr != nil {
			return nil, &OpenError{Key: key, Err: e.openErr}
		}
		if m.attach(e, s) {
			m.logger.Debug("subscription shared", "key", key.String())
			return m.cancelFunc(e, s), nil
		}
		// The upstream died before we could join; open a fresh one.
	}
}

// attach joins s to a live entry and replays the latest value. Holding
// deliverMu keeps the replay ahead of the pump's next fan-out.
func (m *Mux) attach(e *entry, s *subscriber) bool {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	m.mu.Lock()
	if m.entries[e.id] != e || e.closing {
		m.mu.Unlock()
		return false
	}
	e.subs[s.id] = s
	last, hasLast := e.last, e.hasLast
	m.mu.Unlock()

	if hasLast {
		s.deliver(e.key, last)
	}
	return true
}

func (m *Mux) open(ctx context.Context, e *entry) error {
	watch, err := m.source.Open(ctx, e.key)

	m.mu.Lock()
	if err != nil {
		e.openErr = err
		if m.entries[e.id] == e {
			delete(m.entries, e.id)
		}
		close(e.ready)
		m.mu.Unlock()
		m.logger.Warn("subscription open failed", "key", e.key.String(), "error", err)
		return &OpenError{Key: e.key, Err: err}
	}
	if m.closed {
		e.openErr = ErrClosed
		close(e.ready)
		m.mu.Unlock()
		watch.Close()
		return ErrClosed
	}
	e.watch = watch
	close(e.ready)
	m.pumps.Add(1)
	m.mu.Unlock()

	m.metrics.UpstreamOpened(e.key.Kind)
	m.logger.Debug("upstream opened", "key", e.key.String())
	go m.pump(e)
	return nil
}

// pump is the only reader of an upstream.
func (m *Mux) pump(e *entry) {
	defer m.pumps.Done()

	for {
		select {
		case v, ok := <-e.watch.C():
			if !ok {
				m.upstreamEnded(e)
				return
			}
			m.fanOut(e, v)
		case <-e.stopped:
			return
		}
	}
}

func (m *Mux) upstreamEnded(e *entry) {
	// deliverMu waits out a late-joiner replay; it is released before any
	// onError runs so the handler can subscribe again.
	e.deliverMu.Lock()
	m.mu.Lock()
	if e.closing {
		m.mu.Unlock()
		e.deliverMu.Unlock()
		return
	}
	e.markClosing()
	if m.entries[e.id] == e {
		delete(m.entries, e.id)
	}
	subs := sortedSubs(e.subs)
	e.subs = map[uint64]*subscriber{}
	m.mu.Unlock()
	e.deliverMu.Unlock()

	cause := e.watch.Err()
	if cause == nil {
		cause = ErrStreamEnded
	}
	terr := &TransportError{Key: e.key, Err: cause}
	m.metrics.TransportFailed(e.key.Kind)
	m.logger.Warn("upstream failed", "key", e.key.String(), "subscribers", len(subs), "error", cause)
	for _, s := range subs {
		s.fail(e.key, terr)
	}
}

func (m *Mux) fanOut(e *entry, v ir.Value) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	m.mu.Lock()
	if e.closing {
		m.mu.Unlock()
		return
	}
	e.last, e.hasLast = v, true
	subs := sortedSubs(e.subs)
	m.mu.Unlock()

	for _, s := range subs {
		if s.deliver(e.key, v) {
			m.metrics.ValueDelivered(e.key.Kind)
		}
	}
}

func sortedSubs(subs map[uint64]*subscriber) []*subscriber {
	out := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (m *Mux) cancelFunc(e *entry, s *subscriber) CancelFunc {
	return func() error {
		s.once.Do(func() {
			s.mu.Lock()
			s.cancelled = true
			s.mu.Unlock()
			m.detach(e, s)
		})
		return nil
	}
}

// detach drops s from e and closes the upstream if s was the last
// subscriber.
func (m *Mux) detach(e *entry, s *subscriber) {
	m.mu.Lock()
	delete(e.subs, s.id)
	last := len(e.subs) == 0 && !e.closing && e.watch != nil
	if last {
		e.markClosing()
		if m.entries[e.id] == e {
			delete(m.entries, e.id)
		}
	}
	m.mu.Unlock()

	if last {
		e.watch.Close()
		m.metrics.UpstreamClosed(e.key.Kind)
		m.logger.Debug("upstream closed", "key", e.key.String())
	}
}

// Status describes one live upstream.
type Status struct {
	Key         Key
	Subscribers int
}

// Active lists live upstreams sorted by key.
func (m *Mux) Active() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.entries))
	for _, e := range m.entries {
		if e.watch == nil {
			continue
		}
		out = append(out, Status{Key: e.key, Subscribers: len(e.subs)})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Close cancels every subscription and waits for pumps to exit, which
// includes any callback they are running. Subscribers are not notified.
func (m *Mux) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	var (
		live []*entry
		subs []*subscriber
	)
	for _, e := range m.entries {
		if e.watch == nil || e.closing {
			continue
		}
		e.markClosing()
		live = append(live, e)
		subs = append(subs, sortedSubs(e.subs)...)
	}
	m.entries = make(map[string]*entry)
	m.mu.Unlock()

	for _, s := range subs {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
	}
	for _, e := range live {
		e.watch.Close()
		m.metrics.UpstreamClosed(e.key.Kind)
	}
	m.pumps.Wait()
}

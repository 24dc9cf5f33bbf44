package reactive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/ledgerflow/internal/statestore"
)

// ErrStarted is returned by Register after Run, and by a second Run.
var ErrStarted = errors.New("synchronizer already started")

// DuplicateTriggerError reports a second registration under one ID.
type DuplicateTriggerError struct {
	ID string
}

func (e *DuplicateTriggerError) Error() string {
	return fmt.Sprintf("trigger %q already registered", e.ID)
}

// Source is a store that reports its changes.
type Source interface {
	statestore.Store
	Watch(fn func(statestore.Change)) (cancel func())
}

// Metrics receives synchronizer counters.
type Metrics interface {
	TriggerEvaluated(trigger string)
	TriggerFired(trigger string)
	StaleWrite(trigger string)
	EffectFailed(trigger string)
}

type nopMetrics struct{}

func (nopMetrics) TriggerEvaluated(string) {}
func (nopMetrics) TriggerFired(string)     {}
func (nopMetrics) StaleWrite(string)       {}
func (nopMetrics) EffectFailed(string)     {}

// Synchronizer evaluates registered triggers against store changes.
type Synchronizer struct {
	source  Source
	logger  *slog.Logger
	ids     IDGenerator
	metrics Metrics
	queue   *changeQueue[statestore.Change]

	mu       sync.Mutex
	triggers []evaluator
	byID     map[string]struct{}
	started  bool

	effects sync.WaitGroup
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithIDGenerator sets the run ID source. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Synchronizer) { s.ids = g }
}

// WithMetrics reports counters to m.
func WithMetrics(m Metrics) Option {
	return func(s *Synchronizer) { s.metrics = m }
}

// New creates a synchronizer over source.
func New(source Source, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		source:  source,
		logger:  slog.Default(),
		ids:     UUIDv7Generator{},
		metrics: nopMetrics{},
		queue:   newChangeQueue[statestore.Change](),
		byID:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// evaluator is a Trigger with its type parameter erased.
type evaluator interface {
	id() string
	watches(key string) bool
	evaluate(ctx context.Context, s *Synchronizer, initial bool)
}

// Register adds t. Triggers must be registered before Run.
func Register[T any](s *Synchronizer, t Trigger[T]) error {
	if err := t.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("register %s: %w", t.ID, ErrStarted)
	}
	if _, dup := s.byID[t.ID]; dup {
		return &DuplicateTriggerError{ID: t.ID}
	}
	s.byID[t.ID] = struct{}{}
	s.triggers = append(s.triggers, &trigger[T]{def: t, gen: &generation{}})
	return nil
}

// Triggers lists registered trigger IDs in registration order.
func (s *Synchronizer) Triggers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.triggers))
	for i, t := range s.triggers {
		out[i] = t.id()
	}
	return out
}

// Run takes the initial selections, fires FireImmediately triggers, then
// processes changes until ctx is cancelled or Stop is called. On return
// running effects are cancelled and waited for.
//
// Run is the only goroutine that evaluates triggers.
func (s *Synchronizer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	triggers := slices.Clone(s.triggers)
	s.mu.Unlock()

	unwatch := s.source.Watch(func(c statestore.Change) { s.queue.Enqueue(c) })
	effCtx, cancelEffects := context.WithCancel(ctx)
	defer func() {
		unwatch()
		s.queue.Close()
		cancelEffects()
		s.effects.Wait()
	}()

	s.logger.Info("synchronizer starting", "triggers", len(triggers))
	for _, t := range triggers {
		t.evaluate(effCtx, s, true)
	}

	for {
		c, ok := s.queue.TryDequeue()
		if ok {
			for _, t := range triggers {
				if t.watches(c.Key) {
					t.evaluate(effCtx, s, false)
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.logger.Info("synchronizer stopping: context cancelled")
			return ctx.Err()
		case <-s.queue.Wait():
			if s.queue.Drained() {
				s.logger.Info("synchronizer stopping: stopped")
				return nil
			}
		}
	}
}

// Stop makes Run return after the changes already queued.
func (s *Synchronizer) Stop() {
	s.queue.Close()
}

type trigger[T any] struct {
	def Trigger[T]
	gen *generation

	// Owned by the Run goroutine.
	prev    T
	hasPrev bool
}

func (t *trigger[T]) id() string {
	return t.def.ID
}

func (t *trigger[T]) watches(key string) bool {
	if len(t.def.Keys) == 0 {
		return true
	}
	for _, p := range t.def.Keys {
		if statestore.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (t *trigger[T]) evaluate(ctx context.Context, s *Synchronizer, initial bool) {
	id := t.def.ID
	defer s.metrics.TriggerEvaluated(id)

	next, err := t.def.Select(ctx, s.source)
	if err != nil {
		s.logger.Warn("trigger select failed", "trigger", id, "error", err)
		return
	}

	prev, hadPrev := t.prev, t.hasPrev
	t.prev, t.hasPrev = next, true

	if initial {
		if !t.def.FireImmediately {
			return
		}
	} else if hadPrev && t.def.Equal(prev, next) {
		return
	}
	t.fire(ctx, s, prev, hadPrev, next)
}

func (t *trigger[T]) fire(ctx context.Context, s *Synchronizer, prev T, hadPrev bool, next T) {
	id := t.def.ID
	runCtx, cancel := context.WithCancel(ctx)
	n := t.gen.advance(cancel)

	run := Run[T]{
		ID:         s.ids.Generate(),
		Trigger:    id,
		Generation: n,
		Prev:       prev,
		HasPrev:    hadPrev,
		Next:       next,
		Writer: &Writer{
			store: s.source,
			gen:   t.gen,
			n:     n,
			onStale: func(key string) {
				s.metrics.StaleWrite(id)
				s.logger.Debug("stale write dropped", "trigger", id, "generation", n, "key", key)
			},
		},
	}
	s.metrics.TriggerFired(id)
	s.logger.Debug("trigger fired", "trigger", id, "run", run.ID, "generation", n)

	s.effects.Add(1)
	go func() {
		defer s.effects.Done()
		defer cancel()

		err := t.def.Effect(runCtx, run)
		switch {
		case err == nil:
		case errors.Is(err, ErrStale), runCtx.Err() != nil && errors.Is(err, runCtx.Err()):
			s.logger.Debug("effect superseded", "trigger", id, "run", run.ID, "generation", n)
		default:
			s.metrics.EffectFailed(id)
			s.logger.Error("effect failed", "trigger", id, "run", run.ID, "generation", n, "error", err)
		}
	}()
}

package submux

import (
	"context"
	"sort"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/roach88/ledgerflow/internal/ir"
)

// Group is a replaceable set of subscriptions sharing one onValue.
//
// Typical use is re-keying on identity changes: when the selected account
// switches, Replace cancels the old account's keys before subscribing the
// new ones, so the two never race to write the same destination.
//
// A member whose upstream fails leaves the group before the group's
// OnError handler runs, so Replace with the same keys opens it again.
type Group struct {
	mux     *Mux
	onValue func(Key, ir.Value)
	opts    []SubscribeOption
	onError func(Key, error)

	// mu serializes Replace calls.
	mu     sync.Mutex
	active map[string]*groupMember
}

type groupMember struct {
	key    Key
	cancel CancelFunc
}

// NewGroup creates an empty group.
func (m *Mux) NewGroup(onValue func(Key, ir.Value), opts ...SubscribeOption) *Group {
	var base subscriber
	for _, opt := range opts {
		opt(&base)
	}
	return &Group{
		mux:     m,
		onValue: onValue,
		opts:    opts,
		onError: base.onError,
		active:  make(map[string]*groupMember),
	}
}

// subscribe opens one member. Its error hook removes exactly that member,
// not a later subscription under the same key.
func (g *Group) subscribe(ctx context.Context, id string, key Key) (*groupMember, error) {
	member := &groupMember{key: key}
	drop := OnError(func(k Key, err error) {
		g.mu.Lock()
		if g.active[id] == member {
			delete(g.active, id)
		}
		g.mu.Unlock()
		if g.onError != nil {
			g.onError(k, err)
		}
	})
	opts := append(append([]SubscribeOption(nil), g.opts...), drop)
	cancel, err := g.mux.Subscribe(ctx, key, g.onValue, opts...)
	if err != nil {
		return nil, err
	}
	member.cancel = cancel
	return member, nil
}

// Replace makes keys the group's subscription set.
//
// Keys present in both the old and new set keep their subscription. Keys
// leaving the set are cancelled first; only then are new keys subscribed.
// If some new keys fail to open, the rest stay subscribed and the error
// lists the failures; calling Replace again with the same keys retries
// only those, along with any member lost to a transport error.
func (g *Group) Replace(ctx context.Context, keys []Key) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	want := make(map[string]Key, len(keys))
	for _, k := range keys {
		want[k.ID()] = k
	}

	oldSet := mapset.NewThreadUnsafeSet[string]()
	for id := range g.active {
		oldSet.Add(id)
	}
	newSet := mapset.NewThreadUnsafeSet[string]()
	for id := range want {
		newSet.Add(id)
	}

	var errs *multierror.Error

	leaving := oldSet.Difference(newSet).ToSlice()
	sort.Slice(leaving, func(i, j int) bool {
		return g.active[leaving[i]].key.String() < g.active[leaving[j]].key.String()
	})
	cancels := make([]CancelFunc, 0, len(leaving))
	for _, id := range leaving {
		cancels = append(cancels, g.active[id].cancel)
		delete(g.active, id)
	}
	if err := CancelAll(cancels...)(); err != nil {
		errs = multierror.Append(errs, err)
	}

	entering := newSet.Difference(oldSet).ToSlice()
	sort.Slice(entering, func(i, j int) bool {
		return want[entering[i]].String() < want[entering[j]].String()
	})
	for _, id := range entering {
		key := want[id]
		member, err := g.subscribe(ctx, id, key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		g.active[id] = member
	}

	return errs.ErrorOrNil()
}

// Keys returns the current subscription set sorted by key.
func (g *Group) Keys() []Key {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Key, 0, len(g.active))
	for _, m := range g.active {
		out = append(out, m.key)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Close cancels every subscription in the group.
func (g *Group) Close() error {
	return g.Replace(context.Background(), nil)
}

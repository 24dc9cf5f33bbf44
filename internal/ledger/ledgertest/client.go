// Package ledgertest provides a scriptable in-memory ledger.Client.
//
// Transactions either replay a queued script of notifications or stay open
// for the test to drive through Tx. Storage subscriptions are fed with Emit.
// With KeepEmitting the fake ignores unsubscribe, simulating a transport that
// keeps pushing after the consumer cancelled.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

// Submission records one Submit or SubmitUnsigned call.
type Submission struct {
	Hash   string
	Call   ledger.Call
	Sender string // empty for unsigned
	Sig    []byte
}

// Client is a fake ledger.Client. Safe for concurrent use.
type Client struct {
	mu sync.Mutex

	seq         int
	scripts     [][]ledger.Notification
	rejectNext  []error
	txs         map[string]*ledger.TxStream
	submissions []Submission

	keepEmitting  bool
	watches       map[string][]*storageWatch
	subscribeErr  map[string]error
	subscribes    map[string]int
	unsubscribes  map[string]int
	values        map[string]ir.Value
	queries       map[string]int
	moduleErrors  map[ledger.ModuleError]ledger.ErrorMeta
	resolveErr    error
	resolveCalled int
}

// New creates an empty fake.
func New() *Client {
	return &Client{
		txs:          make(map[string]*ledger.TxStream),
		watches:      make(map[string][]*storageWatch),
		subscribeErr: make(map[string]error),
		subscribes:   make(map[string]int),
		unsubscribes: make(map[string]int),
		values:       make(map[string]ir.Value),
		queries:      make(map[string]int),
		moduleErrors: make(map[ledger.ModuleError]ledger.ErrorMeta),
	}
}

var _ ledger.Client = (*Client)(nil)

// Script queues notifications for the next submission. The stream ends
// cleanly after the last one.
func (c *Client) Script(notifications ...ledger.Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts = append(c.scripts, notifications)
}

// RejectNext makes the next submission fail synchronously with err.
func (c *Client) RejectNext(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejectNext = append(c.rejectNext, err)
}

// KeepEmitting makes storage watches ignore Close.
func (c *Client) KeepEmitting(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepEmitting = on
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, call ledger.Call, signer ledger.Signer) (ledger.TxWatch, error) {
	_, sig, err := ledger.SignCall(signer, call)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, Submission{Call: call, Sender: signer.Address(), Sig: sig})
}

// SubmitUnsigned implements ledger.Client.
func (c *Client) SubmitUnsigned(ctx context.Context, call ledger.Call) (ledger.TxWatch, error) {
	return c.submit(ctx, Submission{Call: call})
}

func (c *Client) submit(ctx context.Context, sub Submission) (ledger.TxWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	if len(c.rejectNext) > 0 {
		err := c.rejectNext[0]
		c.rejectNext = c.rejectNext[1:]
		c.mu.Unlock()
		return nil, err
	}
	c.seq++
	sub.Hash = fmt.Sprintf("0x%064x", c.seq)
	tx := ledger.NewTxStream(sub.Hash, 16, nil)
	c.txs[sub.Hash] = tx
	c.submissions = append(c.submissions, sub)

	var script []ledger.Notification
	scripted := len(c.scripts) > 0
	if scripted {
		script = c.scripts[0]
		c.scripts = c.scripts[1:]
	}
	c.mu.Unlock()

	if scripted {
		go func() {
			for _, n := range script {
				if !tx.Send(n) {
					return
				}
			}
			tx.Finish(nil)
		}()
	}
	return tx, nil
}

// Tx returns the producer side of a submitted transaction.
func (c *Client) Tx(hash string) *ledger.TxStream {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.txs[hash]
}

// Submissions returns every accepted submission in order.
func (c *Client) Submissions() []Submission {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Submission(nil), c.submissions...)
}

type storageWatch struct {
	*ledger.Stream[ir.Value]
	client *Client
	key    string
}

func (w *storageWatch) Close() {
	w.client.mu.Lock()
	w.client.unsubscribes[w.key]++
	keep := w.client.keepEmitting
	if !keep {
		w.client.removeWatchLocked(w)
	}
	w.client.mu.Unlock()

	if !keep {
		w.Stream.Close()
	}
}

func (c *Client) removeWatchLocked(w *storageWatch) {
	ws := c.watches[w.key]
	for i, other := range ws {
		if other == w {
			c.watches[w.key] = append(ws[:i:i], ws[i+1:]...)
			return
		}
	}
}

// SubscribeStorage implements ledger.Client.
func (c *Client) SubscribeStorage(ctx context.Context, path ledger.Path) (ledger.ValueWatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := path.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if err, ok := c.subscribeErr[key]; ok {
		return nil, err
	}
	w := &storageWatch{Stream: ledger.NewStream[ir.Value](256, nil), client: c, key: key}
	c.watches[key] = append(c.watches[key], w)
	c.subscribes[key]++
	return w, nil
}

// FailSubscribe makes SubscribeStorage for path return err.
func (c *Client) FailSubscribe(path ledger.Path, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeErr[path.String()] = err
}

// Emit pushes v to every open watch on path and returns how many
// received it.
func (c *Client) Emit(path ledger.Path, v ir.Value) int {
	c.mu.Lock()
	ws := append([]*storageWatch(nil), c.watches[path.String()]...)
	c.mu.Unlock()

	n := 0
	for _, w := range ws {
		if w.Send(v) {
			n++
		}
	}
	return n
}

// Break ends every watch on path with err, as a transport failure would.
func (c *Client) Break(path ledger.Path, err error) {
	c.mu.Lock()
	ws := c.watches[path.String()]
	delete(c.watches, path.String())
	c.mu.Unlock()

	for _, w := range ws {
		w.Finish(err)
	}
}

// Subscribes reports how many upstream subscriptions were opened for path.
func (c *Client) Subscribes(path ledger.Path) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes[path.String()]
}

// Unsubscribes reports how many upstream subscriptions were closed for path.
func (c *Client) Unsubscribes(path ledger.Path) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribes[path.String()]
}

// Open reports the live watch count for path.
func (c *Client) Open(path ledger.Path) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.watches[path.String()])
}

// SetValue sets what QueryStorage returns for path.
func (c *Client) SetValue(path ledger.Path, v ir.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[path.String()] = v
}

// QueryStorage implements ledger.Client. Unknown paths read as Null.
func (c *Client) QueryStorage(ctx context.Context, path ledger.Path) (ir.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries[path.String()]++
	if v, ok := c.values[path.String()]; ok {
		return v, nil
	}
	return ir.Null{}, nil
}

// Queries reports how many times path was queried.
func (c *Client) Queries(path ledger.Path) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries[path.String()]
}

// RegisterError adds a metadata entry.
func (c *Client) RegisterError(merr ledger.ModuleError, meta ledger.ErrorMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moduleErrors[merr] = meta
}

// FailResolve makes every ResolveDispatchError call return err.
func (c *Client) FailResolve(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveErr = err
}

// ResolveDispatchError implements ledger.Client.
func (c *Client) ResolveDispatchError(ctx context.Context, merr ledger.ModuleError) (ledger.ErrorMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolveCalled++
	if c.resolveErr != nil {
		return ledger.ErrorMeta{}, c.resolveErr
	}
	meta, ok := c.moduleErrors[merr]
	if !ok {
		return ledger.ErrorMeta{}, fmt.Errorf("no metadata for module error %d:%d", merr.Index, merr.Error)
	}
	return meta, nil
}

// Resolves reports how many metadata lookups were made.
func (c *Client) Resolves() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveCalled
}

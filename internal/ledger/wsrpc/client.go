package wsrpc

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"

	"github.com/roach88/ledgerflow/internal/ir"
	"github.com/roach88/ledgerflow/internal/ledger"
)

const (
	methodSubmit         = "ledger_submitAndWatch"
	methodSubmitUnsigned = "ledger_submitUnsignedAndWatch"
	methodSubscribe      = "ledger_subscribeStorage"
	methodUnsubscribe    = "ledger_unsubscribe"
	methodQuery          = "ledger_queryStorage"
	methodResolveError   = "ledger_resolveError"

	notifyTxStatus = "ledger_txStatus"
	notifyStorage  = "ledger_storage"
)

// ErrClosed is returned for calls made after the connection ended.
var ErrClosed = errors.New("wsrpc: connection closed")

// DefaultBuffer is the per-subscription channel buffer.
const DefaultBuffer = 64

// maxEarly bounds notifications held for a subscription id whose
// subscribe reply has not been processed yet.
const maxEarly = 128

const (
	// maxEarlySubs bounds how many unknown subscription ids are parked;
	// the least recently touched is dropped first.
	maxEarlySubs = 64
	// maxEnded is how many finished subscription ids are remembered so
	// their late notifications are dropped instead of parked.
	maxEnded = 1024
)

// RPCError is an error object returned by the gateway.
type RPCError struct {
	Code    int64
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type reply struct {
	result gjson.Result
	err    error
}

// sink receives pushed notifications for one subscription.
type sink interface {
	deliver(result gjson.Result) (done bool)
	fail(err error)
}

// Client is a websocket JSON-RPC ledger client.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	buffer  int
	timeout time.Duration

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan reply
	subs    map[string]sink
	early   *lru.Cache[string, []gjson.Result]
	ended   *lru.Cache[string, struct{}]
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

var _ ledger.Client = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithBuffer sets the per-subscription channel buffer.
func WithBuffer(n int) Option {
	return func(c *Client) { c.buffer = n }
}

// WithUnsubscribeTimeout bounds the unsubscribe RPC issued by Close.
func WithUnsubscribeTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to a gateway at url (ws:// or wss://).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	// Sizes are positive constants, so New cannot fail.
	early, _ := lru.New[string, []gjson.Result](maxEarlySubs)
	ended, _ := lru.New[string, struct{}](maxEnded)

	c := &Client{
		conn:    conn,
		logger:  slog.Default(),
		buffer:  DefaultBuffer,
		timeout: 5 * time.Second,
		pending: make(map[string]chan reply),
		subs:    make(map[string]sink),
		early:   early,
		ended:   ended,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()
	return c, nil
}

// Close ends the connection. Open streams finish with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	<-c.done
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		if !gjson.ValidBytes(data) {
			c.logger.Warn("wsrpc: dropping invalid message", "bytes", len(data))
			continue
		}
		msg := gjson.ParseBytes(data)

		if id := msg.Get("id"); id.Exists() && !msg.Get("method").Exists() {
			c.handleReply(id.String(), msg)
			continue
		}
		switch method := msg.Get("method").String(); method {
		case notifyTxStatus, notifyStorage:
			c.handleNotification(msg.Get("params.subscription").String(), msg.Get("params.result"))
		default:
			c.logger.Debug("wsrpc: ignoring message", "method", method)
		}
	}
}

func (c *Client) handleReply(id string, msg gjson.Result) {
	c.mu.Lock()
	ch, ok := c.pending[id]
	delete(c.pending, id)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("wsrpc: reply for unknown request", "id", id)
		return
	}

	if e := msg.Get("error"); e.Exists() {
		ch <- reply{err: &RPCError{Code: e.Get("code").Int(), Message: e.Get("message").String()}}
		return
	}
	ch <- reply{result: msg.Get("result")}
}

func (c *Client) handleNotification(subID string, result gjson.Result) {
	c.mu.Lock()
	s, ok := c.subs[subID]
	if !ok {
		if c.ended.Contains(subID) {
			c.mu.Unlock()
			c.logger.Debug("wsrpc: dropping notification for ended subscription", "subscription", subID)
			return
		}
		parked, _ := c.early.Get(subID)
		if len(parked) < maxEarly {
			c.early.Add(subID, append(parked, result))
		}
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if done := s.deliver(result); done {
		c.finished(subID)
	}
}

// finished forgets subID; later notifications for it are dropped.
func (c *Client) finished(subID string) {
	c.mu.Lock()
	delete(c.subs, subID)
	c.early.Remove(subID)
	c.ended.Add(subID, struct{}{})
	c.mu.Unlock()
}

func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = fmt.Errorf("%w: %v", ErrClosed, cause)
	}
	err := c.err
	pending := c.pending
	subs := c.subs
	c.pending = make(map[string]chan reply)
	c.subs = make(map[string]sink)
	c.early.Purge()
	c.ended.Purge()
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- reply{err: err}
	}
	for _, s := range subs {
		s.fail(err)
	}
}

func (c *Client) call(ctx context.Context, method string, params any) (gjson.Result, error) {
	id := uuid.NewString()
	ch := make(chan reply, 1)

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return gjson.Result{}, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err := c.conn.WriteJSON(request{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return gjson.Result{}, fmt.Errorf("%s: write: %w", method, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return gjson.Result{}, fmt.Errorf("%s: %w", method, r.err)
		}
		return r.result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return gjson.Result{}, ctx.Err()
	}
}

// register attaches s to subID and flushes notifications that raced
// ahead of the subscribe reply.
func (c *Client) register(subID string, s sink) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		s.fail(err)
		return
	}
	early, _ := c.early.Get(subID)
	c.early.Remove(subID)
	c.subs[subID] = s
	c.mu.Unlock()

	for _, r := range early {
		if s.deliver(r) {
			c.finished(subID)
			return
		}
	}
}

func (c *Client) unsubscribe(subID string) {
	c.mu.Lock()
	_, live := c.subs[subID]
	delete(c.subs, subID)
	c.early.Remove(subID)
	c.ended.Add(subID, struct{}{})
	closed := c.err != nil
	c.mu.Unlock()
	if !live || closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	if _, err := c.call(ctx, methodUnsubscribe, []string{subID}); err != nil {
		c.logger.Warn("wsrpc: unsubscribe failed", "subscription", subID, "error", err)
	}
}

type callParams struct {
	Section string    `json:"section"`
	Method  string    `json:"method"`
	Args    ir.Object `json:"args"`
}

func toCallParams(call ledger.Call) callParams {
	args := call.Args
	if args == nil {
		args = ir.Object{}
	}
	return callParams{Section: call.Section, Method: call.Method, Args: args}
}

// Submit implements ledger.Client.
func (c *Client) Submit(ctx context.Context, call ledger.Call, signer ledger.Signer) (ledger.TxWatch, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}
	_, sig, err := ledger.SignCall(signer, call)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"call":      toCallParams(call),
		"sender":    signer.Address(),
		"signature": "0x" + hex.EncodeToString(sig),
	}
	return c.submit(ctx, methodSubmit, params)
}

// SubmitUnsigned implements ledger.Client.
func (c *Client) SubmitUnsigned(ctx context.Context, call ledger.Call) (ledger.TxWatch, error) {
	if err := call.Validate(); err != nil {
		return nil, err
	}
	return c.submit(ctx, methodSubmitUnsigned, map[string]any{"call": toCallParams(call)})
}

func (c *Client) submit(ctx context.Context, method string, params any) (ledger.TxWatch, error) {
	res, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	hash := res.Get("hash").String()
	subID := res.Get("subscription").String()
	if hash == "" || subID == "" {
		return nil, fmt.Errorf("%s: reply missing hash or subscription: %s", method, res.Raw)
	}

	tx := ledger.NewTxStream(hash, c.buffer, func() { c.unsubscribe(subID) })
	c.register(subID, &txSink{tx: tx, logger: c.logger})
	return tx, nil
}

type txSink struct {
	tx     *ledger.TxStream
	logger *slog.Logger
}

func (s *txSink) deliver(result gjson.Result) bool {
	n, err := parseNotification(result)
	if err != nil {
		s.logger.Error("wsrpc: malformed tx notification", "hash", s.tx.Hash(), "error", err)
		s.tx.Finish(err)
		return true
	}
	if !s.tx.Send(n) {
		return true
	}
	// The node ends the watch after these statuses.
	if n.Status == ledger.StatusFinalized || n.Status.IsFailure() {
		s.tx.Finish(nil)
		return true
	}
	return false
}

func (s *txSink) fail(err error) {
	s.tx.Finish(err)
}

func parseNotification(r gjson.Result) (ledger.Notification, error) {
	status, err := ledger.ParseStatus(r.Get("status").String())
	if err != nil {
		return ledger.Notification{}, err
	}
	n := ledger.Notification{
		Status:    status,
		BlockHash: r.Get("blockHash").String(),
		Err:       r.Get("error").String(),
	}
	for _, ev := range r.Get("events").Array() {
		data := ir.Object{}
		if raw := ev.Get("data"); raw.Exists() && raw.IsObject() {
			if err := data.UnmarshalJSON([]byte(raw.Raw)); err != nil {
				return ledger.Notification{}, fmt.Errorf("event %s.%s: %w",
					ev.Get("section").String(), ev.Get("method").String(), err)
			}
		}
		n.Events = append(n.Events, ledger.Event{
			Section: ev.Get("section").String(),
			Method:  ev.Get("method").String(),
			Data:    data,
		})
	}
	return n, nil
}

// SubscribeStorage implements ledger.Client.
func (c *Client) SubscribeStorage(ctx context.Context, path ledger.Path) (ledger.ValueWatch, error) {
	res, err := c.call(ctx, methodSubscribe, map[string]any{"path": []string(path)})
	if err != nil {
		return nil, err
	}
	subID := res.String()
	if subID == "" {
		return nil, fmt.Errorf("%s: empty subscription id", methodSubscribe)
	}

	stream := ledger.NewStream[ir.Value](c.buffer, func() { c.unsubscribe(subID) })
	c.register(subID, &valueSink{stream: stream, path: path, logger: c.logger})
	return stream, nil
}

type valueSink struct {
	stream *ledger.Stream[ir.Value]
	path   ledger.Path
	logger *slog.Logger
}

func (s *valueSink) deliver(result gjson.Result) bool {
	v, err := parseValue(result)
	if err != nil {
		s.logger.Error("wsrpc: malformed storage value", "path", s.path.String(), "error", err)
		s.stream.Finish(err)
		return true
	}
	return !s.stream.Send(v)
}

func (s *valueSink) fail(err error) {
	s.stream.Finish(err)
}

func parseValue(r gjson.Result) (ir.Value, error) {
	if !r.Exists() {
		return ir.Null{}, nil
	}
	return ir.UnmarshalValue([]byte(r.Raw))
}

// QueryStorage implements ledger.Client.
func (c *Client) QueryStorage(ctx context.Context, path ledger.Path) (ir.Value, error) {
	res, err := c.call(ctx, methodQuery, map[string]any{"path": []string(path)})
	if err != nil {
		return nil, err
	}
	return parseValue(res)
}

// ResolveDispatchError implements ledger.Client.
func (c *Client) ResolveDispatchError(ctx context.Context, merr ledger.ModuleError) (ledger.ErrorMeta, error) {
	res, err := c.call(ctx, methodResolveError, merr)
	if err != nil {
		return ledger.ErrorMeta{}, err
	}
	meta := ledger.ErrorMeta{
		Section: res.Get("section").String(),
		Name:    res.Get("name").String(),
		Docs:    res.Get("docs").String(),
	}
	if meta.Section == "" || meta.Name == "" {
		return ledger.ErrorMeta{}, fmt.Errorf("%s: incomplete metadata for %d:%d", methodResolveError, merr.Index, merr.Error)
	}
	return meta, nil
}

package wsrpc

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeGateway speaks just enough of the gateway protocol for tests.
type fakeGateway struct {
	t *testing.T

	mu           sync.Mutex
	requests     []map[string]any
	unsubscribed []string

	// txScript is pushed after a submit reply.
	txScript []map[string]any
	// storageScript is pushed after a subscribe reply.
	storageScript []any
	// pushFirst sends notifications before the reply.
	pushFirst bool
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (g *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	for {
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		g.mu.Lock()
		g.requests = append(g.requests, req)
		g.mu.Unlock()

		id := req["id"]
		params, _ := req["params"].(map[string]any)
		switch req["method"] {
		case methodSubmit, methodSubmitUnsigned:
			if call, _ := params["call"].(map[string]any); call["method"] == "reject" {
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id,
					"error": map[string]any{"code": 1010, "message": "Invalid Transaction: Inability to pay some fees"}})
				continue
			}
			g.withPush(conn, "sub-tx", notifyTxStatus, toAny(g.txScript), func() {
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id,
					"result": map[string]any{"hash": "0xfeed", "subscription": "sub-tx"}})
			})
		case methodSubscribe:
			g.withPush(conn, "sub-storage", notifyStorage, g.storageScript, func() {
				_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": "sub-storage"})
			})
		case methodUnsubscribe:
			list, _ := req["params"].([]any)
			g.mu.Lock()
			for _, s := range list {
				g.unsubscribed = append(g.unsubscribed, s.(string))
			}
			g.mu.Unlock()
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": true})
		case methodQuery:
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id,
				"result": map[string]any{"free": "340282366920938463463374607431768211455", "frozen": 0}})
		case methodResolveError:
			var res any = map[string]any{"section": "assets", "name": "InsufficientBalance", "docs": "Balance too low."}
			if params["index"] != float64(3) || params["error"] != float64(7) {
				res = map[string]any{}
			}
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": res})
		}
	}
}

func (g *fakeGateway) withPush(conn *websocket.Conn, sub, method string, script []any, replyFn func()) {
	push := func() {
		for _, r := range script {
			_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "method": method,
				"params": map[string]any{"subscription": sub, "result": r}})
		}
	}
	if g.pushFirst {
		push()
		replyFn()
		return
	}
	replyFn()
	push()
}

func (g *fakeGateway) requestsFor(method string) []map[string]any {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []map[string]any
	for _, r := range g.requests {
		if r["method"] == method {
			out = append(out, r)
		}
	}
	return out
}

func (g *fakeGateway) unsubscribes() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.unsubscribed...)
}

func toAny(in []map[string]any) []any {
	out := make([]any, len(in))
	for i, m := range in {
		out[i] = m
	}
	return out
}

func startGateway(t *testing.T, g *fakeGateway) string {
	t.Helper()
	g.t = t
	srv := httptest.NewServer(http.HandlerFunc(g.serve))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

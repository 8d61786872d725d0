// Package gateway exposes the invocation surface over HTTP, grounded on
// the original Rust actix-web gateway (main.rs): GET builds a single
// object argument from query parameters, POST takes a JSON body as the
// sole argument, and PUT / accepts a tagged KernelRequest. It is built
// on net/http and http.ServeMux the way the teacher's own
// internal/network/http_server.go is, rather than a third-party router.
// Concurrent invocations are bounded by golang.org/x/sync/semaphore, a
// dependency the teacher lists but never itself wires to anything.
package gateway

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/semaphore"

	"tuna/internal/exec"
	"tuna/internal/tunaerr"
	"tuna/internal/value"
)

// Gateway dispatches HTTP requests to program functions.
type Gateway struct {
	globals    *exec.Globals
	privateFns map[string]bool
	sem        *semaphore.Weighted
	mux        *http.ServeMux
	upgrader   websocket.Upgrader
	events     *eventBus
}

// New builds a Gateway over globals, rejecting calls to any function
// named in privateFns and allowing at most maxConcurrent invocations to
// run at once.
func New(globals *exec.Globals, privateFns map[string]bool, maxConcurrent int64) *Gateway {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	g := &Gateway{
		globals:    globals,
		privateFns: privateFns,
		sem:        semaphore.NewWeighted(maxConcurrent),
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
		events:     newEventBus(),
	}
	g.mux = http.NewServeMux()
	g.mux.HandleFunc("/", g.handleRoot)
	g.mux.HandleFunc("/events", g.handleEvents)
	return g
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

func (g *Gateway) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/" {
		if r.Method != http.MethodPut {
			http.Error(w, "expected PUT /", http.StatusMethodNotAllowed)
			return
		}
		g.handleKernelRequest(w, r)
		return
	}

	fname := strings.TrimPrefix(r.URL.Path, "/")
	switch r.Method {
	case http.MethodGet:
		g.handleGet(w, r, fname)
	case http.MethodPost:
		g.handlePost(w, r, fname)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleGet(w http.ResponseWriter, r *http.Request, fname string) {
	obj := value.NewObject()
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			obj.Fields[k] = vs[0]
		}
	}
	var arg value.Value
	if len(obj.Fields) > 0 {
		arg = obj
	}
	g.invokeAndRespond(w, r.Context(), fname, arg)
}

func (g *Gateway) handlePost(w http.ResponseWriter, r *http.Request, fname string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading body: "+err.Error(), http.StatusBadRequest)
		return
	}
	var arg value.Value
	if len(strings.TrimSpace(string(body))) > 0 {
		arg, err = value.Decode(body)
		if err != nil {
			http.Error(w, "decoding body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	g.invokeAndRespond(w, r.Context(), fname, arg)
}

// kernelRequest mirrors the original gateway's tagged Noop/Exec enum.
type kernelRequest struct {
	Type string          `json:"type"`
	Proc string          `json:"proc,omitempty"`
	Arg  json.RawMessage `json:"arg,omitempty"`
}

func (g *Gateway) handleKernelRequest(w http.ResponseWriter, r *http.Request) {
	var req kernelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "decoding request: "+err.Error(), http.StatusBadRequest)
		return
	}
	switch req.Type {
	case "Noop":
		w.WriteHeader(http.StatusNoContent)
	case "Exec":
		var arg value.Value
		if len(req.Arg) > 0 {
			var err error
			arg, err = value.Decode(req.Arg)
			if err != nil {
				http.Error(w, "decoding arg: "+err.Error(), http.StatusBadRequest)
				return
			}
		}
		g.invokeAndRespond(w, r.Context(), req.Proc, arg)
	default:
		http.Error(w, "unknown request type "+req.Type, http.StatusBadRequest)
	}
}

func (g *Gateway) invokeAndRespond(w http.ResponseWriter, ctx context.Context, fname string, arg value.Value) {
	if g.privateFns[fname] {
		http.Error(w, "function "+fname+" is private", http.StatusForbidden)
		return
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		http.Error(w, "server busy", http.StatusServiceUnavailable)
		return
	}
	defer g.sem.Release(1)

	result, err := g.invoke(fname, arg)
	g.events.publish(fname, err)
	if err != nil {
		status := http.StatusInternalServerError
		if _, ok := err.(*tunaerr.Error); ok {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	enc, err := value.Encode(result)
	if err != nil {
		http.Error(w, "encoding result: "+err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(enc)
}

func (g *Gateway) invoke(fname string, arg value.Value) (value.Value, error) {
	ops, ok := g.globals.Functions[fname]
	if !ok {
		return nil, tunaerr.Resolution("invoke", "unknown function %q", fname)
	}
	state := &exec.State{}
	if arg != nil {
		state.Heap = append(state.Heap, arg)
	}
	return exec.Run(ops, 0, state, g.globals)
}

// eventBus fans invocation-completion events out to every connected
// websocket client, grounded on the teacher's network_websocket.go
// connection-registry pattern.
type eventBus struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventBus() *eventBus {
	return &eventBus{clients: make(map[*websocket.Conn]struct{})}
}

func (b *eventBus) add(c *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[c] = struct{}{}
}

func (b *eventBus) remove(c *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, c)
	c.Close()
}

func (b *eventBus) publish(fname string, invokeErr error) {
	event := map[string]any{"function": fname}
	if invokeErr != nil {
		event["error"] = invokeErr.Error()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for c := range b.clients {
		_ = c.WriteMessage(websocket.TextMessage, payload)
	}
}

func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	g.events.add(conn)
	defer g.events.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

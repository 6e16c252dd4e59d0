package router

import (
	"math/rand"
	"sync/atomic"
	"time"

	"vkcluster/internal/cmdparse"
	"vkcluster/internal/conn"
	"vkcluster/internal/respconn"
	"vkcluster/internal/slotkey"
	"vkcluster/internal/topology"
)

// throttleWindow is spec.md §4.G's 1,000,000 μs refresh throttle window.
const throttleWindow = time.Second

// RefreshTrigger starts a throttled asynchronous topology refresh,
// preferring addr as the node to refresh from when addr != "". Normally
// implemented by internal/cluster, which owns the CLUSTER SLOTS/NODES
// policy and calls back into Cache.Swap once the reply lands.
type RefreshTrigger func(addr string)

// ReplyFunc is the user callback delivered a reply or an error
// (spec.md §4.G's user callback).
type ReplyFunc func(*respconn.Reply, error)

const noRetry = -1

// pendingRequest is the state carried by an async command across
// redirects (spec.md §4.G step 4's "PendingRequest").
type pendingRequest struct {
	raw        []byte
	cb         ReplyFunc
	retryCount int
}

// AsyncRouter is the non-blocking command router (spec.md §4.G).
type AsyncRouter struct {
	cache      *topology.Cache
	registry   *conn.Registry
	trigger    RefreshTrigger
	throttle   *Throttle
	maxRetry   int
	dispatcher Dispatcher

	disconnecting atomic.Bool
}

// NewAsyncRouter builds an async router backed by a 1-second refresh
// throttle, matching spec.md §4.G's 1,000,000 μs window. dispatcher may
// be nil, defaulting to GoDispatcher.
func NewAsyncRouter(cache *topology.Cache, registry *conn.Registry, trigger RefreshTrigger, maxRetry int, dispatcher Dispatcher) *AsyncRouter {
	if dispatcher == nil {
		dispatcher = GoDispatcher{}
	}
	return &AsyncRouter{
		cache:      cache,
		registry:   registry,
		trigger:    trigger,
		throttle:   NewThrottle(throttleWindow),
		maxRetry:   maxRetry,
		dispatcher: dispatcher,
	}
}

// SetDisconnecting puts the router into the DISCONNECTING state
// (spec.md §5): new submissions are rejected, in-flight callbacks see
// their raw reply verbatim with no further redirect handling, and no
// further refresh is attempted.
func (r *AsyncRouter) SetDisconnecting() { r.disconnecting.Store(true) }

// Submit parses, slots, copies, and dispatches raw on the node owning its
// key (spec.md §4.G steps 1-4).
func (r *AsyncRouter) Submit(raw []byte, cb ReplyFunc) error {
	if r.disconnecting.Load() {
		return newError(CodeOther, "disconnecting")
	}
	owned := make([]byte, len(raw))
	copy(owned, raw)

	parsed := cmdparse.Inspect(owned)
	if parsed.Tag == cmdparse.ProtocolError {
		return newError(CodeProtocol, "%s", parsed.Err)
	}

	var node *topology.Node
	if parsed.HasKey {
		slot := int(slotkey.Slot(parsed.Key))
		node = r.cache.NodeForSlot(slot)
	} else {
		node = r.pickAny()
	}
	if node == nil {
		r.maybeRefresh("")
		return newError(CodeOther, "slot not served by any node")
	}

	ac, err := r.registry.EnsureAsync(node.Handle())
	if err != nil {
		return newError(CodeIO, "connect to %s: %v", node.Addr, err)
	}

	req := &pendingRequest{raw: owned, cb: cb}
	return r.dispatch(ac, node.Addr, req)
}

// SubmitToNode submits raw against a specific node address, bypassing
// slot routing and redirect retries (spec.md §4.G step 5's NO_RETRY
// commands targeted to a specific node).
func (r *AsyncRouter) SubmitToNode(addr string, raw []byte, cb ReplyFunc) error {
	if r.disconnecting.Load() {
		return newError(CodeOther, "disconnecting")
	}
	node := r.cache.NodeByAddr(addr)
	if node == nil {
		return newError(CodeOther, "node %s not known", addr)
	}
	ac, err := r.registry.EnsureAsync(node.Handle())
	if err != nil {
		return newError(CodeIO, "connect to %s: %v", addr, err)
	}
	owned := make([]byte, len(raw))
	copy(owned, raw)
	req := &pendingRequest{raw: owned, cb: cb, retryCount: noRetry}
	return ac.Append(owned, r.trampoline(ac, addr, req))
}

func (r *AsyncRouter) dispatch(ac *respconn.AsyncConn, addr string, req *pendingRequest) error {
	return ac.Append(req.raw, r.trampoline(ac, addr, req))
}

// trampoline is the single internal callback every async send is
// registered with; it classifies the reply and re-dispatches on redirect
// (spec.md §4.G step 5).
func (r *AsyncRouter) trampoline(ac *respconn.AsyncConn, addr string, req *pendingRequest) respconn.ReplyCallback {
	return func(reply *respconn.Reply, err error) {
		if err != nil {
			req.cb(nil, newError(CodeIO, "connection error: %v", err))
			r.maybeRefresh("")
			return
		}
		if req.retryCount == noRetry || r.disconnecting.Load() {
			req.cb(reply, nil)
			return
		}

		redirect := Classify(reply, addr)
		switch redirect.Kind {
		case KindNone, KindOther:
			req.cb(reply, nil)

		case KindMoved:
			r.maybeRefresh(addr)
			target := r.cache.NodeByAddr(redirect.Addr)
			if target == nil {
				host, port, perr := splitAddrPort(redirect.Addr)
				if perr != nil {
					req.cb(reply, nil)
					return
				}
				target = r.cache.AddNode(redirect.Addr, host, port)
			}
			r.cache.SetRoute(redirect.Slot, redirect.Addr)
			r.redispatchOrDeliver(target, req, reply)

		case KindAsk:
			target := r.cache.NodeByAddr(redirect.Addr)
			if target == nil {
				host, port, perr := splitAddrPort(redirect.Addr)
				if perr != nil {
					req.cb(reply, nil)
					return
				}
				target = r.cache.AddNode(redirect.Addr, host, port)
			}
			tac, terr := r.registry.EnsureAsync(target.Handle())
			if terr != nil {
				req.cb(reply, nil)
				return
			}
			tac.AppendCommand(func(askReply *respconn.Reply, askErr error) {
				if askErr != nil || askReply.IsError() {
					req.cb(reply, nil)
					return
				}
				req.retryCount++
				if req.retryCount > r.maxRetry {
					req.cb(reply, nil)
					return
				}
				tac.Append(req.raw, r.trampoline(tac, target.Addr, req))
			}, "ASKING")

		case KindTryAgain, KindClusterDown:
			req.retryCount++
			if req.retryCount > r.maxRetry {
				req.cb(reply, nil)
				return
			}
			ac.Append(req.raw, r.trampoline(ac, addr, req))
		}
	}
}

// redispatchOrDeliver re-sends req on target's async connection after a
// MOVED redirect, bumping the retry counter and delivering the stale
// reply if the cap is exceeded or the new connection can't be acquired.
func (r *AsyncRouter) redispatchOrDeliver(target *topology.Node, req *pendingRequest, staleReply *respconn.Reply) {
	req.retryCount++
	if req.retryCount > r.maxRetry {
		req.cb(staleReply, nil)
		return
	}
	tac, err := r.registry.EnsureAsync(target.Handle())
	if err != nil {
		req.cb(staleReply, nil)
		return
	}
	if err := tac.Append(req.raw, r.trampoline(tac, target.Addr, req)); err != nil {
		req.cb(staleReply, nil)
	}
}

// maybeRefresh triggers a throttled refresh unless one is already in
// flight, disconnecting, or the window hasn't elapsed (spec.md §4.G).
func (r *AsyncRouter) maybeRefresh(preferredAddr string) {
	if r.disconnecting.Load() {
		return
	}
	if !r.throttle.TryStart() {
		return
	}
	addr := preferredAddr
	if addr == "" {
		if n := r.pickRefreshNode(); n != nil {
			addr = n.Addr
		}
	}
	r.dispatcher.Go(func() {
		defer r.throttle.Finish()
		r.trigger(addr)
	})
}

func (r *AsyncRouter) pickAny() *topology.Node {
	nodes := r.cache.Snapshot()
	if len(nodes) == 0 {
		return nil
	}
	return nodes[rand.Intn(len(nodes))]
}

// pickRefreshNode implements spec.md §4.G's "Node selection for refresh":
// bias toward a currently-connected node, starting the scan at a
// uniformly random index, falling back to any known node.
func (r *AsyncRouter) pickRefreshNode() *topology.Node {
	nodes := r.cache.Snapshot()
	if len(nodes) == 0 {
		return nil
	}
	start := rand.Intn(len(nodes))
	for i := 0; i < len(nodes); i++ {
		n := nodes[(start+i)%len(nodes)]
		if _, hasAsync := r.registry.Status(n.Handle()); hasAsync {
			return n
		}
	}
	return nodes[start]
}

package router

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"

	"vkcluster/internal/cmdparse"
	"vkcluster/internal/conn"
	"vkcluster/internal/respconn"
	"vkcluster/internal/slotkey"
	"vkcluster/internal/topology"
)

// Refresher fetches a fresh topology from whatever node it can reach and
// installs it into the cache, returning only whether that succeeded.
// Implemented by internal/cluster so the router stays ignorant of
// connect-options and CLUSTER SLOTS vs CLUSTER NODES policy.
type Refresher interface {
	RefreshFrom(addr string) error
	RefreshAny() error
	// ProbeCommand returns the two-word topology command the router should
	// opportunistically piggyback on an in-flight connection (spec.md §4.F
	// step 4): CLUSTER NODES when the client is configured to use it,
	// CLUSTER SLOTS otherwise.
	ProbeCommand() (cmd, sub string)
}

// SyncRouter is the blocking command router (spec.md §4.F).
type SyncRouter struct {
	cache       *topology.Cache
	registry    *conn.Registry
	refresher   Refresher
	maxRetry    int
	queue       Queue
	needRefresh atomic.Bool
}

// NewSyncRouter builds a router. maxRetry of 0 means one attempt, no
// retries (spec.md §8's "retry cap of 0" boundary case).
func NewSyncRouter(cache *topology.Cache, registry *conn.Registry, refresher Refresher, maxRetry int) *SyncRouter {
	return &SyncRouter{cache: cache, registry: registry, refresher: refresher, maxRetry: maxRetry}
}

// Do runs the full state machine of spec.md §4.F for one command and
// returns its reply.
func (r *SyncRouter) Do(raw []byte) (*respconn.Reply, error) {
	parsed := cmdparse.Inspect(raw)
	if parsed.Tag == cmdparse.ProtocolError {
		return nil, newError(CodeProtocol, "%s", parsed.Err)
	}

	slot := -1
	if parsed.HasKey {
		slot = int(slotkey.Slot(parsed.Key))
	}

	retries := 0
	needPiggyback := r.needRefresh.Load()

	node, err := r.routeOnce(slot)
	if err != nil {
		return nil, err
	}

	for {
		c, err := r.registry.EnsureSync(node.Handle())
		if err != nil {
			if refErr := r.refresher.RefreshAny(); refErr == nil {
				node, err = r.routeOnce(slot)
				if err == nil {
					c, err = r.registry.EnsureSync(node.Handle())
				}
			}
			if err != nil {
				return nil, newError(CodeIO, "connect to %s: %v", node.Addr, err)
			}
		}

		if err := c.SendRaw(raw); err != nil {
			return nil, newError(CodeIO, "send: %v", err)
		}

		var refreshCarrier *respconn.Conn
		if needPiggyback {
			cmd, sub := r.refresher.ProbeCommand()
			if err := c.Send(cmd, sub); err == nil {
				refreshCarrier = c
			}
			needPiggyback = false
		}

		reply, err := c.GetReply()
		if err != nil {
			c.Close()
			r.needRefresh.Store(true)
			return nil, newError(CodeIO, "read reply: %v", err)
		}

		redirect := Classify(reply, node.Addr)
		switch redirect.Kind {
		case KindNone:
			if refreshCarrier != nil {
				r.applyPiggybackedRefresh(refreshCarrier)
			}
			return reply, nil

		case KindMoved:
			retries++
			if retries > r.maxRetry {
				return nil, newError(CodeTooManyRetries, "too many cluster retries")
			}
			target := r.cache.NodeByAddr(redirect.Addr)
			if target == nil {
				host, port, _ := splitAddrPort(redirect.Addr)
				target = r.cache.AddNode(redirect.Addr, host, port)
			}
			r.cache.SetRoute(redirect.Slot, redirect.Addr)
			if refreshCarrier == nil {
				needPiggyback = true
				r.needRefresh.Store(true)
			} else {
				r.applyPiggybackedRefresh(refreshCarrier)
				needPiggyback = r.needRefresh.Load()
			}
			node = target
			continue

		case KindAsk:
			retries++
			if retries > r.maxRetry {
				return nil, newError(CodeTooManyRetries, "too many cluster retries")
			}
			target := r.cache.NodeByAddr(redirect.Addr)
			if target == nil {
				host, port, _ := splitAddrPort(redirect.Addr)
				target = r.cache.AddNode(redirect.Addr, host, port)
			}
			ac, err := r.registry.EnsureSync(target.Handle())
			if err != nil {
				return nil, newError(CodeIO, "connect to ASK target %s: %v", redirect.Addr, err)
			}
			askReply, err := ac.Do("ASKING")
			if err != nil || askReply.IsError() {
				return nil, newError(CodeOther, "ASKING rejected by %s", redirect.Addr)
			}
			node = target
			continue

		case KindTryAgain, KindClusterDown:
			retries++
			if retries > r.maxRetry {
				return nil, newError(CodeTooManyRetries, "too many cluster retries")
			}
			node, err = r.routeOnce(slot)
			if err != nil {
				return nil, err
			}
			continue

		default:
			return reply, nil
		}
	}
}

// applyPiggybackedRefresh drains and installs a CLUSTER SLOTS/NODES reply
// that was opportunistically appended to an in-flight connection
// (spec.md §4.F step 7). The reply bytes are consumed here; Refresher
// re-issues its own CLUSTER SLOTS/NODES on a fresh connection rather than
// reparsing this one, keeping the parse path single-owner.
func (r *SyncRouter) applyPiggybackedRefresh(c *respconn.Conn) {
	if _, err := c.GetReply(); err != nil {
		r.needRefresh.Store(true)
		return
	}
	if err := r.refresher.RefreshAny(); err != nil {
		r.needRefresh.Store(true)
		return
	}
	r.needRefresh.Store(false)
}

// routeOnce performs step 1 of spec.md §4.F: slot lookup, refreshing once
// on a miss.
func (r *SyncRouter) routeOnce(slot int) (*topology.Node, error) {
	if slot < 0 {
		return r.anyNode()
	}
	if n := r.cache.NodeForSlot(slot); n != nil {
		return n, nil
	}
	if err := r.refresher.RefreshAny(); err != nil {
		return nil, newError(CodeOther, "topology refresh failed: %v", err)
	}
	if n := r.cache.NodeForSlot(slot); n != nil {
		return n, nil
	}
	return nil, newError(CodeOther, "slot %d not served by any node", slot)
}

// anyNode picks an arbitrary primary for commands that carry no key
// (PING, INFO, CLUSTER ...).
func (r *SyncRouter) anyNode() (*topology.Node, error) {
	nodes := r.cache.Snapshot()
	if len(nodes) == 0 {
		return nil, newError(CodeOther, "no nodes known")
	}
	return nodes[rand.Intn(len(nodes))], nil
}

// AppendCommand routes and writes raw, deferring the read (spec.md §4.H).
func (r *SyncRouter) AppendCommand(raw []byte) error {
	parsed := cmdparse.Inspect(raw)
	if parsed.Tag == cmdparse.ProtocolError {
		return newError(CodeProtocol, "%s", parsed.Err)
	}
	slot := -1
	if parsed.HasKey {
		slot = int(slotkey.Slot(parsed.Key))
	}
	node, err := r.routeOnce(slot)
	if err != nil {
		return err
	}
	c, err := r.registry.EnsureSync(node.Handle())
	if err != nil {
		return newError(CodeIO, "connect to %s: %v", node.Addr, err)
	}
	if err := c.SendRaw(raw); err != nil {
		return newError(CodeIO, "send: %v", err)
	}
	if slot < 0 {
		r.queue.PushToNode(raw, node.Addr)
	} else {
		r.queue.PushKeyed(raw, slot)
	}
	return nil
}

// AppendCommandToNode records an explicit target address (spec.md §4.H).
func (r *SyncRouter) AppendCommandToNode(addr string, raw []byte) error {
	node := r.cache.NodeByAddr(addr)
	if node == nil {
		return newError(CodeOther, "node %s not known", addr)
	}
	c, err := r.registry.EnsureSync(node.Handle())
	if err != nil {
		return newError(CodeIO, "connect to %s: %v", addr, err)
	}
	if err := c.SendRaw(raw); err != nil {
		return newError(CodeIO, "send: %v", err)
	}
	r.queue.PushToNode(raw, addr)
	return nil
}

// GetReply dequeues the next pipelined Command and reads its reply from
// the appropriate transport (spec.md §4.H).
func (r *SyncRouter) GetReply() (*respconn.Reply, error) {
	if r.queue.Len() == 0 {
		return nil, newError(CodeOther, "no pipelined command pending")
	}
	_, slot, addr, hasKey := r.queue.Pop()

	var node *topology.Node
	if hasKey {
		node = r.cache.NodeForSlot(slot)
	} else {
		node = r.cache.NodeByAddr(addr)
	}
	if node == nil {
		return nil, newError(CodeOther, "target node for pipelined command has disappeared")
	}
	c, err := r.registry.EnsureSync(node.Handle())
	if err != nil {
		return nil, newError(CodeIO, "connect to %s: %v", node.Addr, err)
	}
	return c.GetReply()
}

// Reset discards any undrained replies, closes every connection, and
// applies a pending refresh (spec.md §4.H).
func (r *SyncRouter) Reset() {
	for r.queue.Len() > 0 {
		_, _, _, _ = r.queue.Pop()
	}
	r.registry.CloseAll()
	r.refresher.RefreshAny()
}

func splitAddrPort(addr string) (string, int, error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx == -1 {
		return "", 0, fmt.Errorf("router: bad address %q", addr)
	}
	port, err := strconv.Atoi(addr[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("router: bad port in %q: %w", addr, err)
	}
	return addr[:idx], port, nil
}

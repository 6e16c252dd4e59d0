package cluster

import (
	"fmt"

	"vkcluster/internal/conn"
	"vkcluster/internal/logger"
	"vkcluster/internal/respconn"
	"vkcluster/internal/router"
	"vkcluster/internal/topology"
)

// AsyncClient is the non-blocking cluster client (spec.md §4.G, §4.J).
type AsyncClient struct {
	opts     Options
	cache    *topology.Cache
	registry *conn.Registry
	router   *router.AsyncRouter
}

// NewAsync builds an AsyncClient. If opts.BlockingInitialUpdate is set,
// the first topology fetch runs synchronously before returning, exactly
// as it would for a blocking Client; otherwise a fire-and-forget async
// refresh is kicked off and the client is returned at once (spec.md §4.J).
// Commands submitted before a topology is installed are not queued: they
// fail with a "slot not served by any node" error.
func NewAsync(opts Options) (*AsyncClient, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	ac := &AsyncClient{opts: opts}
	ac.registry = conn.NewRegistry(opts.connOptions)
	ac.registry.SetCallbacks(opts.ConnectCallback, opts.AsyncConnectCallback, opts.AsyncDisconnectCallback)
	ac.cache = topology.NewCache(ac.registry, ac.handleCacheEvent)
	ac.router = router.NewAsyncRouter(ac.cache, ac.registry, ac.refreshFromTrigger, opts.MaxRetry, opts.Dispatcher)

	for _, addr := range opts.InitialNodes {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("cluster: bad seed address %q: %w", addr, err)
		}
		ac.cache.AddNode(addr, host, port)
	}

	if opts.BlockingInitialUpdate {
		if err := ac.refreshSync(""); err != nil {
			return nil, fmt.Errorf("cluster: initial topology refresh: %w", err)
		}
	} else {
		go ac.refreshFromTrigger("")
	}
	return ac, nil
}

func (ac *AsyncClient) handleCacheEvent(e topology.Event) {
	switch e {
	case topology.EventSlotmapUpdated:
		ac.opts.fireEvent(EventSlotmapUpdated)
	case topology.EventReady:
		ac.opts.fireEvent(EventReady)
	}
}

// Submit dispatches one command asynchronously (spec.md §4.G).
func (ac *AsyncClient) Submit(cmd string, cb router.ReplyFunc, args ...interface{}) error {
	return ac.router.Submit(respconn.FormatCommand(cmd, args...), cb)
}

// SubmitToNode dispatches a command to a specific node, bypassing slot
// routing and redirect retries (spec.md §4.G step 5's NO_RETRY class).
func (ac *AsyncClient) SubmitToNode(addr, cmd string, cb router.ReplyFunc, args ...interface{}) error {
	return ac.router.SubmitToNode(addr, respconn.FormatCommand(cmd, args...), cb)
}

// refreshFromTrigger is the router.RefreshTrigger: it runs a topology
// refresh and logs failures rather than returning them, since the
// trigger's caller (the router's throttle) has no error path to report
// into.
func (ac *AsyncClient) refreshFromTrigger(addr string) {
	if err := ac.refreshSync(addr); err != nil {
		logger.Warn("vkcluster: async topology refresh failed: %v", err)
	}
}

// refreshSync performs the actual CLUSTER SLOTS/NODES round trip. It uses
// a synchronous connection even from the async client, matching
// spec.md §4.C's refresh command being issued "as a normal blocking call"
// regardless of client flavor.
func (ac *AsyncClient) refreshSync(addr string) error {
	if addr == "" {
		it := topology.NewIterator(ac.cache)
		var lastErr error
		for {
			n := it.Next()
			if n == nil {
				break
			}
			if err := ac.refreshSync(n.Addr); err == nil {
				return nil
			} else {
				lastErr = err
			}
		}
		if lastErr == nil {
			lastErr = fmt.Errorf("cluster: no nodes to refresh from")
		}
		return lastErr
	}

	node := ac.cache.NodeByAddr(addr)
	if node == nil {
		return fmt.Errorf("cluster: unknown refresh node %s", addr)
	}
	sc, err := ac.registry.EnsureSync(node.Handle())
	if err != nil {
		return err
	}
	ns, err := fetchTopology(sc, addr, ac.opts.UseClusterNodes, ac.opts.UseReplicas)
	if err != nil {
		return err
	}
	return ac.cache.Swap(ns)
}

// Topology exposes a snapshot of current primaries for tooling.
func (ac *AsyncClient) Topology() []*topology.Node {
	return ac.cache.Snapshot()
}

// Disconnect sets the DISCONNECTING flag (spec.md §5): new submissions
// are rejected, replies that still arrive are handed to their callbacks
// verbatim, and no further refresh is attempted, then every node's async
// connection is closed; callbacks still waiting at that point run with a
// nil reply.
func (ac *AsyncClient) Disconnect() {
	ac.router.SetDisconnecting()
	ac.opts.fireEvent(EventFreeContext)
	ac.registry.CloseAll()
	logger.Info("vkcluster: async client disconnected")
}

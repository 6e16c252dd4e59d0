// Package cluster is the public facade (spec.md §4.J): Options,
// lifecycle (New/NewAsync/Close), and the event callback plumbing tying
// internal/topology, internal/conn, and internal/router together. It is
// grounded on the teacher's ClusterClient (NewClusterClient/Connect/Do/
// Close), generalized from a single flat slot map onto the cache/router
// split above.
package cluster

import (
	"fmt"
	"net"
	"strings"
	"time"

	"vkcluster/internal/conn"
	"vkcluster/internal/logger"
	"vkcluster/internal/respconn"
	"vkcluster/internal/router"
	"vkcluster/internal/topology"
)

// Error is the taxonomy spec.md §7 surfaces at the client boundary. It is
// an alias for router.Error: the router is where codes are actually
// assigned (transport failures, protocol errors, exhausted retries), and
// cluster callers should be able to type-assert without importing
// internal/router directly.
type Error = router.Error

// Code is an alias for router.Code.
type Code = router.Code

// Error code constants, re-exported from internal/router for the same
// reason.
const (
	CodeIO             = router.CodeIO
	CodeEOF            = router.CodeEOF
	CodeProtocol       = router.CodeProtocol
	CodeOOM            = router.CodeOOM
	CodeTimeout        = router.CodeTimeout
	CodeOther          = router.CodeOther
	CodeTooManyRetries = router.CodeTooManyRetries
)

// Event is one of the three lifecycle notifications spec.md §6 defines.
type Event int

const (
	EventSlotmapUpdated Event = iota
	EventReady
	EventFreeContext
)

func (e Event) String() string {
	switch e {
	case EventSlotmapUpdated:
		return "SLOTMAP_UPDATED"
	case EventReady:
		return "READY"
	case EventFreeContext:
		return "FREE_CONTEXT"
	default:
		return "UNKNOWN"
	}
}

// Options configures a Client or AsyncClient (spec.md §4.J).
type Options struct {
	InitialNodes          []string
	UseClusterNodes       bool
	UseReplicas           bool
	BlockingInitialUpdate bool
	ConnectTimeout        time.Duration
	CommandTimeout        time.Duration
	Username              string
	Password              string
	SelectDB              int
	MaxRetry              int

	TLSHook    func(net.Conn) (net.Conn, error)
	Dispatcher router.Dispatcher

	EventCallback func(Event, any)

	// ConnectCallback fires once per dialed sync connection, with the
	// dial error if any (spec.md §4.J's connect_callback).
	ConnectCallback func(addr string, err error)
	// AsyncConnectCallback/AsyncDisconnectCallback fire around an async
	// connection's lifecycle (spec.md §4.J's async connect_callback/
	// disconnect_callback).
	AsyncConnectCallback    func(addr string)
	AsyncDisconnectCallback func(addr string, err error)
}

func (o Options) connOptions(addr string) respconn.Options {
	return respconn.Options{
		Addr:           addr,
		Username:       o.Username,
		Password:       o.Password,
		SelectDB:       o.SelectDB,
		ConnectTimeout: o.ConnectTimeout,
		CommandTimeout: o.CommandTimeout,
		TLSHook:        o.TLSHook,
	}
}

func (o Options) fireEvent(ev Event) {
	if o.EventCallback != nil {
		o.EventCallback(ev, nil)
	}
}

// validate checks options per spec.md §4.J's "unknown flag bits -> error"
// contract, generalized to Go's named-field Options (there are no bit
// flags to be unknown, but the seed list and retry count still need
// validating before connectWithOptions proceeds).
func (o Options) validate() error {
	if len(o.InitialNodes) == 0 {
		return fmt.Errorf("cluster: initial_nodes must not be empty")
	}
	if o.MaxRetry < 0 {
		return fmt.Errorf("cluster: max_retry must be >= 0")
	}
	return nil
}

// Client is the blocking cluster client.
type Client struct {
	opts     Options
	cache    *topology.Cache
	registry *conn.Registry
	router   *router.SyncRouter
}

// New builds a blocking Client, seeds the node map from the initial
// addresses, and runs the first synchronous topology refresh
// (spec.md §4.J's connectWithOptions).
func New(opts Options) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	c := &Client{opts: opts}
	c.registry = conn.NewRegistry(opts.connOptions)
	c.registry.SetCallbacks(opts.ConnectCallback, opts.AsyncConnectCallback, opts.AsyncDisconnectCallback)
	c.cache = topology.NewCache(c.registry, c.handleCacheEvent)
	c.router = router.NewSyncRouter(c.cache, c.registry, c, opts.MaxRetry)

	for _, addr := range opts.InitialNodes {
		host, port, err := splitHostPort(addr)
		if err != nil {
			return nil, fmt.Errorf("cluster: bad seed address %q: %w", addr, err)
		}
		c.cache.AddNode(addr, host, port)
	}

	if err := c.RefreshAny(); err != nil {
		return nil, fmt.Errorf("cluster: initial topology refresh: %w", err)
	}
	logger.Info("vkcluster: connected, seeds=%v", opts.InitialNodes)
	return c, nil
}

func (c *Client) handleCacheEvent(e topology.Event) {
	switch e {
	case topology.EventSlotmapUpdated:
		c.opts.fireEvent(EventSlotmapUpdated)
	case topology.EventReady:
		c.opts.fireEvent(EventReady)
	}
}

// Do executes one command through the blocking router (spec.md §4.F).
func (c *Client) Do(cmd string, args ...interface{}) (*respconn.Reply, error) {
	return c.router.Do(respconn.FormatCommand(cmd, args...))
}

// AppendCommand/AppendCommandToNode/GetReply/ResetPipeline expose the
// pipelining API of spec.md §4.H.
func (c *Client) AppendCommand(cmd string, args ...interface{}) error {
	return c.router.AppendCommand(respconn.FormatCommand(cmd, args...))
}

func (c *Client) AppendCommandToNode(addr, cmd string, args ...interface{}) error {
	return c.router.AppendCommandToNode(addr, respconn.FormatCommand(cmd, args...))
}

func (c *Client) GetReply() (*respconn.Reply, error) {
	return c.router.GetReply()
}

func (c *Client) ResetPipeline() {
	c.router.Reset()
}

// Topology exposes a snapshot of the current primaries for tooling
// (vkclusterctl's "topology" subcommand).
func (c *Client) Topology() []*topology.Node {
	return c.cache.Snapshot()
}

// RefreshFrom implements router.Refresher: fetch a fresh topology from a
// specific node and install it (spec.md §4.C, §4.D).
func (c *Client) RefreshFrom(addr string) error {
	node := c.cache.NodeByAddr(addr)
	if node == nil {
		return fmt.Errorf("cluster: unknown refresh node %s", addr)
	}
	sc, err := c.registry.EnsureSync(node.Handle())
	if err != nil {
		return err
	}
	ns, err := fetchTopology(sc, addr, c.opts.UseClusterNodes, c.opts.UseReplicas)
	if err != nil {
		return err
	}
	return c.cache.Swap(ns)
}

// RefreshAny implements router.Refresher: try every known node in turn
// until one answers (spec.md §4.I's node iterator put to exactly this
// use by the original).
func (c *Client) RefreshAny() error {
	it := topology.NewIterator(c.cache)
	var lastErr error
	for {
		n := it.Next()
		if n == nil {
			break
		}
		if err := c.RefreshFrom(n.Addr); err == nil {
			return nil
		} else {
			logger.Warn("vkcluster: topology refresh via %s failed: %v", n.Addr, err)
			lastErr = err
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("cluster: no nodes to refresh from")
	}
	return lastErr
}

// ProbeCommand implements router.Refresher: the two-word topology command
// the sync router piggybacks on an in-flight connection, driven by the
// same UseClusterNodes flag that governs RefreshFrom/RefreshAny.
func (c *Client) ProbeCommand() (string, string) {
	if c.opts.UseClusterNodes {
		return "CLUSTER", "NODES"
	}
	return "CLUSTER", "SLOTS"
}

// Close tears down the client (spec.md §4.J teardown sequence): fire
// FREE_CONTEXT, then release every connection.
func (c *Client) Close() error {
	c.opts.fireEvent(EventFreeContext)
	c.registry.CloseAll()
	logger.Info("vkcluster: client closed")
	return nil
}

func fetchTopology(c *respconn.Conn, originAddr string, useClusterNodes, trackReplicas bool) (*topology.NodeSet, error) {
	if useClusterNodes {
		reply, err := c.Do("CLUSTER", "NODES")
		if err != nil {
			return nil, err
		}
		if reply.IsError() {
			return nil, fmt.Errorf("cluster: CLUSTER NODES rejected: %s", reply.Str)
		}
		return topology.ParseClusterNodes(reply.Str, originAddr, trackReplicas)
	}
	reply, err := c.Do("CLUSTER", "SLOTS")
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, fmt.Errorf("cluster: CLUSTER SLOTS rejected: %s", reply.Str)
	}
	return topology.ParseClusterSlots(reply, originAddr, trackReplicas)
}

func splitHostPort(addr string) (string, int, error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx == -1 {
		return "", 0, fmt.Errorf("missing port")
	}
	host := addr[:idx]
	var port int
	if _, err := fmt.Sscanf(addr[idx+1:], "%d", &port); err != nil {
		return "", 0, err
	}
	return host, port, nil
}

// Package conn is the connection registry (spec.md §4.E): one lazy sync
// connection and one lazy async connection per known node address, dialed,
// authenticated, and SELECTed on first use. It owns connections by a stable
// integer Handle rather than letting callers hold raw pointers into it, so
// a node can be torn down without leaving a dangling back-pointer (the
// "cyclic ownership" redesign note in spec.md §9).
package conn

import (
	"fmt"
	"sync"

	"vkcluster/internal/respconn"
)

// Handle is a stable reference to a registry slot. The zero Handle never
// refers to a live slot.
type Handle uint64

// Registry holds per-address connection slots.
type Registry struct {
	mu      sync.Mutex
	next    Handle
	slots   map[Handle]*slot
	addrs   map[string]Handle
	newOpts func(addr string) respconn.Options

	onConnect         func(addr string, err error)
	onAsyncConnect    func(addr string)
	onAsyncDisconnect func(addr string, err error)
}

type slot struct {
	addr  string
	sync  *respconn.Conn
	async *respconn.AsyncConn
}

// NewRegistry builds a registry that dials with the options newOpts(addr)
// produces for each node address (so credentials/timeouts/TLS are shared
// but the address varies).
func NewRegistry(newOpts func(addr string) respconn.Options) *Registry {
	return &Registry{
		slots:   make(map[Handle]*slot),
		addrs:   make(map[string]Handle),
		newOpts: newOpts,
	}
}

// SetCallbacks installs the user-facing connect/disconnect hooks
// (spec.md §4.J's connect_callback plus the async connect_callback/
// disconnect_callback) fired by EnsureSync/EnsureAsync around dial and
// teardown. Any of the three may be nil.
func (r *Registry) SetCallbacks(onConnect func(addr string, err error), onAsyncConnect func(addr string), onAsyncDisconnect func(addr string, err error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = onConnect
	r.onAsyncConnect = onAsyncConnect
	r.onAsyncDisconnect = onAsyncDisconnect
}

// Handle returns the stable handle for addr, creating an empty slot if one
// doesn't exist yet. No connection is dialed here.
func (r *Registry) Handle(addr string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.handleLocked(addr)
}

func (r *Registry) handleLocked(addr string) Handle {
	if h, ok := r.addrs[addr]; ok {
		return h
	}
	r.next++
	h := r.next
	r.slots[h] = &slot{addr: addr}
	r.addrs[addr] = h
	return h
}

// EnsureSync returns a healthy sync connection for handle, dialing (or
// reconnecting a broken one) if necessary.
func (r *Registry) EnsureSync(h Handle) (*respconn.Conn, error) {
	r.mu.Lock()
	s, ok := r.slots[h]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("conn: unknown handle %d", h)
	}
	addr := s.addr
	r.mu.Unlock()

	r.mu.Lock()
	s, ok = r.slots[h]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("conn: unknown handle %d", h)
	}
	if s.sync != nil && !s.sync.Closed() {
		c := s.sync
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	c, err := respconn.Connect(r.newOpts(addr))

	r.mu.Lock()
	onConnect := r.onConnect
	r.mu.Unlock()
	if onConnect != nil {
		onConnect(addr, err)
	}
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok = r.slots[h]
	if !ok {
		c.Close()
		return nil, fmt.Errorf("conn: handle %d released during dial", h)
	}
	s.sync = c
	return c, nil
}

// EnsureAsync is the async counterpart of EnsureSync.
func (r *Registry) EnsureAsync(h Handle) (*respconn.AsyncConn, error) {
	r.mu.Lock()
	s, ok := r.slots[h]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("conn: unknown handle %d", h)
	}
	if s.async != nil && !s.async.Closed() {
		c := s.async
		r.mu.Unlock()
		return c, nil
	}
	addr := s.addr
	r.mu.Unlock()

	c, err := respconn.ConnectAsync(r.newOpts(addr))
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	onAsyncConnect, onAsyncDisconnect := r.onAsyncConnect, r.onAsyncDisconnect
	r.mu.Unlock()

	c.SetConnectCallback(func(error) {
		if onAsyncConnect != nil {
			onAsyncConnect(addr)
		}
	})
	c.SetDisconnectCallback(func(derr error) {
		r.clearAsync(h)
		if onAsyncDisconnect != nil {
			onAsyncDisconnect(addr, derr)
		}
	})

	r.mu.Lock()
	s, ok = r.slots[h]
	if !ok {
		r.mu.Unlock()
		c.Close()
		return nil, fmt.Errorf("conn: handle %d released during dial", h)
	}
	s.async = c
	r.mu.Unlock()

	c.FireConnected()
	return c, nil
}

func (r *Registry) clearAsync(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.slots[h]; ok {
		s.async = nil
	}
}

// Status reports whether handle currently has a live (non-closed)
// sync/async connection, without dialing one. Used by the async router's
// refresh-node selection (spec.md §4.G) to bias toward already-connected
// nodes.
func (r *Registry) Status(h Handle) (hasSync, hasAsync bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slots[h]
	if !ok {
		return false, false
	}
	return s.sync != nil && !s.sync.Closed(), s.async != nil && !s.async.Closed()
}

// Release closes and forgets the connections for handle, e.g. when a node
// disappears from the topology.
func (r *Registry) Release(h Handle) {
	r.mu.Lock()
	s, ok := r.slots[h]
	if ok {
		delete(r.slots, h)
		delete(r.addrs, s.addr)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	if s.sync != nil {
		s.sync.Close()
	}
	if s.async != nil {
		s.async.Close()
	}
}

// Transplant moves the live connections from src to dst, used during a
// topology swap when the same address reappears under a freshly parsed
// Node (spec.md §4.D step 4). It does not touch the topology cache itself.
func (r *Registry) Transplant(oldAddr, newAddr string) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	oldHandle, ok := r.addrs[oldAddr]
	if !ok {
		return r.handleLocked(newAddr)
	}
	if oldAddr == newAddr {
		return oldHandle
	}
	s := r.slots[oldHandle]
	delete(r.addrs, oldAddr)
	s.addr = newAddr
	r.addrs[newAddr] = oldHandle
	return oldHandle
}

// CloseAll tears down every connection in the registry.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	slots := make([]*slot, 0, len(r.slots))
	for _, s := range r.slots {
		slots = append(slots, s)
	}
	r.slots = make(map[Handle]*slot)
	r.addrs = make(map[string]Handle)
	r.mu.Unlock()

	for _, s := range slots {
		if s.sync != nil {
			s.sync.Close()
		}
		if s.async != nil {
			s.async.Close()
		}
	}
}

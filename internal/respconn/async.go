package respconn

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"
)

// ReplyCallback is the trampoline spec.md §6 requires: invoked once per
// reply, in the order its command was sent on this connection.
type ReplyCallback func(*Reply, error)

// AsyncConn is a non-blocking connection: writes return immediately, and
// replies are delivered via callback from a dedicated read-loop goroutine,
// standing in for the host event loop's read-readiness callback.
type AsyncConn struct {
	opts Options

	mu       sync.Mutex
	conn     net.Conn
	reader   *bufio.Reader
	pending  []ReplyCallback
	closed   bool
	closeErr error

	onConnect    func(error)
	onDisconnect func(error)
}

// ConnectAsync dials and authenticates like Connect, then starts the
// read-loop goroutine that drains replies for outstanding sends.
func ConnectAsync(opts Options) (*AsyncConn, error) {
	sync, err := Connect(opts)
	if err != nil {
		return nil, err
	}
	ac := &AsyncConn{
		opts:   opts,
		conn:   sync.conn,
		reader: sync.reader,
	}
	go ac.readLoop()
	return ac, nil
}

// SetConnectCallback installs the callback fired once, after the async
// connection finishes its initial handshake (spec.md §4.E step 5).
func (a *AsyncConn) SetConnectCallback(fn func(error)) { a.onConnect = fn }

// SetDisconnectCallback installs the callback fired when the connection is
// torn down, whether by error or explicit Close.
func (a *AsyncConn) SetDisconnectCallback(fn func(error)) { a.onDisconnect = fn }

// FireConnected should be called by the owner once wiring (event-loop
// attach, Node back-pointer) is complete.
func (a *AsyncConn) FireConnected() {
	if a.onConnect != nil {
		a.onConnect(nil)
	}
}

// Append sends raw, already-serialized command bytes and registers cb to
// receive the reply when it arrives, preserving per-connection FIFO order.
func (a *AsyncConn) Append(raw []byte, cb ReplyCallback) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return errors.New("respconn: connection closed")
	}
	a.pending = append(a.pending, cb)
	conn := a.conn
	a.mu.Unlock()

	if _, err := conn.Write(raw); err != nil {
		a.failAll(err)
		return err
	}
	return nil
}

// AppendCommand formats cmd/args and sends it, for internally-generated
// commands such as ASKING and the CLUSTER SLOTS/NODES refresh probe.
func (a *AsyncConn) AppendCommand(cb ReplyCallback, cmd string, args ...interface{}) error {
	return a.Append(formatCommand(cmd, args...), cb)
}

func (a *AsyncConn) readLoop() {
	for {
		reply, err := readReply(a.reader)

		a.mu.Lock()
		if len(a.pending) == 0 {
			a.mu.Unlock()
			if err != nil {
				a.teardown(err)
				return
			}
			continue
		}
		cb := a.pending[0]
		a.pending = a.pending[1:]
		a.mu.Unlock()

		if cb != nil {
			cb(reply, err)
		}
		if err != nil {
			a.teardown(err)
			return
		}
	}
}

func (a *AsyncConn) failAll(err error) {
	a.mu.Lock()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, cb := range pending {
		if cb != nil {
			cb(nil, err)
		}
	}
	a.teardown(err)
}

// teardown closes the socket and runs every callback still waiting on a
// reply with (nil, err), matching spec.md §5's disconnect invariant that
// in-flight callbacks fire with null replies rather than hang forever.
func (a *AsyncConn) teardown(err error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.closeErr = err
	a.conn.Close()
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()

	for _, cb := range pending {
		if cb != nil {
			cb(nil, err)
		}
	}
	if a.onDisconnect != nil {
		a.onDisconnect(err)
	}
}

// Close tears down the connection from the owner's side.
func (a *AsyncConn) Close() error {
	a.teardown(nil)
	return nil
}

// Closed reports whether the connection has been torn down.
func (a *AsyncConn) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Addr returns the node address this connection was dialed against.
func (a *AsyncConn) Addr() string { return a.opts.Addr }

// SetCommandTimeout records d as the connection's command timeout. Append
// and the read loop set no deadline from it, so an async command whose
// reply never arrives is not timed out by this connection.
func (a *AsyncConn) SetCommandTimeout(d time.Duration) {
	a.mu.Lock()
	a.opts.CommandTimeout = d
	a.mu.Unlock()
}

// Package respconn is the single-connection RESP transport spec.md treats
// as an external collaborator (§6): framing, reply decoding, and the
// connect-time AUTH/SELECT/TLS sequence. Cluster routing lives one layer up,
// in internal/router; this package knows nothing about slots or redirects.
package respconn

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"time"
)

// Options configures a single-node connection.
type Options struct {
	Addr           string
	Username       string
	Password       string
	SelectDB       int
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	// TLSHook wraps a freshly dialed TCP connection into a TLS connection.
	// Nil means no TLS.
	TLSHook func(net.Conn) (net.Conn, error)
}

// Conn is a synchronous connection to one Valkey/Redis node.
type Conn struct {
	opts   Options
	conn   net.Conn
	reader *bufio.Reader
	closed bool
}

// Connect dials addr, runs the TLS hook if configured, and authenticates.
func Connect(opts Options) (*Conn, error) {
	if opts.Addr == "" {
		return nil, errors.New("respconn: addr is empty")
	}
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	raw, err := net.DialTimeout("tcp", opts.Addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("respconn: dial %s: %w", opts.Addr, err)
	}
	if opts.TLSHook != nil {
		tlsConn, err := opts.TLSHook(raw)
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("respconn: tls handshake with %s: %w", opts.Addr, err)
		}
		raw = tlsConn
	}

	c := &Conn{
		opts:   opts,
		conn:   raw,
		reader: bufio.NewReaderSize(raw, 16*1024),
	}

	if opts.Password != "" {
		var r *Reply
		var err error
		if opts.Username != "" {
			r, err = c.Do("AUTH", opts.Username, opts.Password)
		} else {
			r, err = c.Do("AUTH", opts.Password)
		}
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("respconn: auth: %w", err)
		}
		if r.IsError() {
			c.Close()
			return nil, fmt.Errorf("respconn: auth rejected: %s", r.Str)
		}
	}
	if opts.SelectDB != 0 {
		r, err := c.Do("SELECT", opts.SelectDB)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("respconn: select: %w", err)
		}
		if r.IsError() {
			c.Close()
			return nil, fmt.Errorf("respconn: select rejected: %s", r.Str)
		}
	}
	return c, nil
}

// Close tears down the connection.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// Closed reports whether Close has been called on this connection.
func (c *Conn) Closed() bool { return c.closed }

// Reconnect closes the current socket (if any) and dials a fresh one with
// the same options, matching spec.md §4.F's "reconnect on error-state".
func (c *Conn) Reconnect() error {
	if c.conn != nil {
		c.conn.Close()
	}
	fresh, err := Connect(c.opts)
	if err != nil {
		return err
	}
	c.conn = fresh.conn
	c.reader = fresh.reader
	c.closed = false
	return nil
}

func (c *Conn) timeout() time.Duration {
	if c.opts.CommandTimeout > 0 {
		return c.opts.CommandTimeout
	}
	return 0
}

// Send writes a formatted command without waiting for a reply, for
// pipelining (spec.md §4.F's appendCommand).
func (c *Conn) Send(cmd string, args ...interface{}) error {
	if c.closed {
		return errors.New("respconn: connection closed")
	}
	if t := c.timeout(); t > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(t))
	}
	_, err := c.conn.Write(formatCommand(cmd, args...))
	return err
}

// SendRaw writes already-serialized bytes, used by the router when it has
// already serialized the command (via FormatCommand).
func (c *Conn) SendRaw(raw []byte) error {
	if c.closed {
		return errors.New("respconn: connection closed")
	}
	if t := c.timeout(); t > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(t))
	}
	_, err := c.conn.Write(raw)
	return err
}

// GetReply reads the next reply off the wire (spec.md §4.F's getReply).
func (c *Conn) GetReply() (*Reply, error) {
	if c.closed {
		return nil, errors.New("respconn: connection closed")
	}
	if t := c.timeout(); t > 0 {
		c.conn.SetReadDeadline(time.Now().Add(t))
	}
	return readReply(c.reader)
}

// Do sends cmd and blocks for its reply -- a convenience wrapper around
// Send+GetReply for non-pipelined calls (CLUSTER SLOTS, AUTH, SELECT, ...).
func (c *Conn) Do(cmd string, args ...interface{}) (*Reply, error) {
	if err := c.Send(cmd, args...); err != nil {
		return nil, err
	}
	return c.GetReply()
}

// Addr returns the node address this connection was dialed against.
func (c *Conn) Addr() string { return c.opts.Addr }

package respconn

import (
	"testing"
	"time"

	"vkcluster/internal/respconn/resptest"
)

func TestConnectAndDo(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Bulk("bar")
	})
	defer srv.Close()

	c, err := Connect(Options{Addr: addr, ConnectTimeout: time.Second, CommandTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	reply, err := c.Do("GET", "foo")
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if reply.Str != "bar" {
		t.Fatalf("expected bar, got %q", reply.Str)
	}
}

func TestConnectRunsAuthAndSelect(t *testing.T) {
	var hits []string
	srv, addr := resptest.New(func(cmd []string) string {
		hits = append(hits, cmd[0])
		return resptest.Simple("OK")
	})
	defer srv.Close()

	c, err := Connect(Options{
		Addr: addr, Username: "default", Password: "secret", SelectDB: 2,
		ConnectTimeout: time.Second, CommandTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if len(hits) != 2 || hits[0] != "AUTH" || hits[1] != "SELECT" {
		t.Fatalf("expected AUTH then SELECT on connect, got %v", hits)
	}
}

func TestConnectRejectsBadAuth(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Err("WRONGPASS invalid username-password pair")
	})
	defer srv.Close()

	_, err := Connect(Options{Addr: addr, Password: "wrong", ConnectTimeout: time.Second})
	if err == nil {
		t.Fatal("expected an error when AUTH is rejected")
	}
}

func TestSendAppendsPipelinedCommands(t *testing.T) {
	var n int
	srv, addr := resptest.New(func(cmd []string) string {
		n++
		return resptest.Bulk(cmd[1])
	})
	defer srv.Close()

	c, err := Connect(Options{Addr: addr, ConnectTimeout: time.Second, CommandTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.Send("GET", "a"); err != nil {
		t.Fatalf("Send a: %v", err)
	}
	if err := c.Send("GET", "b"); err != nil {
		t.Fatalf("Send b: %v", err)
	}
	first, err := c.GetReply()
	if err != nil {
		t.Fatalf("GetReply 1: %v", err)
	}
	second, err := c.GetReply()
	if err != nil {
		t.Fatalf("GetReply 2: %v", err)
	}
	if first.Str != "a" || second.Str != "b" {
		t.Fatalf("replies out of order: %q then %q", first.Str, second.Str)
	}
}

func TestCloseIsIdempotentAndRejectsFurtherUse(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string { return resptest.Simple("OK") })
	defer srv.Close()

	c, err := Connect(Options{Addr: addr, ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if !c.Closed() {
		t.Fatal("expected Closed() to report true")
	}
	if err := c.Send("PING"); err == nil {
		t.Fatal("expected Send on a closed connection to fail")
	}
}

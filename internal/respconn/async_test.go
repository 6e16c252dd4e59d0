package respconn

import (
	"sync"
	"testing"
	"time"

	"vkcluster/internal/respconn/resptest"
)

func TestAsyncConnDeliversRepliesInOrder(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Bulk(cmd[1])
	})
	defer srv.Close()

	ac, err := ConnectAsync(Options{Addr: addr, ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("ConnectAsync: %v", err)
	}
	defer ac.Close()

	var mu sync.Mutex
	var got []string
	var wg sync.WaitGroup
	wg.Add(2)
	record := func(r *Reply, err error) {
		if err != nil {
			t.Errorf("unexpected callback error: %v", err)
		}
		mu.Lock()
		got = append(got, r.Str)
		mu.Unlock()
		wg.Done()
	}

	if err := ac.AppendCommand(record, "GET", "first"); err != nil {
		t.Fatalf("append first: %v", err)
	}
	if err := ac.AppendCommand(record, "GET", "second"); err != nil {
		t.Fatalf("append second: %v", err)
	}
	wg.Wait()

	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("expected in-order replies [first second], got %v", got)
	}
}

func TestAsyncConnAppendAfterCloseFails(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string { return resptest.Simple("OK") })
	defer srv.Close()

	ac, err := ConnectAsync(Options{Addr: addr, ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("ConnectAsync: %v", err)
	}
	if err := ac.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !ac.Closed() {
		t.Fatal("expected Closed() to report true")
	}
	if err := ac.AppendCommand(func(*Reply, error) {}, "PING"); err == nil {
		t.Fatal("expected Append on a closed connection to fail")
	}
}

func TestAsyncConnDisconnectCallbackFiresOnClose(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string { return resptest.Simple("OK") })
	defer srv.Close()

	ac, err := ConnectAsync(Options{Addr: addr, ConnectTimeout: time.Second})
	if err != nil {
		t.Fatalf("ConnectAsync: %v", err)
	}

	done := make(chan error, 1)
	ac.SetDisconnectCallback(func(err error) { done <- err })

	if err := ac.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for disconnect callback")
	}
	if !ac.Closed() {
		t.Fatal("expected the connection to be marked closed")
	}
}

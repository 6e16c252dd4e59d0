package router

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vkcluster/internal/conn"
	"vkcluster/internal/respconn"
	"vkcluster/internal/respconn/resptest"
	"vkcluster/internal/topology"
)

// countingTrigger records how many times the async router asked for a
// refresh and installs a one-node topology owning every slot.
type countingTrigger struct {
	cache *topology.Cache
	addr  string
	calls int32
	done  chan struct{}
}

func (ct *countingTrigger) trigger(addr string) {
	atomic.AddInt32(&ct.calls, 1)
	ct.cache.Swap(oneRangeNodeSet(ct.addr, 0, topology.SlotCount-1))
	if ct.done != nil {
		ct.done <- struct{}{}
	}
}

func newTestAsyncRouter(t *testing.T, addr string, maxRetry int) (*AsyncRouter, *countingTrigger) {
	t.Helper()
	registry := conn.NewRegistry(func(a string) respconn.Options {
		return respconn.Options{Addr: a, ConnectTimeout: time.Second, CommandTimeout: time.Second}
	})
	cache := topology.NewCache(registry, nil)
	ct := &countingTrigger{cache: cache, addr: addr}
	if err := cache.Swap(oneRangeNodeSet(addr, 0, topology.SlotCount-1)); err != nil {
		t.Fatalf("seed swap: %v", err)
	}
	return NewAsyncRouter(cache, registry, ct.trigger, maxRetry, nil), ct
}

func waitForCallback(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for callback")
	}
}

func TestAsyncRouterMovedUpdatesTableAndRedispatches(t *testing.T) {
	var moved int32
	var hitsB int32

	srvB, addrB := resptest.New(func(cmd []string) string {
		atomic.AddInt32(&hitsB, 1)
		return resptest.Bulk("bar")
	})
	defer srvB.Close()

	srvA, addrA := resptest.New(func(cmd []string) string {
		if atomic.CompareAndSwapInt32(&moved, 0, 1) {
			return resptest.Err("MOVED 12182 " + addrB)
		}
		return resptest.Bulk("should not be reached")
	})
	defer srvA.Close()

	r, ct := newTestAsyncRouter(t, addrA, 5)
	ct.addr = addrB // the refresh triggered by MOVED reports the post-move owner

	done := make(chan struct{}, 1)
	var reply *respconn.Reply
	var cbErr error
	if err := r.Submit(respconn.FormatCommand("GET", "foo"), func(rep *respconn.Reply, err error) {
		reply, cbErr = rep, err
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForCallback(t, done)
	if cbErr != nil {
		t.Fatalf("unexpected callback error: %v", cbErr)
	}
	if reply.Str != "bar" {
		t.Fatalf("expected bar, got %q", reply.Str)
	}
	if atomic.LoadInt32(&hitsB) != 1 {
		t.Fatalf("expected exactly one request to the new owner, got %d", hitsB)
	}
	if n := r.cache.NodeForSlot(12182); n == nil || n.Addr != addrB {
		t.Fatalf("expected slot 12182 to route to %s after MOVED, got %v", addrB, n)
	}
}

func TestAsyncRouterAskSendsAskingWithoutUpdatingTable(t *testing.T) {
	var askingHits int32
	var getHits int32

	srvB, addrB := resptest.New(func(cmd []string) string {
		if len(cmd) > 0 && cmd[0] == "ASKING" {
			atomic.AddInt32(&askingHits, 1)
			return resptest.Simple("OK")
		}
		atomic.AddInt32(&getHits, 1)
		return resptest.Bulk("bar")
	})
	defer srvB.Close()

	srvA, addrA := resptest.New(func(cmd []string) string {
		return resptest.Err("ASK 12182 " + addrB)
	})
	defer srvA.Close()

	r, _ := newTestAsyncRouter(t, addrA, 5)

	done := make(chan struct{}, 1)
	var reply *respconn.Reply
	var cbErr error
	if err := r.Submit(respconn.FormatCommand("GET", "foo"), func(rep *respconn.Reply, err error) {
		reply, cbErr = rep, err
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForCallback(t, done)
	if cbErr != nil {
		t.Fatalf("unexpected callback error: %v", cbErr)
	}
	if reply.Str != "bar" {
		t.Fatalf("expected bar, got %q", reply.Str)
	}
	if n := r.cache.NodeForSlot(12182); n == nil || n.Addr != addrA {
		t.Fatalf("ASK must not update the slot table: expected slot 12182 still on %s, got %v", addrA, n)
	}
	if atomic.LoadInt32(&askingHits) != 1 {
		t.Fatalf("expected exactly one ASKING, got %d", askingHits)
	}
	if atomic.LoadInt32(&getHits) != 1 {
		t.Fatalf("expected exactly one GET on the ask target, got %d", getHits)
	}
}

func TestAsyncRouterClusterDownExhaustsRetries(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Err("CLUSTERDOWN The cluster is down")
	})
	defer srv.Close()

	r, _ := newTestAsyncRouter(t, addr, 1)

	done := make(chan struct{}, 1)
	var reply *respconn.Reply
	var cbErr error
	if err := r.Submit(respconn.FormatCommand("GET", "foo"), func(rep *respconn.Reply, err error) {
		reply, cbErr = rep, err
		done <- struct{}{}
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	waitForCallback(t, done)
	if cbErr != nil {
		t.Fatalf("unexpected callback error: %v", cbErr)
	}
	if reply == nil || !reply.IsError() {
		t.Fatalf("expected the stale CLUSTERDOWN reply once retries are exhausted, got %+v", reply)
	}
}

// TestAsyncRouterRefreshThrottledToOneInFlight exercises the window
// described by spec.md §8: two MOVED-triggered refreshes issued within the
// throttle window collapse into exactly one call to the refresh trigger.
func TestAsyncRouterRefreshThrottledToOneInFlight(t *testing.T) {
	addrB := "127.0.0.1:1" // never dialed; MOVED target is irrelevant here

	srvA, addrA := resptest.New(func(cmd []string) string {
		return resptest.Err("MOVED 12182 " + addrB)
	})
	defer srvA.Close()

	registry := conn.NewRegistry(func(a string) respconn.Options {
		return respconn.Options{Addr: a, ConnectTimeout: time.Second, CommandTimeout: time.Second}
	})
	cache := topology.NewCache(registry, nil)
	if err := cache.Swap(oneRangeNodeSet(addrA, 0, topology.SlotCount-1)); err != nil {
		t.Fatalf("seed swap: %v", err)
	}

	var calls int32
	block := make(chan struct{})
	started := make(chan struct{}, 2)
	r := NewAsyncRouter(cache, registry, func(addr string) {
		atomic.AddInt32(&calls, 1)
		started <- struct{}{}
		<-block
	}, 0, nil)

	var done sync.WaitGroup
	for i := 0; i < 2; i++ {
		done.Add(1)
		if err := r.Submit(respconn.FormatCommand("GET", "foo"), func(rep *respconn.Reply, err error) {
			done.Done()
		}); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	done.Wait()
	// The trigger runs on the dispatcher's goroutine; wait until it has
	// actually started before counting.
	waitForCallback(t, started)
	close(block)

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected exactly one refresh trigger within the throttle window, got %d", n)
	}
}

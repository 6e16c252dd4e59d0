package router

import (
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"vkcluster/internal/conn"
	"vkcluster/internal/respconn"
	"vkcluster/internal/respconn/resptest"
	"vkcluster/internal/topology"
)

// fakeRefresher stands in for internal/cluster's RefreshFrom/RefreshAny
// during router-only tests, installing a single node owning every slot.
type fakeRefresher struct {
	cache *topology.Cache
	addr  string
	calls int32
}

func (f *fakeRefresher) RefreshFrom(addr string) error { return f.RefreshAny() }

func (f *fakeRefresher) RefreshAny() error {
	atomic.AddInt32(&f.calls, 1)
	ns := oneRangeNodeSet(f.addr, 0, topology.SlotCount-1)
	return f.cache.Swap(ns)
}

func (f *fakeRefresher) ProbeCommand() (string, string) { return "CLUSTER", "SLOTS" }

func oneRangeNodeSet(addr string, start, end int) *topology.NodeSet {
	host, port := splitTestAddr(addr)
	ns := &topology.NodeSet{Nodes: map[string]*topology.Node{}}
	n := &topology.Node{Addr: addr, Host: host, Port: port, Role: topology.RolePrimary}
	n.Slots = []topology.SlotRange{{Start: start, End: end}}
	ns.Nodes[addr] = n
	return ns
}

func splitTestAddr(addr string) (string, int) {
	idx := strings.LastIndexByte(addr, ':')
	host := addr[:idx]
	port := 0
	for _, c := range addr[idx+1:] {
		port = port*10 + int(c-'0')
	}
	return host, port
}

func newTestRouter(t *testing.T, addr string, maxRetry int) (*SyncRouter, *fakeRefresher) {
	t.Helper()
	registry := conn.NewRegistry(func(a string) respconn.Options {
		return respconn.Options{Addr: a, ConnectTimeout: time.Second, CommandTimeout: time.Second}
	})
	cache := topology.NewCache(registry, nil)
	fr := &fakeRefresher{cache: cache, addr: addr}
	if err := fr.RefreshAny(); err != nil {
		t.Fatalf("seed refresh: %v", err)
	}
	return NewSyncRouter(cache, registry, fr, maxRetry), fr
}

func TestSyncRouterTryAgainRetriesWithinCap(t *testing.T) {
	var hits int32
	srv, addr := resptest.New(func(cmd []string) string {
		n := atomic.AddInt32(&hits, 1)
		if n == 1 {
			return resptest.Err("TRYAGAIN")
		}
		return resptest.Bulk("ok")
	})
	defer srv.Close()

	r, _ := newTestRouter(t, addr, 5)
	reply, err := r.Do(respconn.FormatCommand("GET", "foo"))
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if reply.Str != "ok" {
		t.Fatalf("expected ok, got %q", reply.Str)
	}
	if atomic.LoadInt32(&hits) != 2 {
		t.Fatalf("expected exactly one retry (2 hits), got %d", hits)
	}
}

func TestSyncRouterZeroMaxRetryMeansOneAttempt(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Err("TRYAGAIN")
	})
	defer srv.Close()

	r, _ := newTestRouter(t, addr, 0)
	_, err := r.Do(respconn.FormatCommand("GET", "foo"))
	if err == nil {
		t.Fatal("expected too-many-retries error with max_retry=0")
	}
	rerr, ok := err.(*Error)
	if !ok || rerr.Code != CodeTooManyRetries {
		t.Fatalf("expected CodeTooManyRetries, got %v", err)
	}
}

func TestSyncRouterClusterDownExhaustsRetries(t *testing.T) {
	srv, addr := resptest.New(func(cmd []string) string {
		return resptest.Err("CLUSTERDOWN The cluster is down")
	})
	defer srv.Close()

	r, _ := newTestRouter(t, addr, 2)
	_, err := r.Do(respconn.FormatCommand("GET", "foo"))
	if err == nil {
		t.Fatal("expected an error once retries are exhausted")
	}
	rerr, ok := err.(*Error)
	if !ok || rerr.Code != CodeTooManyRetries {
		t.Fatalf("expected CodeTooManyRetries, got %v", err)
	}
}

func TestSyncRouterPipeliningPreservesOrder(t *testing.T) {
	var n int32
	srv, addr := resptest.New(func(cmd []string) string {
		i := atomic.AddInt32(&n, 1)
		return resptest.Bulk("v" + string(rune('0'+i)))
	})
	defer srv.Close()

	r, _ := newTestRouter(t, addr, 5)
	if err := r.AppendCommand(respconn.FormatCommand("GET", "a")); err != nil {
		t.Fatalf("append a: %v", err)
	}
	if err := r.AppendCommand(respconn.FormatCommand("GET", "b")); err != nil {
		t.Fatalf("append b: %v", err)
	}
	first, err := r.GetReply()
	if err != nil {
		t.Fatalf("get reply 1: %v", err)
	}
	second, err := r.GetReply()
	if err != nil {
		t.Fatalf("get reply 2: %v", err)
	}
	if first.Str != "v1" || second.Str != "v2" {
		t.Fatalf("replies out of order: %q then %q", first.Str, second.Str)
	}
}

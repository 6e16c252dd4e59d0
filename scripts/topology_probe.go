package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/redis/go-redis/v9"

	"vkcluster/internal/cluster"
)

var (
	seeds    = flag.String("seeds", "127.0.0.1:7000", "Comma-separated host:port seed list")
	password = flag.String("pwd", "", "Cluster password")
)

// main cross-checks vkcluster's own CLUSTER SLOTS parsing against
// go-redis's ClusterClient view of the same cluster, grounded on the
// teacher's scripts/compare_keys.go (a similarly standalone go-redis-based
// cross-check tool, there diffing key sets rather than slot ownership).
func main() {
	flag.Parse()
	log.SetFlags(log.Ltime | log.Lmicroseconds)

	addrs := strings.Split(*seeds, ",")
	ctx := context.Background()

	log.Printf("Connecting vkcluster client to %v...", addrs)
	vc, err := cluster.New(cluster.Options{
		InitialNodes:          addrs,
		Password:              *password,
		BlockingInitialUpdate: true,
	})
	if err != nil {
		log.Fatalf("vkcluster connect failed: %v", err)
	}
	defer vc.Close()

	log.Printf("Connecting go-redis ClusterClient to %v...", addrs)
	rc := redis.NewClusterClient(&redis.ClusterOptions{Addrs: addrs, Password: *password})
	defer rc.Close()

	slots, err := rc.ClusterSlots(ctx).Result()
	if err != nil {
		log.Fatalf("go-redis ClusterSlots failed: %v", err)
	}

	nodes := vc.Topology()
	mismatches := 0
	for _, s := range slots {
		if len(s.Nodes) == 0 {
			continue
		}
		want := s.Nodes[0].Addr
		for slot := s.Start; slot <= s.End; slot++ {
			got := ""
			for _, n := range nodes {
				if n.OwnsSlot(slot) {
					got = n.Addr
					break
				}
			}
			if got != want {
				mismatches++
				fmt.Printf("slot %d: vkcluster=%s go-redis=%s\n", slot, got, want)
			}
		}
	}

	if mismatches > 0 {
		log.Fatalf("❌ %d slot(s) disagree with go-redis's view", mismatches)
	}
	log.Println("✅ vkcluster topology matches go-redis's view")
}

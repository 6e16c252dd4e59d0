package cli

import (
	"context"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"vkcluster/internal/cluster"
	"vkcluster/internal/config"
	"vkcluster/internal/topology"
)

// probeAgainstGoRedis cross-checks vkcluster's own parsed topology against
// go-redis's ClusterClient view of the same cluster, grounded on the
// teacher's scripts/compare_keys.go (also a go-redis-based cross-check
// tool, there comparing key sets rather than slot ownership).
func probeAgainstGoRedis(cfg *config.Config) (int, error) {
	ctx := context.Background()

	vc, err := cluster.New(cluster.Options{
		InitialNodes:          cfg.InitialNodes,
		UseClusterNodes:       cfg.UseClusterNodes,
		UseReplicas:           cfg.UseReplicas,
		BlockingInitialUpdate: true,
		ConnectTimeout:        cfg.ConnectTimeout.Value(),
		CommandTimeout:        cfg.CommandTimeout.Value(),
		Username:              cfg.Username,
		Password:              cfg.Password,
		MaxRetry:              cfg.MaxRetry,
	})
	if err != nil {
		return 0, fmt.Errorf("connect vkcluster: %w", err)
	}
	defer vc.Close()

	rc := redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    cfg.InitialNodes,
		Username: cfg.Username,
		Password: cfg.Password,
	})
	defer rc.Close()

	slots, err := rc.ClusterSlots(ctx).Result()
	if err != nil {
		return 0, fmt.Errorf("go-redis ClusterSlots: %w", err)
	}

	nodes := vc.Topology()
	mismatches := 0
	for _, s := range slots {
		if len(s.Nodes) == 0 {
			continue
		}
		want := s.Nodes[0].Addr
		for slot := s.Start; slot <= s.End; slot++ {
			got := addrForSlot(nodes, slot)
			if got != want {
				mismatches++
				log.Printf("slot %d: vkcluster=%s go-redis=%s", slot, got, want)
			}
		}
	}
	return mismatches, nil
}

func addrForSlot(nodes []*topology.Node, slot int) string {
	for _, n := range nodes {
		if n.OwnsSlot(slot) {
			return n.Addr
		}
	}
	return ""
}

package topology

// Iterator walks every primary node in a Cache, restarting once from the
// beginning if the topology changes mid-walk (spec.md §4.I). It never
// restarts more than once per Next() sequence, so a cache that churns on
// every refresh still lets a caller make forward progress instead of
// iterating forever.
type Iterator struct {
	cache *Cache

	nodes       []*Node
	idx         int
	baseVersion uint64
	restarted   bool
	stopped     bool
}

// NewIterator snapshots cache's current primaries and the version that
// snapshot was taken at.
func NewIterator(cache *Cache) *Iterator {
	it := &Iterator{cache: cache}
	it.reset()
	return it
}

func (it *Iterator) reset() {
	all := it.cache.Snapshot()
	primaries := make([]*Node, 0, len(all))
	for _, n := range all {
		if n.IsPrimary() {
			primaries = append(primaries, n)
		}
	}
	it.nodes = primaries
	it.idx = 0
	it.baseVersion = it.cache.Version()
}

// Next returns the next primary node, or nil once the walk is exhausted.
// If the cache's route_version has advanced since the snapshot was taken,
// Next restarts the walk from the beginning exactly once. A second version
// change during the restarted walk makes Next return nil for good rather
// than serve a walk against an increasingly stale snapshot (spec.md §4.I).
func (it *Iterator) Next() *Node {
	if it.stopped {
		return nil
	}
	for {
		if it.cache.Version() != it.baseVersion {
			if it.restarted {
				it.stopped = true
				return nil
			}
			it.restarted = true
			it.reset()
			continue
		}
		if it.idx >= len(it.nodes) {
			return nil
		}
		n := it.nodes[it.idx]
		it.idx++
		return n
	}
}

// Reset allows a caller to reuse the iterator for a fresh pass, e.g. after
// exhausting it during one CLUSTER NODES broadcast and wanting to start a
// new broadcast round.
func (it *Iterator) Reset() {
	it.restarted = false
	it.stopped = false
	it.reset()
}

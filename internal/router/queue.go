package router

import "fmt"

// entry is one outstanding pipelined command (spec.md §4.H): it carries
// either a slot (key-routed send) or an explicit node address
// (*ToNode send), never both.
type entry struct {
	raw    []byte
	slot   int  // -1 when addr is set instead
	addr   string
	hasKey bool
}

// Queue is the FIFO of Commands used by the blocking pipelining API
// (appendCommand/appendCommandToNode/getReply in spec.md §4.H). It
// guarantees that for N appends followed by N getReply calls, the k-th
// reply corresponds to the k-th append (spec.md §8).
type Queue struct {
	entries []entry
}

// PushKeyed enqueues a command routed by slot.
func (q *Queue) PushKeyed(raw []byte, slot int) {
	q.entries = append(q.entries, entry{raw: raw, slot: slot, hasKey: true})
}

// PushToNode enqueues a command with an explicit target address.
func (q *Queue) PushToNode(raw []byte, addr string) {
	q.entries = append(q.entries, entry{raw: raw, slot: -1, addr: addr})
}

// Len reports how many commands are still queued.
func (q *Queue) Len() int { return len(q.entries) }

// Pop dequeues the head entry. It panics if the queue is empty; callers
// must check Len first, mirroring the C original's "undefined behavior on
// empty dequeue" contract made explicit.
func (q *Queue) Pop() (raw []byte, slot int, addr string, hasKey bool) {
	if len(q.entries) == 0 {
		panic(fmt.Errorf("router: Pop on empty queue"))
	}
	e := q.entries[0]
	q.entries = q.entries[1:]
	return e.raw, e.slot, e.addr, e.hasKey
}

// Drain discards every remaining entry at once without reading any reply.
// SyncRouter.Reset does not call it: Reset pops entries one by one so it
// can read and discard each outstanding reply.
func (q *Queue) Drain() {
	q.entries = nil
}

package router

import "testing"

func TestQueueFIFOOrderMixesKeyedAndNodeTargeted(t *testing.T) {
	var q Queue
	q.PushKeyed([]byte("GET a"), 100)
	q.PushToNode([]byte("PING"), "127.0.0.1:7000")
	q.PushKeyed([]byte("GET b"), 200)

	if q.Len() != 3 {
		t.Fatalf("expected length 3, got %d", q.Len())
	}

	raw, slot, addr, hasKey := q.Pop()
	if string(raw) != "GET a" || slot != 100 || !hasKey {
		t.Fatalf("unexpected first entry: raw=%q slot=%d addr=%q hasKey=%v", raw, slot, addr, hasKey)
	}
	raw, _, addr, hasKey = q.Pop()
	if string(raw) != "PING" || addr != "127.0.0.1:7000" || hasKey {
		t.Fatalf("unexpected second entry: raw=%q addr=%q hasKey=%v", raw, addr, hasKey)
	}
	raw, slot, _, hasKey = q.Pop()
	if string(raw) != "GET b" || slot != 200 || !hasKey {
		t.Fatalf("unexpected third entry: raw=%q slot=%d hasKey=%v", raw, slot, hasKey)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got length %d", q.Len())
	}
}

func TestQueuePopOnEmptyPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected Pop on an empty queue to panic")
		}
	}()
	var q Queue
	q.Pop()
}

func TestQueueDrain(t *testing.T) {
	var q Queue
	q.PushKeyed([]byte("GET a"), 1)
	q.PushKeyed([]byte("GET b"), 2)
	q.Drain()
	if q.Len() != 0 {
		t.Fatalf("expected Drain to empty the queue, got length %d", q.Len())
	}
}

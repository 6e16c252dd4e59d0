package router

import (
	"testing"

	"vkcluster/internal/respconn"
)

func errReply(msg string) *respconn.Reply {
	return &respconn.Reply{Type: respconn.TypeError, Str: msg}
}

func TestClassifyMoved(t *testing.T) {
	r := Classify(errReply("MOVED 12182 127.0.0.1:7001"), "127.0.0.1:7000")
	if r.Kind != KindMoved || r.Slot != 12182 || r.Addr != "127.0.0.1:7001" {
		t.Fatalf("unexpected redirect: %+v", r)
	}
}

func TestClassifyMovedEmptyHostResolvesToOrigin(t *testing.T) {
	r := Classify(errReply("MOVED 12182 :7001"), "127.0.0.1:7000")
	if r.Kind != KindMoved || r.Addr != "127.0.0.1:7001" {
		t.Fatalf("expected empty host to resolve against origin, got %+v", r)
	}
}

func TestClassifyAsk(t *testing.T) {
	r := Classify(errReply("ASK 12182 127.0.0.1:7001"), "127.0.0.1:7000")
	if r.Kind != KindAsk || r.Slot != 12182 {
		t.Fatalf("unexpected redirect: %+v", r)
	}
}

func TestClassifyTryAgainAndClusterDown(t *testing.T) {
	if Classify(errReply("TRYAGAIN"), "").Kind != KindTryAgain {
		t.Fatal("expected KindTryAgain")
	}
	if Classify(errReply("CLUSTERDOWN Hash slot not served"), "").Kind != KindClusterDown {
		t.Fatal("expected KindClusterDown")
	}
}

func TestClassifyOtherError(t *testing.T) {
	if Classify(errReply("WRONGTYPE Operation against a key"), "").Kind != KindOther {
		t.Fatal("expected KindOther")
	}
}

func TestClassifyNonError(t *testing.T) {
	r := Classify(&respconn.Reply{Type: respconn.TypeBulk, Str: "bar"}, "")
	if r.Kind != KindNone {
		t.Fatalf("expected KindNone for a non-error reply, got %+v", r)
	}
}

func TestClassifyMalformedMovedFallsBackToOther(t *testing.T) {
	if Classify(errReply("MOVED notaslot"), "").Kind != KindOther {
		t.Fatal("expected malformed MOVED to classify as KindOther")
	}
}

func TestErrorMessageIsBounded(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	err := newError(CodeOther, "%s", string(long))
	if len(err.Msg) != maxErrMsgLen {
		t.Fatalf("expected message capped at %d bytes, got %d", maxErrMsgLen, len(err.Msg))
	}
}

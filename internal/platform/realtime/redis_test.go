package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecodeTopic(t *testing.T) {
	ev := NewEvent("queue/q1", "ticket.issued", "ticket", "t1", nil)
	raw, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	topic, ok := decodeTopic(string(raw))
	if !ok || topic != "queue/q1" {
		t.Errorf("expected queue/q1, got %q (ok=%v)", topic, ok)
	}

	for _, bad := range []string{"", "not json", `{"type":"x"}`} {
		if _, ok := decodeTopic(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

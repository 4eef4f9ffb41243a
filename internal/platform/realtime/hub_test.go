package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	client := NewClient("client-1", "u1")
	client.Topics = []string{"queue/123"}

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount("queue/123") != 1 {
		t.Fatalf("expected 1 client on queue/123, got %d", hub.TopicCount("queue/123"))
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := NewClient("client-2", "")
	client.Topics = []string{"queue/456"}

	hub.Register(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if hub.TopicCount("queue/456") != 0 {
		t.Fatalf("expected 0 clients on queue/456, got %d", hub.TopicCount("queue/456"))
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}

	// second unregister is a no-op
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := newTestHub()
	subscriber := NewClient("sub-1", "")
	subscriber.Topics = []string{"queue/123"}
	other := NewClient("other-1", "")
	other.Topics = []string{"consultation/999"}
	hub.Register(subscriber)
	hub.Register(other)

	hub.Broadcast("queue/123", NewEvent("queue/123", "ticket.called", "ticket", "t1", map[string]string{"token": "T-001"}))

	select {
	case msg := <-subscriber.Send:
		var got Event
		if err := json.Unmarshal(msg, &got); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		if got.Type != "ticket.called" || got.ResourceID != "t1" {
			t.Fatalf("unexpected event: %+v", got)
		}
		var data map[string]string
		if err := json.Unmarshal(got.Data, &data); err != nil || data["token"] != "T-001" {
			t.Fatalf("expected token T-001 in data, got %s", got.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive event")
	}

	select {
	case <-other.Send:
		t.Fatal("non-subscriber should not have received event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	hub.Broadcast("queue/none", NewEvent("queue/none", "x", "ticket", "", nil))
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	hub := newTestHub()
	client := &Client{ID: "slow", Topics: []string{"queue/1"}, Send: make(chan []byte, 1)}
	hub.Register(client)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			hub.Broadcast("queue/1", NewEvent("queue/1", "x", "ticket", "", nil))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full client buffer")
	}
	if len(client.Send) != 1 {
		t.Errorf("expected 1 buffered message, got %d", len(client.Send))
	}
}

func TestHub_SubscribeIsIdempotent(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c", "")
	hub.Register(client)

	hub.Subscribe(client, []string{"queue/a", "queue/a", "queue/b"})
	hub.Subscribe(client, []string{"queue/a"})

	if len(client.Topics) != 2 {
		t.Fatalf("expected 2 topics, got %v", client.Topics)
	}
	if hub.TopicCount("queue/a") != 1 {
		t.Errorf("expected 1 subscriber on queue/a, got %d", hub.TopicCount("queue/a"))
	}
}

func TestHub_ProcessMessage(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c", "")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"queue/a", "queue/b"}})
	if hub.TopicCount("queue/a") != 1 || hub.TopicCount("queue/b") != 1 {
		t.Fatal("expected subscriptions to queue/a and queue/b")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"queue/a"}})
	if hub.TopicCount("queue/a") != 0 {
		t.Error("expected queue/a to be unsubscribed")
	}
	if len(client.Topics) != 1 || client.Topics[0] != "queue/b" {
		t.Errorf("expected remaining [queue/b], got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "dance", Topics: []string{"queue/c"}})
	if hub.TopicCount("queue/c") != 0 {
		t.Error("unknown action must be ignored")
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := newTestHub()
	client := NewClient("c", "u9")
	client.Topics = []string{UserTopic("u9")}
	hub.Register(client)

	var pub Publisher = hub
	if err := pub.Publish(context.Background(), NewEvent(UserTopic("u9"), "notification.created", "notification", "n1", nil)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case <-client.Send:
	case <-time.After(time.Second):
		t.Fatal("expected event on user topic")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient("c", "")
			c.Topics = []string{"queue/shared"}
			hub.Register(c)
			hub.Broadcast("queue/shared", NewEvent("queue/shared", "x", "ticket", "", nil))
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestTopicHelpers(t *testing.T) {
	if QueueTopic("q1") != "queue/q1" {
		t.Errorf("unexpected queue topic %s", QueueTopic("q1"))
	}
	if ConsultationTopic("c1") != "consultation/c1" {
		t.Errorf("unexpected consultation topic %s", ConsultationTopic("c1"))
	}
	if UserTopic("u1") != "user/u1" {
		t.Errorf("unexpected user topic %s", UserTopic("u1"))
	}
}

func TestNopPublisher(t *testing.T) {
	if err := (NopPublisher{}).Publish(context.Background(), Event{}); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// identity puts a fixed caller on every request, the way the auth
// middleware does.
func identity(userID string, roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := auth.WithIdentity(c.Request().Context(), userID, roles...)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// participants grants consultation topics from a fixed id -> user table.
func participants(table map[string]string) ConsultationAccess {
	return func(ctx context.Context, id string) (bool, error) {
		return table[id] == auth.UserIDFromContext(ctx), nil
	}
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	return conn
}

func TestHandler_RequiresUpgrade(t *testing.T) {
	hub := newTestHub()
	h := NewHandler(hub, NewTopicAuthorizer(nil, zerolog.Nop()), nil, zerolog.Nop())

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Connect(c); err == nil && rec.Code == http.StatusSwitchingProtocols {
		t.Fatal("expected plain GET to be rejected")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := newTestHub()
	authz := NewTopicAuthorizer(participants(map[string]string{"c1": "nurse-7"}), zerolog.Nop())
	h := NewHandler(hub, authz, []string{"*"}, zerolog.Nop())

	e := echo.New()
	h.RegisterRoutes(e.Group("", identity("nurse-7", auth.RoleNurse)))
	server := httptest.NewServer(e)
	defer server.Close()

	conn := dial(t, server, "?topics=queue/q1")
	defer conn.Close()

	waitFor(t, func() bool { return hub.TopicCount("queue/q1") == 1 && hub.TopicCount(UserTopic("nurse-7")) == 1 })

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"consultation/c1"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	waitFor(t, func() bool { return hub.TopicCount("consultation/c1") == 1 })

	hub.Broadcast("consultation/c1", NewEvent("consultation/c1", "message.posted", "consultation_message", "m1", nil))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.Type != "message.posted" || got.ResourceID != "m1" {
		t.Fatalf("unexpected event: %+v", got)
	}

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}

func TestHandler_RefusesForeignTopics(t *testing.T) {
	hub := newTestHub()
	authz := NewTopicAuthorizer(participants(map[string]string{"mine": "patient-a", "other": "patient-b"}), zerolog.Nop())
	h := NewHandler(hub, authz, []string{"*"}, zerolog.Nop())

	e := echo.New()
	h.RegisterRoutes(e.Group("", identity("patient-a", auth.RolePatient)))
	server := httptest.NewServer(e)
	defer server.Close()

	conn := dial(t, server, "?topics=queue/q1,user/patient-b")
	defer conn.Close()
	waitFor(t, func() bool { return hub.TopicCount(UserTopic("patient-a")) == 1 })

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"user/patient-b", "consultation/other"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{"consultation/mine"}}); err != nil {
		t.Fatalf("failed to send subscribe: %v", err)
	}
	// messages are handled in order, so the first one is done once the
	// second took effect
	waitFor(t, func() bool { return hub.TopicCount("consultation/mine") == 1 })

	for _, topic := range []string{"queue/q1", "user/patient-b", "consultation/other"} {
		if n := hub.TopicCount(topic); n != 0 {
			t.Errorf("expected no subscribers on %s, got %d", topic, n)
		}
	}

	hub.Broadcast("user/patient-b", NewEvent("user/patient-b", "notification.created", "notification", "n-b", nil))
	hub.Broadcast("consultation/other", NewEvent("consultation/other", "message.posted", "consultation_message", "m-other", nil))
	hub.Broadcast("user/patient-a", NewEvent("user/patient-a", "notification.created", "notification", "n-a", nil))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if got.ResourceID != "n-a" {
		t.Fatalf("expected own notification first, got %+v", got)
	}
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://clinic.example"})

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	if !check(req) {
		t.Error("expected request without Origin to pass")
	}
	req.Header.Set("Origin", "https://clinic.example")
	if !check(req) {
		t.Error("expected listed origin to pass")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Error("expected unlisted origin to be rejected")
	}

	req.Header.Set("Origin", "https://anything")
	if !originChecker([]string{"*"})(req) {
		t.Error("expected wildcard to accept any origin")
	}
}

func TestSplitTopics(t *testing.T) {
	got := splitTopics(" queue/a, ,queue/b,")
	if len(got) != 2 || got[0] != "queue/a" || got[1] != "queue/b" {
		t.Errorf("unexpected topics %v", got)
	}
	if splitTopics("") != nil {
		t.Error("expected nil for empty input")
	}
}

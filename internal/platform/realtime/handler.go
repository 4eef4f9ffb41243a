package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Authorizer decides whether the caller on ctx may subscribe to topic.
type Authorizer interface {
	Allow(ctx context.Context, topic string) bool
}

// Handler upgrades GET /ws and pumps hub events to the socket.
type Handler struct {
	hub      *Hub
	authz    Authorizer
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewHandler builds the websocket endpoint. allowedOrigins mirrors the CORS
// list; "*" or an empty list accepts any origin.
func NewHandler(hub *Hub, authz Authorizer, allowedOrigins []string, logger zerolog.Logger) *Handler {
	return &Handler{
		hub:   hub,
		authz: authz,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		log: logger,
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set[origin]
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.Connect)
}

// Connect upgrades the request. The caller is subscribed to its own
// user/<id> topic plus the topics listed in ?topics=a,b it is allowed to see.
func (h *Handler) Connect(c echo.Context) error {
	ctx := subscriberContext(c.Request().Context())
	userID := auth.UserIDFromContext(ctx)
	requested := splitTopics(c.QueryParam("topics"))
	if userID != "" {
		requested = append([]string{UserTopic(userID)}, requested...)
	}
	topics := h.allowed(ctx, requested)

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient(uuid.NewString(), userID)
	client.Topics = topics

	h.hub.Register(client)
	h.log.Debug().Str("client_id", client.ID).Str("user_id", userID).Msg("websocket connected")

	go h.writePump(client, ws)
	go h.readPump(ctx, client, ws)
	return nil
}

// allowed drops the topics the caller may not receive.
func (h *Handler) allowed(ctx context.Context, topics []string) []string {
	out := make([]string, 0, len(topics))
	for _, t := range topics {
		if h.authz != nil && h.authz.Allow(ctx, t) {
			out = append(out, t)
			continue
		}
		h.log.Warn().Str("user_id", auth.UserIDFromContext(ctx)).Str("topic", t).Msg("websocket subscription refused")
	}
	return out
}

func splitTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func (h *Handler) readPump(ctx context.Context, client *Client, ws *websocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("client_id", client.ID).Msg("websocket read")
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		if msg.Action == "subscribe" {
			msg.Topics = h.allowed(ctx, msg.Topics)
		}
		h.hub.ProcessMessage(client, msg)
	}
}

func (h *Handler) writePump(client *Client, ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

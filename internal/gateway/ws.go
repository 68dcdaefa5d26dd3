package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"relaybot/internal/domain"
	"relaybot/internal/handler"
)

// MessageHandler processes one inbound chat event (implemented by handler.Handler).
type MessageHandler interface {
	Handle(ctx context.Context, ev handler.Event)
}

// Message types on the WebSocket protocol.
const (
	TypeChat   = "chat"
	TypeReply  = "reply"
	TypeTyping = "typing"
	TypeError  = "error"
)

// WSMessage is the JSON message protocol for the WebSocket gateway.
// Example: {"type": "chat", "content": "hello", "userId": 42}
//
// UserID is chosen by the client and trusted as given, which is why the server
// refuses to hand messages to a handler without a bearer token. It maps into the
// domain.GatewayIdentity namespace and can never address a Telegram user's
// history or rate limit.
type WSMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	UserID  int64  `json:"userId,omitempty"`
}

// jsonMarshal is used when encoding WSMessage; tests may replace it to force Marshal errors.
var (
	jsonMarshalMu sync.RWMutex
	jsonMarshal   = json.Marshal
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades the request and runs a read loop. Each "chat" message becomes
// a handler.Event keyed by the gateway identity of its userId; replies and typing notices are written back
// on the same connection. Without a handler, messages are echoed.
// Only GET is accepted for the WebSocket handshake.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()
	c := &wsConn{conn: conn}
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var in WSMessage
		if err := json.Unmarshal(raw, &in); err != nil {
			c.write(WSMessage{Type: TypeError, Content: "invalid JSON"})
			continue
		}
		if in.Type != TypeChat {
			c.write(WSMessage{Type: TypeError, Content: "unsupported message type"})
			continue
		}
		if s.chat == nil {
			c.write(WSMessage{Type: TypeReply, Content: "echo: " + in.Content, UserID: in.UserID})
			continue
		}
		if in.UserID == 0 {
			c.write(WSMessage{Type: TypeError, Content: "userId is required"})
			continue
		}
		if in.UserID < 0 || in.UserID > domain.MaxGatewayUserID {
			c.write(WSMessage{Type: TypeError, Content: "userId out of range"})
			continue
		}
		s.chat.Handle(ctx, c.event(in))
	}
}

// wsConn serializes writes to one connection.
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) event(in WSMessage) handler.Event {
	return handler.Event{
		Author: domain.GatewayIdentity(in.UserID),
		Text:   in.Content,
		Reply: func(_ context.Context, text string) error {
			return c.write(WSMessage{Type: TypeReply, Content: text, UserID: in.UserID})
		},
		Typing: func(context.Context) error {
			return c.write(WSMessage{Type: TypeTyping, UserID: in.UserID})
		},
	}
}

func (c *wsConn) write(msg WSMessage) error {
	jsonMarshalMu.RLock()
	marshal := jsonMarshal
	jsonMarshalMu.RUnlock()
	data, err := marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

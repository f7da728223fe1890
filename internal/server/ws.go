package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/grameenconnect/portal/internal/jsonx"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
)

// WSMessage is the envelope for every frame in both directions.
type WSMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleWebSocketChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	go s.handleWSConnection(conn)
}

func (s *Server) handleWSConnection(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	send := make(chan WSMessage, 8)
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-send:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if !ok {
					conn.WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				data, err := jsonx.Marshal(msg)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()
	defer close(done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		var msg WSMessage
		if err := jsonx.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("discarding malformed websocket frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case "chat":
			var req chatRequest
			if err := jsonx.Unmarshal(msg.Payload, &req); err != nil {
				s.wsReply(send, "error", map[string]string{"error": "invalid chat payload"})
				continue
			}

			reply, err := s.gw.Chat(context.Background(), req.History, req.Message, req.SystemInstruction, req.Language)
			if err != nil {
				s.wsReply(send, "chat", map[string]interface{}{
					"response":         UpgradeSentinel,
					"upgrade_required": true,
				})
				continue
			}
			s.wsReply(send, "chat", map[string]string{"response": reply})

		case "ping":
			s.wsReply(send, "pong", nil)

		default:
			s.logger.Debug("unknown websocket message type", zap.String("type", msg.Type))
		}
	}
}

func (s *Server) wsReply(send chan<- WSMessage, msgType string, payload interface{}) {
	msg := WSMessage{Type: msgType}
	if payload != nil {
		data, err := jsonx.Marshal(payload)
		if err != nil {
			return
		}
		msg.Payload = data
	}
	select {
	case send <- msg:
	default:
		s.logger.Warn("websocket send buffer full, dropping frame", zap.String("type", msgType))
	}
}

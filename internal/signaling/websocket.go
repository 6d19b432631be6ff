package signaling

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	// Signaling is same-origin from the served client page in the common
	// case; a standalone streaming server has no cross-origin policy of
	// its own to enforce here (spec.md §1 excludes "HTTP serving of the
	// client HTML, signaling transport" from this system's scope beyond
	// the Signaler capability itself).
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketSignaler implements Signaler over a single gorilla/websocket
// connection, one per streaming session.
type WebSocketSignaler struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Upgrade upgrades an HTTP request to a WebSocket connection and wraps it
// as a Signaler.
func Upgrade(w http.ResponseWriter, r *http.Request) (*WebSocketSignaler, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return &WebSocketSignaler{conn: conn}, nil
}

func (s *WebSocketSignaler) Send(msg Message) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

func (s *WebSocketSignaler) Recv() (Message, error) {
	var msg Message
	if err := s.conn.ReadJSON(&msg); err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return Message{}, ErrClosed
		}
		return Message{}, err
	}
	return msg, nil
}

func (s *WebSocketSignaler) Close() error {
	return s.conn.Close()
}

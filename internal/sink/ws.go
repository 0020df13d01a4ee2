package sink

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// WSSink fans raw lines and tool events out to a live dashboard over a
// websocket connection. Writes are serialized with a mutex since
// *websocket.Conn does not support concurrent writers.
type WSSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSink wraps an already-established websocket connection.
func NewWSSink(conn *websocket.Conn) *WSSink {
	return &WSSink{conn: conn}
}

func (s *WSSink) Emit(e Event) error {
	var payload any
	switch {
	case e.Raw != nil:
		payload = map[string]string{"stream": string(e.Raw.Stream), "text": e.Raw.Text}
	case e.Tool != nil:
		payload = e.Tool
	default:
		return nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, b)
}

// Close closes the underlying websocket connection.
func (s *WSSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

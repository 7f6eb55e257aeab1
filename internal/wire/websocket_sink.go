package wire

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/agalue/silent-copilot/internal/logging"
)

// WebsocketSink delivers wire messages over a gorilla/websocket connection.
// It owns write serialization (gorilla connections aren't safe for
// concurrent writers) but otherwise passes messages through unchanged —
// any audio/video chunk splitting happens before a message reaches Send,
// when the turn FSM runs payloads through SplitBytes below, so a Sink
// never needs to understand message shape.
type WebsocketSink struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// NewWebsocketSink wraps an already-dialed websocket connection.
func NewWebsocketSink(conn *websocket.Conn) *WebsocketSink {
	return &WebsocketSink{conn: conn}
}

// Send writes one JSON text message.
func (s *WebsocketSink) Send(msg json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// Close closes the underlying connection. Subsequent Sends return
// ErrSinkClosed.
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	logging.Default().Debug("closing websocket sink")
	return s.conn.Close()
}

// Chunking ceilings grounded on send_turn_to_gemini in
// original_source/src/audio_seg.rs: a first slice capped smaller than the
// rest so activity-start latency stays low, and no single websocket
// message larger than MaxMessageBytes.
const (
	MaxMessageBytes  = 1_000_000 // 1 MB
	FirstChunkBytes  = 256_000   // 256 kB
)

// SplitBytes divides data into chunks no larger than MaxMessageBytes, with
// the first chunk additionally capped at FirstChunkBytes so the remote
// service starts receiving data as soon as possible after activityStart.
func SplitBytes(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}

	var chunks [][]byte
	first := min(FirstChunkBytes, len(data))
	chunks = append(chunks, data[:first])

	for offset := first; offset < len(data); {
		end := min(offset+MaxMessageBytes, len(data))
		chunks = append(chunks, data[offset:end])
		offset = end
	}
	return chunks
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

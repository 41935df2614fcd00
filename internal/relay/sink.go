package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var ErrStreamingUnsupported = errors.New("streaming not supported")

// EventStreamSink writes commands as server-sent events and flushes after
// every frame so proxies deliver them immediately.
type EventStreamSink struct {
	w       io.Writer
	flusher http.Flusher
}

func NewEventStreamSink(w http.ResponseWriter) (*EventStreamSink, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	return &EventStreamSink{w: w, flusher: flusher}, nil
}

func (s *EventStreamSink) WriteCommand(cmd Command) error {
	frame, err := cmd.EventFrame()
	if err != nil {
		return err
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

const wsWriteWait = 10 * time.Second

// WebSocketSink sends each command as one JSON text message.
type WebSocketSink struct {
	conn *websocket.Conn
}

func NewWebSocketSink(conn *websocket.Conn) *WebSocketSink {
	return &WebSocketSink{conn: conn}
}

func (s *WebSocketSink) WriteCommand(cmd Command) error {
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("encoding %s command: %w", cmd.Type, err)
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("writing message: %w", err)
	}
	return nil
}

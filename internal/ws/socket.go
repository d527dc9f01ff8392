package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/orderpulse/realtime-connector/internal/protocol"
)

const (
	writeTimeout       = 10 * time.Second
	closeMessageMaxLen = 123
)

// Socket adapts a gorilla websocket connection to the transport contract the
// registry expects.  Gorilla connections allow one concurrent writer, so all
// writes are serialized behind writeMutex.
type Socket struct {
	conn            *websocket.Conn
	readIdleTimeout time.Duration

	writeMutex sync.Mutex
	closeOnce  sync.Once
}

func NewSocket(conn *websocket.Conn, maxFrameSize int64, readIdleTimeout time.Duration) *Socket {
	conn.SetReadLimit(maxFrameSize)

	return &Socket{
		conn:            conn,
		readIdleTimeout: readIdleTimeout,
	}
}

// OnPong installs the control frame pong handler.  The handler also refreshes
// the read deadline, otherwise an idle but responsive connection would hit the
// read idle timeout.
func (s *Socket) OnPong(livenessSignal func()) {
	s.conn.SetPongHandler(func(string) error {
		livenessSignal()
		return s.conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout))
	})
}

// ReadFrame blocks for the next complete frame, refreshing the read deadline
// first.  The frame size cap configured on the underlying connection turns an
// oversized frame into a read error.
func (s *Socket) ReadFrame() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readIdleTimeout)); err != nil {
		return nil, err
	}

	_, payload, err := s.conn.ReadMessage()
	return payload, err
}

// ReadFrameWithin is ReadFrame with an explicit deadline, used for the
// authentication handshake window.
func (s *Socket) ReadFrameWithin(timeout time.Duration) ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}

	_, payload, err := s.conn.ReadMessage()
	return payload, err
}

func (s *Socket) SendEnvelope(ctx context.Context, envelope protocol.Envelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}

	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Socket) SendPing(ctx context.Context) error {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
}

// Close sends a close frame with the given code and reason and tears down the
// underlying connection.  Safe to call more than once.
func (s *Socket) Close(code int, reason string) {
	s.closeOnce.Do(func() {
		if len(reason) > closeMessageMaxLen {
			reason = reason[:closeMessageMaxLen]
		}

		message := websocket.FormatCloseMessage(code, reason)

		s.writeMutex.Lock()
		s.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeTimeout)) //nolint:errcheck
		s.writeMutex.Unlock()

		s.conn.Close()
	})
}

package mirror

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

type WebSocketTransportSettings struct {
	WsHandshakeTimeout time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultWebSocketTransportSettings() *WebSocketTransportSettings {
	return &WebSocketTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		WriteTimeout:       5 * time.Second,
		ReadTimeout:        30 * time.Second,
	}
}

// WebSocketTransport dials a websocket url for a `DeliveryChannel`.
type WebSocketTransport struct {
	url      string
	settings *WebSocketTransportSettings
}

func NewWebSocketTransportWithDefaults(url string) *WebSocketTransport {
	return NewWebSocketTransport(url, DefaultWebSocketTransportSettings())
}

func NewWebSocketTransport(url string, settings *WebSocketTransportSettings) *WebSocketTransport {
	return &WebSocketTransport{
		url:      url,
		settings: settings,
	}
}

func (self *WebSocketTransport) Dial(ctx context.Context) (TransportConn, error) {
	dialer := &websocket.Dialer{
		HandshakeTimeout: self.settings.WsHandshakeTimeout,
	}
	ws, _, err := dialer.DialContext(ctx, self.url, nil)
	if err != nil {
		return nil, err
	}
	return NewWebSocketConn(ws, self.settings), nil
}

// NewWebSocketConn wraps an established websocket conn (dialed or
// accepted) as a `TransportConn` with write/read deadlines. Empty binary
// frames are keepalives and never surface from `ReadMessage`.
func NewWebSocketConn(ws *websocket.Conn, settings *WebSocketTransportSettings) TransportConn {
	return &webSocketConn{
		ws:       ws,
		settings: settings,
	}
}

type webSocketConn struct {
	ws       *websocket.Conn
	settings *WebSocketTransportSettings
}

func (self *webSocketConn) WriteMessage(frame []byte) error {
	self.ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
	// note that for websocket a deadline timeout cannot be recovered
	return self.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (self *webSocketConn) ReadMessage() ([]byte, error) {
	for {
		self.ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		messageType, message, err := self.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		switch messageType {
		case websocket.BinaryMessage, websocket.TextMessage:
			if len(message) == 0 {
				// keepalive
				continue
			}
			return message, nil
		default:
		}
	}
}

func (self *webSocketConn) Close() error {
	return self.ws.Close()
}

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/editmirror/mirror/mirror"
	"github.com/editmirror/mirror/protocol"
)

// Server accepts websocket endpoints and feeds them to one router. Each
// accepted connection gets its own endpoint session and its own delivery
// channel, so a slow or stuck viewer never blocks the others.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc

	config   *Config
	router   *Router
	upgrader websocket.Upgrader
}

func NewServer(ctx context.Context, config *Config) *Server {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &Server{
		ctx:    cancelCtx,
		cancel: cancel,
		config: config,
		router: NewRouter(cancelCtx),
		upgrader: websocket.Upgrader{
			// the relay does not authenticate endpoints
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

func (self *Server) Router() *Router {
	return self.router
}

// Handler is the relay's http surface: the websocket endpoint and a
// status endpoint.
func (self *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Get("/ws", self.handleWs)
	mux.Get("/status", self.handleStatus)
	return mux
}

func (self *Server) Run() error {
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", self.config.Port),
		Handler: self.Handler(),
	}
	go func() {
		<-self.ctx.Done()
		server.Shutdown(context.Background())
	}()

	glog.Infof("[relay]listening on :%d\n", self.config.Port)
	err := server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (self *Server) Close() {
	self.cancel()
}

func (self *Server) handleWs(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[relay]upgrade error = %s\n", err)
		return
	}

	connectionId := protocol.NewMessageId()
	conn := mirror.NewWebSocketConn(ws, self.config.wsSettings())
	channel := mirror.NewDeliveryChannel(
		self.ctx,
		newAcceptedConnTransport(conn),
		self.config.channelSettings(),
	)
	session := NewEndpointSession(connectionId, &channelOutbound{
		channel: channel,
	})

	// inbound messages on one connection are processed strictly
	// sequentially on the channel's read loop
	channel.SetReceiveSink(func(message *protocol.Message) {
		self.router.HandleMessage(session, message)
	})
	channel.SetStatusSink(func(status mirror.ConnectionStatus) {
		switch status {
		case mirror.ConnectionStatusDisconnected, mirror.ConnectionStatusFailed:
			glog.Infof("[relay]disconnect %s\n", session)
			self.router.RemoveEndpoint(session)
			channel.Disconnect()
		}
	})

	self.router.AddEndpoint(session)
	glog.Infof("[relay]accept %s\n", connectionId)
	channel.Connect()
}

func (self *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"producers":    self.router.ProducerCount(),
		"viewers":      self.router.ViewerCount(),
		"unclassified": self.router.UnclassifiedCount(),
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// acceptedConnTransport adapts an already-established conn to the
// channel's `Transport`. The conn is handed out exactly once. A later
// dial fails, which makes the channel fail terminally under the relay's
// one-attempt reconnect budget.
type acceptedConnTransport struct {
	stateLock sync.Mutex
	conn      mirror.TransportConn
}

func newAcceptedConnTransport(conn mirror.TransportConn) *acceptedConnTransport {
	return &acceptedConnTransport{
		conn: conn,
	}
}

func (self *acceptedConnTransport) Dial(ctx context.Context) (mirror.TransportConn, error) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.conn == nil {
		return nil, fmt.Errorf("accepted connection already consumed")
	}
	conn := self.conn
	self.conn = nil
	return conn, nil
}

type channelOutbound struct {
	channel *mirror.DeliveryChannel
}

func (self *channelOutbound) Deliver(frame []byte) error {
	return self.channel.Deliver(frame)
}

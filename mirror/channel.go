package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/editmirror/mirror/protocol"
)

type ConnectionStatus string

const (
	ConnectionStatusDisconnected ConnectionStatus = "disconnected"
	ConnectionStatusConnecting   ConnectionStatus = "connecting"
	ConnectionStatusConnected    ConnectionStatus = "connected"
	// terminal. the reconnect budget is exhausted and the channel
	// will not retry again.
	ConnectionStatusFailed ConnectionStatus = "failed"
)

var ErrChannelClosed = errors.New("delivery channel closed")

// Transport dials one logical connection. The channel owns the returned
// conn until it errors or the channel is torn down.
type Transport interface {
	Dial(ctx context.Context) (TransportConn, error)
}

type TransportConn interface {
	// WriteMessage transmits one frame. An empty frame is a keepalive
	// and is skipped by receivers.
	WriteMessage(frame []byte) error
	// ReadMessage blocks for the next frame.
	ReadMessage() ([]byte, error)
	Close() error
}

type StatusFunction func(status ConnectionStatus)
type ReceiveFunction func(message *protocol.Message)

type DeliveryChannelSettings struct {
	QueueCapacity        int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int
	FlushBatchSize       int
	FlushInterval        time.Duration
	// 0 disables transport-level keepalive frames
	PingInterval time.Duration
}

func DefaultDeliveryChannelSettings() *DeliveryChannelSettings {
	return &DeliveryChannelSettings{
		QueueCapacity:        100,
		ReconnectBaseDelay:   1000 * time.Millisecond,
		ReconnectMaxDelay:    5000 * time.Millisecond,
		MaxReconnectAttempts: 10,
		FlushBatchSize:       10,
		FlushInterval:        1000 * time.Millisecond,
		PingInterval:         5 * time.Second,
	}
}

// DeliveryChannel delivers frames over a single logical connection,
// tolerating the connection being absent, slow to establish, or dropped
// mid-stream. While disconnected, accepted frames queue with drop-oldest
// eviction. On connect the backlog flushes fifo, rate limited to
// `FlushBatchSize` per `FlushInterval`. Reconnects back off exponentially
// up to `MaxReconnectAttempts` consecutive failures, then the channel
// reports `ConnectionStatusFailed` once and stops.
//
// `Send` never blocks on network i/o and never returns an error to the
// caller. Every accepted frame is either transmitted or counted as evicted.
type DeliveryChannel struct {
	ctx    context.Context
	cancel context.CancelFunc

	transport Transport
	settings  *DeliveryChannelSettings

	queue    *deliveryQueue
	sendChan chan []byte

	stateLock   sync.Mutex
	status      ConnectionStatus
	conn        TransportConn
	started     bool
	statusSink  StatusFunction
	receiveSink ReceiveFunction
}

func NewDeliveryChannelWithDefaults(ctx context.Context, transport Transport) *DeliveryChannel {
	return NewDeliveryChannel(ctx, transport, DefaultDeliveryChannelSettings())
}

func NewDeliveryChannel(ctx context.Context, transport Transport, settings *DeliveryChannelSettings) *DeliveryChannel {
	cancelCtx, cancel := context.WithCancel(ctx)
	return &DeliveryChannel{
		ctx:       cancelCtx,
		cancel:    cancel,
		transport: transport,
		settings:  settings,
		queue:     newDeliveryQueue(settings.QueueCapacity),
		sendChan:  make(chan []byte),
		status:    ConnectionStatusDisconnected,
	}
}

// SetStatusSink registers the one status sink. Pass nil to unregister.
// Register before `Connect` to observe every transition.
func (self *DeliveryChannel) SetStatusSink(statusSink StatusFunction) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.statusSink = statusSink
}

// SetReceiveSink registers the one inbound message sink. The sink is
// invoked synchronously from the read loop, so inbound processing on one
// connection is strictly sequential.
func (self *DeliveryChannel) SetReceiveSink(receiveSink ReceiveFunction) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.receiveSink = receiveSink
}

// Connect starts the connect loop. Calling it again while the channel is
// connecting or connected is a no-op.
func (self *DeliveryChannel) Connect() {
	self.stateLock.Lock()
	if self.started {
		self.stateLock.Unlock()
		return
	}
	self.started = true
	self.stateLock.Unlock()

	go self.run()
}

// Send encodes and accepts a message for delivery. Never blocks the
// caller on network i/o and never returns an error. A message that cannot
// be encoded is dropped at construction time.
func (self *DeliveryChannel) Send(message *protocol.Message) {
	frame, err := protocol.EncodeMessage(message)
	if err != nil {
		glog.Infof("[dc]drop unencodable message = %s\n", err)
		return
	}
	self.SendFrame(frame)
}

// SendFrame accepts an already-encoded frame for delivery.
func (self *DeliveryChannel) SendFrame(frame []byte) {
	select {
	case self.sendChan <- frame:
	default:
		if evicted := self.queue.add(frame); evicted != nil {
			glog.V(2).Infof("[dc]queue full, evict oldest (%d evictions)\n", self.queue.evictions())
		}
	}
}

// Deliver hands off a frame, reporting an error only when the channel is
// torn down or terminally failed. Used by fan-out callers that need to
// detect dead recipients.
func (self *DeliveryChannel) Deliver(frame []byte) error {
	select {
	case <-self.ctx.Done():
		return ErrChannelClosed
	default:
	}
	if self.Status() == ConnectionStatusFailed {
		return ErrChannelClosed
	}
	self.SendFrame(frame)
	return nil
}

func (self *DeliveryChannel) Status() ConnectionStatus {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.status
}

func (self *DeliveryChannel) QueueDepth() int {
	return self.queue.size()
}

func (self *DeliveryChannel) EvictionCount() int64 {
	return self.queue.evictions()
}

// Disconnect tears the channel down: closes the transport if open,
// discards all queued frames, and stops reconnecting. The discard is
// deliberate. A session being torn down does not flush.
func (self *DeliveryChannel) Disconnect() {
	self.cancel()

	self.stateLock.Lock()
	conn := self.conn
	self.conn = nil
	self.stateLock.Unlock()

	if conn != nil {
		conn.Close()
	}
	if discarded := self.queue.clear(); 0 < discarded {
		glog.V(2).Infof("[dc]disconnect discarded %d queued frames\n", discarded)
	}
	self.setStatus(ConnectionStatusDisconnected)
}

func (self *DeliveryChannel) run() {
	attempt := 0
	for {
		select {
		case <-self.ctx.Done():
			return
		default:
		}

		self.setStatus(ConnectionStatusConnecting)
		conn, err := self.transport.Dial(self.ctx)
		if err != nil {
			glog.Infof("[dc]connect error = %s\n", err)
			delay := self.retryDelay(attempt)
			attempt += 1
			if self.settings.MaxReconnectAttempts <= attempt {
				glog.Infof("[dc]reconnect budget exhausted after %d attempts\n", attempt)
				self.setStatus(ConnectionStatusFailed)
				return
			}
			self.setStatus(ConnectionStatusDisconnected)
			select {
			case <-self.ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}
		attempt = 0

		self.stateLock.Lock()
		self.conn = conn
		self.stateLock.Unlock()
		self.setStatus(ConnectionStatusConnected)

		self.runConnected(conn)

		self.stateLock.Lock()
		self.conn = nil
		self.stateLock.Unlock()
		conn.Close()

		select {
		case <-self.ctx.Done():
			return
		default:
		}
		self.setStatus(ConnectionStatusDisconnected)
	}
}

func (self *DeliveryChannel) retryDelay(attempt int) time.Duration {
	// cap the shift before capping the delay to avoid overflow
	if 16 < attempt {
		attempt = 16
	}
	delay := self.settings.ReconnectBaseDelay << attempt
	if self.settings.ReconnectMaxDelay < delay {
		delay = self.settings.ReconnectMaxDelay
	}
	return delay
}

// runConnected owns the conn until it errors or the channel is torn down.
// Queued frames retained on exit are flushed from the front of the queue
// on the next connect.
func (self *DeliveryChannel) runConnected(conn TransportConn) {
	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	go func() {
		defer handleCancel()

		for {
			frame, err := conn.ReadMessage()
			if err != nil {
				glog.V(2).Infof("[dc]read error = %s\n", err)
				return
			}
			if len(frame) == 0 {
				// keepalive
				continue
			}
			message, err := protocol.DecodeMessage(frame)
			if err != nil {
				// drop the message, keep the connection
				glog.Infof("[dc]drop malformed message = %s\n", err)
				continue
			}
			self.stateLock.Lock()
			receiveSink := self.receiveSink
			self.stateLock.Unlock()
			if receiveSink != nil {
				receiveSink(message)
			}

			select {
			case <-handleCtx.Done():
				return
			default:
			}
		}
	}()

	// first backlog batch goes out immediately, then one batch per interval
	if !self.flushBatch(conn) {
		return
	}

	flushTicker := time.NewTicker(self.settings.FlushInterval)
	defer flushTicker.Stop()

	var pingChan <-chan time.Time
	if 0 < self.settings.PingInterval {
		pingTicker := time.NewTicker(self.settings.PingInterval)
		defer pingTicker.Stop()
		pingChan = pingTicker.C
	}

	for {
		select {
		case <-handleCtx.Done():
			return
		case frame := <-self.sendChan:
			if 0 < self.queue.size() {
				// keep fifo order behind the backlog
				if evicted := self.queue.add(frame); evicted != nil {
					glog.V(2).Infof("[dc]queue full, evict oldest (%d evictions)\n", self.queue.evictions())
				}
			} else if err := self.transmit(conn, frame); err != nil {
				self.queue.addFirst(frame)
				return
			}
		case <-flushTicker.C:
			if !self.flushBatch(conn) {
				return
			}
		case <-pingChan:
			if err := conn.WriteMessage([]byte{}); err != nil {
				return
			}
		}
	}
}

func (self *DeliveryChannel) flushBatch(conn TransportConn) bool {
	for i := 0; i < self.settings.FlushBatchSize; i += 1 {
		frame := self.queue.removeFirst()
		if frame == nil {
			return true
		}
		if err := self.transmit(conn, frame); err != nil {
			// retained for the next connect
			self.queue.addFirst(frame)
			return false
		}
	}
	return true
}

func (self *DeliveryChannel) transmit(conn TransportConn, frame []byte) error {
	if err := conn.WriteMessage(frame); err != nil {
		glog.Infof("[dc]write error = %s\n", err)
		return err
	}
	glog.V(2).Infof("[dc]->%d bytes\n", len(frame))
	return nil
}

func (self *DeliveryChannel) setStatus(status ConnectionStatus) {
	self.stateLock.Lock()
	if self.status == status {
		self.stateLock.Unlock()
		return
	}
	self.status = status
	statusSink := self.statusSink
	self.stateLock.Unlock()

	glog.V(2).Infof("[dc]status %s\n", status)
	if statusSink != nil {
		statusSink(status)
	}
}

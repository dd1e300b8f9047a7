package mirror

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/editmirror/mirror/protocol"
)

// CommandSink consumes control-request text on the producer side,
// typically by injecting a command into the host application.
type CommandSink interface {
	ExecuteCommand(text string) error
}

type ProducerSettings struct {
	HeartbeatInterval time.Duration
	Coalescer         *ChangeCoalescerSettings
	Builder           *SnapshotBuilderSettings
	Channel           *DeliveryChannelSettings
	Ws                *WebSocketTransportSettings
}

func DefaultProducerSettings() *ProducerSettings {
	return &ProducerSettings{
		HeartbeatInterval: 10 * time.Second,
		Coalescer:         DefaultChangeCoalescerSettings(),
		Builder:           DefaultSnapshotBuilderSettings(),
		Channel:           DefaultDeliveryChannelSettings(),
		Ws:                DefaultWebSocketTransportSettings(),
	}
}

// Producer assembles the producer-side pipeline: coalesced change
// triggers become snapshots, compressed per policy, and sent over one
// delivery channel to the relay. Inbound control requests are handed to
// the command sink and answered with a control response.
type Producer struct {
	ctx    context.Context
	cancel context.CancelFunc

	channel   *DeliveryChannel
	coalescer *ChangeCoalescer
	builder   *SnapshotBuilder

	commandSink CommandSink
	settings    *ProducerSettings
}

func NewProducerWithDefaults(
	ctx context.Context,
	transport Transport,
	contentSource ContentSource,
	commandSink CommandSink,
) *Producer {
	return NewProducer(ctx, transport, contentSource, commandSink, DefaultProducerSettings())
}

func NewProducer(
	ctx context.Context,
	transport Transport,
	contentSource ContentSource,
	commandSink CommandSink,
	settings *ProducerSettings,
) *Producer {
	cancelCtx, cancel := context.WithCancel(ctx)
	producer := &Producer{
		ctx:         cancelCtx,
		cancel:      cancel,
		builder:     NewSnapshotBuilder(contentSource, settings.Builder),
		commandSink: commandSink,
		settings:    settings,
	}
	producer.channel = NewDeliveryChannel(cancelCtx, transport, settings.Channel)
	producer.channel.SetReceiveSink(producer.receive)
	producer.coalescer = NewChangeCoalescer(cancelCtx, producer.triggered, settings.Coalescer)

	producer.channel.Connect()
	go producer.runHeartbeat()
	return producer
}

// SetStatusSink exposes the channel's connection-status sink.
func (self *Producer) SetStatusSink(statusSink StatusFunction) {
	self.channel.SetStatusSink(statusSink)
}

// NotifyArtifactActive is called by the watcher collaborator when the
// watched target switches.
func (self *Producer) NotifyArtifactActive(artifactId string) {
	self.coalescer.NotifyArtifactActive(artifactId)
}

// NotifyChanged is called by the watcher collaborator on every edit.
func (self *Producer) NotifyChanged(artifactId string) {
	self.coalescer.NotifyChanged(artifactId)
}

func (self *Producer) QueueDepth() int {
	return self.channel.QueueDepth()
}

func (self *Producer) triggered(artifactId string) {
	snapshot, err := self.builder.Build(artifactId)
	if err != nil {
		// drop the trigger, the pipeline continues on the next one
		glog.Infof("[p]drop trigger %s = %s\n", artifactId, err)
		return
	}
	snapshot = self.builder.ApplyCompressionPolicy(snapshot)
	self.channel.Send(protocol.NewSnapshot(snapshot))
}

func (self *Producer) receive(message *protocol.Message) {
	switch message.Type {
	case protocol.MessageTypeHeartbeatAck:
		glog.V(2).Infof("[p]heartbeat ack %s\n", message.OriginalId)
	case protocol.MessageTypeControlRequest:
		self.handleControlRequest(message)
	default:
		glog.V(2).Infof("[p]ignore %s\n", message.Type)
	}
}

func (self *Producer) handleControlRequest(message *protocol.Message) {
	if self.commandSink == nil {
		self.channel.Send(protocol.NewControlResponse(false, "no command sink", message.Id))
		return
	}
	if err := self.commandSink.ExecuteCommand(message.Text); err != nil {
		self.channel.Send(protocol.NewControlResponse(false, err.Error(), message.Id))
		return
	}
	self.channel.Send(protocol.NewControlResponse(true, "", message.Id))
}

func (self *Producer) runHeartbeat() {
	// the first heartbeat classifies this endpoint on the relay
	self.channel.Send(protocol.NewHeartbeat(protocol.RoleProducer))

	heartbeatTicker := time.NewTicker(self.settings.HeartbeatInterval)
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-self.ctx.Done():
			return
		case <-heartbeatTicker.C:
			self.channel.Send(protocol.NewHeartbeat(protocol.RoleProducer))
		}
	}
}

func (self *Producer) Close() {
	self.coalescer.Close()
	self.channel.Disconnect()
	self.cancel()
}

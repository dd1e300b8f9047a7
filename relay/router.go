package relay

import (
	"context"
	"sync"

	"github.com/golang/glog"
	"golang.org/x/exp/maps"

	"github.com/editmirror/mirror/protocol"
)

// Router classifies connected endpoints by their first heartbeat and
// fans snapshot messages out from any producer to every viewer. A
// delivery failure to one viewer removes that viewer and never blocks
// delivery to the others. All state is owned per instance, so multiple
// independent routers can coexist.
type Router struct {
	ctx context.Context

	stateLock    sync.Mutex
	unclassified map[string]*EndpointSession
	producers    map[string]*EndpointSession
	viewers      map[string]*EndpointSession
	// in-flight control request id -> requesting viewer connection id
	pendingControl map[string]string
}

func NewRouter(ctx context.Context) *Router {
	return &Router{
		ctx:            ctx,
		unclassified:   map[string]*EndpointSession{},
		producers:      map[string]*EndpointSession{},
		viewers:        map[string]*EndpointSession{},
		pendingControl: map[string]string{},
	}
}

func (self *Router) AddEndpoint(session *EndpointSession) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.unclassified[session.ConnectionId()] = session
}

// RemoveEndpoint removes the session from whichever role set it belongs
// to and drops its in-flight control requests. Safe to call repeatedly.
func (self *Router) RemoveEndpoint(session *EndpointSession) {
	session.markClosed()

	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	connectionId := session.ConnectionId()
	delete(self.unclassified, connectionId)
	delete(self.producers, connectionId)
	delete(self.viewers, connectionId)
	for requestId, viewerId := range self.pendingControl {
		if viewerId == connectionId {
			delete(self.pendingControl, requestId)
		}
	}
}

// HandleMessage processes one inbound message from an endpoint. It never
// returns an error and never panics out of a message. A failure with one
// message or one recipient continues with the next.
func (self *Router) HandleMessage(session *EndpointSession, message *protocol.Message) {
	if !session.acceptInboundId(message.Id) {
		glog.Infof("[r]drop duplicate message id %s from %s\n", message.Id, session)
		return
	}

	switch message.Type {
	case protocol.MessageTypeHeartbeat:
		self.handleHeartbeat(session, message)
	case protocol.MessageTypeSnapshot:
		self.handleSnapshot(session, message)
	case protocol.MessageTypeControlRequest:
		self.handleControlRequest(session, message)
	case protocol.MessageTypeControlResponse:
		self.handleControlResponse(session, message)
	default:
		glog.Infof("[r]drop unroutable %s from %s\n", message.Type, session)
	}
}

// handleHeartbeat classifies the endpoint on its first heartbeat and
// always acks to the sender only, never broadcast.
func (self *Router) handleHeartbeat(session *EndpointSession, message *protocol.Message) {
	if session.Role() == EndpointRoleUnclassified {
		if role, ok := endpointRoleFromWire(message.Role); ok {
			if err := session.classifyRole(role); err == nil {
				self.stateLock.Lock()
				connectionId := session.ConnectionId()
				delete(self.unclassified, connectionId)
				switch role {
				case EndpointRoleProducer:
					self.producers[connectionId] = session
				case EndpointRoleViewer:
					self.viewers[connectionId] = session
				}
				self.stateLock.Unlock()
				glog.Infof("[r]classified %s\n", session)
			} else {
				glog.Infof("[r]%s\n", err)
			}
		} else {
			glog.Infof("[r]unknown role %q from %s\n", message.Role, session)
		}
	}

	self.deliver(session, protocol.NewHeartbeatAck(message.Id))
}

// handleSnapshot serializes the message once, then attempts delivery to
// every viewer. A failed handoff removes that viewer and iteration
// continues. The sender's role is not checked. Classification is trusted
// from the point of connection.
func (self *Router) handleSnapshot(session *EndpointSession, message *protocol.Message) {
	if message.Payload == nil {
		glog.Infof("[r]drop snapshot without payload from %s\n", session)
		return
	}
	frame, err := protocol.EncodeMessage(message)
	if err != nil {
		// malformed at construction time. skip the whole broadcast,
		// no viewer is removed.
		glog.Infof("[r]drop unencodable snapshot from %s = %s\n", session, err)
		return
	}

	self.stateLock.Lock()
	viewers := maps.Values(self.viewers)
	self.stateLock.Unlock()

	for _, viewer := range viewers {
		if err := viewer.outbound.Deliver(frame); err != nil {
			glog.Infof("[r]remove %s = %s\n", viewer, err)
			self.RemoveEndpoint(viewer)
		}
	}
	glog.V(2).Infof("[r]broadcast %s to %d viewers\n", message.Payload.ArtifactId, len(viewers))
}

// handleControlRequest forwards a viewer's request to a producer, or
// answers immediately with a failure when no producer is connected. It
// never waits or buffers.
func (self *Router) handleControlRequest(session *EndpointSession, message *protocol.Message) {
	self.stateLock.Lock()
	var producer *EndpointSession
	for _, p := range self.producers {
		producer = p
		break
	}
	self.stateLock.Unlock()

	if producer == nil {
		self.deliver(session, protocol.NewControlResponse(false, "no producer connected", message.Id))
		return
	}

	frame, err := protocol.EncodeMessage(message)
	if err != nil {
		glog.Infof("[r]drop unencodable control request from %s = %s\n", session, err)
		return
	}

	self.stateLock.Lock()
	self.pendingControl[message.Id] = session.ConnectionId()
	self.stateLock.Unlock()

	if err := producer.outbound.Deliver(frame); err != nil {
		glog.Infof("[r]remove %s = %s\n", producer, err)
		self.RemoveEndpoint(producer)
		self.stateLock.Lock()
		delete(self.pendingControl, message.Id)
		self.stateLock.Unlock()
		self.deliver(session, protocol.NewControlResponse(false, "no producer connected", message.Id))
	}
}

// handleControlResponse routes a producer's response back to the viewer
// that issued the matching request.
func (self *Router) handleControlResponse(session *EndpointSession, message *protocol.Message) {
	self.stateLock.Lock()
	viewerId, ok := self.pendingControl[message.OriginalRequestId]
	delete(self.pendingControl, message.OriginalRequestId)
	viewer := self.viewers[viewerId]
	self.stateLock.Unlock()

	if !ok || viewer == nil {
		glog.Infof("[r]drop control response %s, no matching request\n", message.OriginalRequestId)
		return
	}
	self.deliver(viewer, message)
}

// deliver encodes and hands one message to one endpoint, removing the
// endpoint on failure.
func (self *Router) deliver(session *EndpointSession, message *protocol.Message) {
	frame, err := protocol.EncodeMessage(message)
	if err != nil {
		glog.Infof("[r]drop unencodable %s = %s\n", message.Type, err)
		return
	}
	if err := session.outbound.Deliver(frame); err != nil {
		glog.Infof("[r]remove %s = %s\n", session, err)
		self.RemoveEndpoint(session)
	}
}

func (self *Router) ProducerCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.producers)
}

func (self *Router) ViewerCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.viewers)
}

func (self *Router) UnclassifiedCount() int {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return len(self.unclassified)
}

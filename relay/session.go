package relay

import (
	"fmt"
	"sync"

	"github.com/editmirror/mirror/protocol"
)

type EndpointRole string

const (
	EndpointRoleUnclassified EndpointRole = "unclassified"
	EndpointRoleProducer     EndpointRole = "producer"
	EndpointRoleViewer       EndpointRole = "viewer"
)

func endpointRoleFromWire(role string) (EndpointRole, bool) {
	switch role {
	case protocol.RoleProducer:
		return EndpointRoleProducer, true
	case protocol.RoleViewer:
		return EndpointRoleViewer, true
	default:
		return EndpointRoleUnclassified, false
	}
}

// Outbound hands a serialized frame to one endpoint's transmit path.
// An error means the endpoint is dead and must be removed.
type Outbound interface {
	Deliver(frame []byte) error
}

// EndpointSession is one connected remote party. The role transitions
// exactly once, from unclassified, on the endpoint's first heartbeat.
type EndpointSession struct {
	connectionId string
	outbound     Outbound

	stateLock     sync.Mutex
	role          EndpointRole
	open          bool
	lastInboundId string
}

func NewEndpointSession(connectionId string, outbound Outbound) *EndpointSession {
	return &EndpointSession{
		connectionId: connectionId,
		outbound:     outbound,
		role:         EndpointRoleUnclassified,
		open:         true,
	}
}

func (self *EndpointSession) ConnectionId() string {
	return self.connectionId
}

func (self *EndpointSession) Role() EndpointRole {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.role
}

func (self *EndpointSession) IsOpen() bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	return self.open
}

// classifyRole is the one-shot unclassified -> producer|viewer
// transition. A second transition is illegal and leaves the role
// unchanged.
func (self *EndpointSession) classifyRole(role EndpointRole) error {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if self.role != EndpointRoleUnclassified {
		return fmt.Errorf("illegal role transition %s -> %s", self.role, role)
	}
	if role != EndpointRoleProducer && role != EndpointRoleViewer {
		return fmt.Errorf("illegal role transition %s -> %s", self.role, role)
	}
	self.role = role
	return nil
}

func (self *EndpointSession) markClosed() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	self.open = false
}

// acceptInboundId rejects a message id identical to the previous one.
// ids are ulids, ordered per sender, so a repeat is a protocol violation.
func (self *EndpointSession) acceptInboundId(id string) bool {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	if id != "" && id == self.lastInboundId {
		return false
	}
	self.lastInboundId = id
	return true
}

func (self *EndpointSession) String() string {
	return fmt.Sprintf("%s(%s)", self.Role(), self.connectionId)
}

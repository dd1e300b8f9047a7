package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// message type discriminants
const (
	MessageTypeHeartbeat       = "HEARTBEAT"
	MessageTypeHeartbeatAck    = "HEARTBEAT_ACK"
	MessageTypeSnapshot        = "SYNC_SNAPSHOT"
	MessageTypeControlRequest  = "CONTROL_REQUEST"
	MessageTypeControlResponse = "CONTROL_RESPONSE"
)

// endpoint roles declared in heartbeats
const (
	RoleProducer = "producer"
	RoleViewer   = "viewer"
)

var ErrMalformedMessage = fmt.Errorf("malformed message")

// Message is the flat wire frame. `Type` selects the variant;
// variant fields are empty for other variants.
type Message struct {
	Type      string `json:"type"`
	Id        string `json:"id"`
	Timestamp int64  `json:"timestamp"`

	// HEARTBEAT
	Role string `json:"role,omitempty"`
	// HEARTBEAT_ACK
	OriginalId string `json:"originalId,omitempty"`
	// SYNC_SNAPSHOT
	Payload *ContextSnapshot `json:"payload,omitempty"`
	// CONTROL_REQUEST
	Text string `json:"text,omitempty"`
	// CONTROL_RESPONSE
	Success           *bool  `json:"success,omitempty"`
	Error             string `json:"error,omitempty"`
	OriginalRequestId string `json:"originalRequestId,omitempty"`
}

// ContextSnapshot is the payload of a SYNC_SNAPSHOT message.
// BaselineContent empty means no baseline (new artifact).
// CapturedAt is milliseconds since epoch, monotonically non-decreasing
// per artifact for one producer.
type ContextSnapshot struct {
	ArtifactId      string `json:"artifactId"`
	BaselineContent string `json:"baselineContent"`
	CurrentContent  string `json:"currentContent"`
	IsDirty         bool   `json:"isDirty"`
	CapturedAt      int64  `json:"capturedAt"`
}

func (self *ContextSnapshot) UnmarshalJSON(b []byte) error {
	// typed pointers so that a missing field and a wrong-typed field
	// both reject the payload instead of zero-filling it
	var raw struct {
		ArtifactId      *string  `json:"artifactId"`
		BaselineContent *string  `json:"baselineContent"`
		CurrentContent  *string  `json:"currentContent"`
		IsDirty         *bool    `json:"isDirty"`
		CapturedAt      *float64 `json:"capturedAt"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if raw.ArtifactId == nil {
		return fmt.Errorf("%w: missing artifactId", ErrMalformedMessage)
	}
	if raw.BaselineContent == nil {
		return fmt.Errorf("%w: missing baselineContent", ErrMalformedMessage)
	}
	if raw.CurrentContent == nil {
		return fmt.Errorf("%w: missing currentContent", ErrMalformedMessage)
	}
	if raw.IsDirty == nil {
		return fmt.Errorf("%w: missing isDirty", ErrMalformedMessage)
	}
	if raw.CapturedAt == nil {
		return fmt.Errorf("%w: missing capturedAt", ErrMalformedMessage)
	}
	self.ArtifactId = *raw.ArtifactId
	self.BaselineContent = *raw.BaselineContent
	self.CurrentContent = *raw.CurrentContent
	self.IsDirty = *raw.IsDirty
	self.CapturedAt = int64(*raw.CapturedAt)
	return nil
}

// ids are ulids, which are ordered by create time per process.
// this gives per-sender uniqueness for the lifetime of a connection.
func NewMessageId() string {
	return ulid.Make().String()
}

func NowMilli() int64 {
	return time.Now().UnixMilli()
}

func NewHeartbeat(role string) *Message {
	return &Message{
		Type:      MessageTypeHeartbeat,
		Id:        NewMessageId(),
		Timestamp: NowMilli(),
		Role:      role,
	}
}

func NewHeartbeatAck(originalId string) *Message {
	return &Message{
		Type:       MessageTypeHeartbeatAck,
		Id:         NewMessageId(),
		Timestamp:  NowMilli(),
		OriginalId: originalId,
	}
}

func NewSnapshot(payload *ContextSnapshot) *Message {
	return &Message{
		Type:      MessageTypeSnapshot,
		Id:        NewMessageId(),
		Timestamp: NowMilli(),
		Payload:   payload,
	}
}

func NewControlRequest(text string) *Message {
	return &Message{
		Type:      MessageTypeControlRequest,
		Id:        NewMessageId(),
		Timestamp: NowMilli(),
		Text:      text,
	}
}

func NewControlResponse(success bool, errorText string, originalRequestId string) *Message {
	return &Message{
		Type:              MessageTypeControlResponse,
		Id:                NewMessageId(),
		Timestamp:         NowMilli(),
		Success:           &success,
		Error:             errorText,
		OriginalRequestId: originalRequestId,
	}
}

func EncodeMessage(message *Message) ([]byte, error) {
	b, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	return b, nil
}

func RequireEncodeMessage(message *Message) []byte {
	b, err := EncodeMessage(message)
	if err != nil {
		panic(err)
	}
	return b
}

func DecodeMessage(b []byte) (*Message, error) {
	message := &Message{}
	if err := json.Unmarshal(b, message); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedMessage, err)
	}
	if err := validateMessage(message); err != nil {
		return nil, err
	}
	return message, nil
}

func validateMessage(message *Message) error {
	if message.Id == "" {
		return fmt.Errorf("%w: missing id", ErrMalformedMessage)
	}
	switch message.Type {
	case MessageTypeHeartbeat:
		switch message.Role {
		case RoleProducer, RoleViewer:
		default:
			return fmt.Errorf("%w: unknown role %q", ErrMalformedMessage, message.Role)
		}
	case MessageTypeHeartbeatAck:
		if message.OriginalId == "" {
			return fmt.Errorf("%w: missing originalId", ErrMalformedMessage)
		}
	case MessageTypeSnapshot:
		if message.Payload == nil {
			return fmt.Errorf("%w: missing payload", ErrMalformedMessage)
		}
	case MessageTypeControlRequest:
	case MessageTypeControlResponse:
		if message.Success == nil {
			return fmt.Errorf("%w: missing success", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, message.Type)
	}
	return nil
}

// Package protocol defines the JSON frames exchanged on the /ws channel.
//
// The wire model is a tagged union over "type". Client frames are decoded
// with DecodeClientFrame, which validates required fields and returns the
// request_id (if one could be extracted) alongside any validation error so
// the caller can echo it back in an error frame.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client → server frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePublish     = "publish"
	TypePing        = "ping"
)

// Server → client frame types.
const (
	TypeAck   = "ack"
	TypeEvent = "event"
	TypeError = "error"
	TypePong  = "pong"
	TypeInfo  = "info"
)

// Error codes carried in error frames.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeTopicNotFound = "TOPIC_NOT_FOUND"
	CodeRateLimited   = "RATE_LIMITED"
)

// InfoTopicDeleted is the msg value sent to subscribers of a topic that is
// being deleted, immediately before their connection is closed.
const InfoTopicDeleted = "topic_deleted"

// MessagePayload is the unit of publication. The broker treats it as an
// opaque value: id uniqueness and payload shape are not enforced.
type MessagePayload struct {
	ID      uuid.UUID      `json:"id"`
	Payload map[string]any `json:"payload"`
}

// ClientFrame is the sum type over all client → server frames.
type ClientFrame interface {
	clientFrame()
}

// Subscribe requests membership on a topic, optionally replaying the most
// recent last_n historical payloads.
type Subscribe struct {
	Topic     string `json:"topic"`
	ClientID  string `json:"client_id"`
	LastN     int    `json:"last_n"`
	RequestID string `json:"request_id"`
}

// Unsubscribe removes a client's membership on a topic.
type Unsubscribe struct {
	Topic     string `json:"topic"`
	ClientID  string `json:"client_id"`
	RequestID string `json:"request_id"`
}

// Publish fans a payload out to every current subscriber of a topic.
type Publish struct {
	Topic     string         `json:"topic"`
	Message   MessagePayload `json:"message"`
	RequestID string         `json:"request_id"`
}

// Ping requests a pong. It never touches broker state.
type Ping struct {
	RequestID string `json:"request_id"`
}

func (*Subscribe) clientFrame()   {}
func (*Unsubscribe) clientFrame() {}
func (*Publish) clientFrame()     {}
func (*Ping) clientFrame()        {}

// rawPublish defers message decoding so a missing or malformed message field
// produces a field-level validation error instead of a bare JSON error.
type rawPublish struct {
	Topic     string          `json:"topic"`
	Message   json.RawMessage `json:"message"`
	RequestID string          `json:"request_id"`
}

// DecodeClientFrame parses and validates one client frame. The returned
// request id is best-effort: populated whenever the envelope parsed, even if
// validation failed, so error frames can reference the originating request.
func DecodeClientFrame(data []byte) (ClientFrame, string, error) {
	var env struct {
		Type      string `json:"type"`
		RequestID string `json:"request_id"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("invalid JSON frame: %w", err)
	}

	switch env.Type {
	case TypeSubscribe:
		var f Subscribe
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.RequestID, fmt.Errorf("invalid subscribe frame: %w", err)
		}
		if f.Topic == "" {
			return nil, env.RequestID, fmt.Errorf("subscribe: topic is required")
		}
		if f.ClientID == "" {
			return nil, env.RequestID, fmt.Errorf("subscribe: client_id is required")
		}
		if f.LastN < 0 {
			return nil, env.RequestID, fmt.Errorf("subscribe: last_n must be >= 0")
		}
		return &f, env.RequestID, nil

	case TypeUnsubscribe:
		var f Unsubscribe
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.RequestID, fmt.Errorf("invalid unsubscribe frame: %w", err)
		}
		if f.Topic == "" {
			return nil, env.RequestID, fmt.Errorf("unsubscribe: topic is required")
		}
		if f.ClientID == "" {
			return nil, env.RequestID, fmt.Errorf("unsubscribe: client_id is required")
		}
		return &f, env.RequestID, nil

	case TypePublish:
		var raw rawPublish
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, env.RequestID, fmt.Errorf("invalid publish frame: %w", err)
		}
		if raw.Topic == "" {
			return nil, env.RequestID, fmt.Errorf("publish: topic is required")
		}
		if len(raw.Message) == 0 {
			return nil, env.RequestID, fmt.Errorf("publish: message is required")
		}
		var msg MessagePayload
		if err := json.Unmarshal(raw.Message, &msg); err != nil {
			return nil, env.RequestID, fmt.Errorf("publish: invalid message: %w", err)
		}
		if msg.ID == uuid.Nil {
			return nil, env.RequestID, fmt.Errorf("publish: message.id must be a valid UUID")
		}
		if msg.Payload == nil {
			return nil, env.RequestID, fmt.Errorf("publish: message.payload is required")
		}
		return &Publish{Topic: raw.Topic, Message: msg, RequestID: raw.RequestID}, env.RequestID, nil

	case TypePing:
		var f Ping
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.RequestID, fmt.Errorf("invalid ping frame: %w", err)
		}
		return &f, env.RequestID, nil

	default:
		return nil, env.RequestID, fmt.Errorf("unsupported message type %q", env.Type)
	}
}

// Ack acknowledges a successfully processed client request.
type Ack struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Topic     string    `json:"topic,omitempty"`
	Status    string    `json:"status"`
	TS        time.Time `json:"ts"`
}

// Event carries one published payload to one subscriber.
type Event struct {
	Type    string         `json:"type"`
	Topic   string         `json:"topic"`
	Message MessagePayload `json:"message"`
	TS      time.Time      `json:"ts"`
}

// ErrorBody is the code/message pair nested inside an error frame.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorFrame reports a failed client request.
type ErrorFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	Error     ErrorBody `json:"error"`
	TS        time.Time `json:"ts"`
}

// Pong answers a ping.
type Pong struct {
	Type      string    `json:"type"`
	RequestID string    `json:"request_id,omitempty"`
	TS        time.Time `json:"ts"`
}

// Info is a broker-originated notice not tied to a client request.
type Info struct {
	Type  string    `json:"type"`
	Topic string    `json:"topic,omitempty"`
	Msg   string    `json:"msg"`
	TS    time.Time `json:"ts"`
}

// NewAck builds an ack frame stamped with the current UTC time.
func NewAck(requestID, topic string) Ack {
	return Ack{Type: TypeAck, RequestID: requestID, Topic: topic, Status: "ok", TS: time.Now().UTC()}
}

// NewEvent builds an event frame stamped with the current UTC time.
func NewEvent(topic string, msg MessagePayload) Event {
	return Event{Type: TypeEvent, Topic: topic, Message: msg, TS: time.Now().UTC()}
}

// NewError builds an error frame stamped with the current UTC time.
func NewError(requestID, code, message string) ErrorFrame {
	return ErrorFrame{
		Type:      TypeError,
		RequestID: requestID,
		Error:     ErrorBody{Code: code, Message: message},
		TS:        time.Now().UTC(),
	}
}

// NewPong builds a pong frame stamped with the current UTC time.
func NewPong(requestID string) Pong {
	return Pong{Type: TypePong, RequestID: requestID, TS: time.Now().UTC()}
}

// NewInfo builds an info frame stamped with the current UTC time.
func NewInfo(topic, msg string) Info {
	return Info{Type: TypeInfo, Topic: topic, Msg: msg, TS: time.Now().UTC()}
}

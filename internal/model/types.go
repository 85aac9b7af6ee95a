package model

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/rickgao/kook-gateway/internal/frame"
)

// ChannelType is the scope an event was raised in.
type ChannelType string

const (
	ChannelGroup     ChannelType = "GROUP"     // Guild channel
	ChannelPerson    ChannelType = "PERSON"    // Direct message
	ChannelBroadcast ChannelType = "BROADCAST" // Broadcast
)

// MessageType is the "type" field of an event.
type MessageType int

const (
	MessageText      MessageType = 1
	MessageImage     MessageType = 2
	MessageVideo     MessageType = 3
	MessageFile      MessageType = 4
	MessageAudio     MessageType = 8
	MessageKMarkdown MessageType = 9
	MessageCard      MessageType = 10
	MessageItem      MessageType = 12
	MessageSystem    MessageType = 255
)

var messageTypeNames = map[MessageType]string{
	MessageText:      "text",
	MessageImage:     "image",
	MessageVideo:     "video",
	MessageFile:      "file",
	MessageAudio:     "audio",
	MessageKMarkdown: "kmarkdown",
	MessageCard:      "card",
	MessageItem:      "item",
	MessageSystem:    "system",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return "type_" + strconv.Itoa(int(t))
}

// Known reports whether t is a documented message type.
func (t MessageType) Known() bool {
	_, ok := messageTypeNames[t]
	return ok
}

// Event is one decoded EVENT frame.
type Event struct {
	Sequence     int             `json:"sn"`
	ChannelType  ChannelType     `json:"channel_type"`
	Type         MessageType     `json:"type"`
	TargetID     string          `json:"target_id"`
	AuthorID     string          `json:"author_id"`
	Content      string          `json:"content"`
	MsgID        string          `json:"msg_id"`
	MsgTimestamp int64           `json:"msg_timestamp"`
	Nonce        string          `json:"nonce,omitempty"`
	Extra        json.RawMessage `json:"extra,omitempty"`

	// SystemType is extra.type for system events, e.g. "joined_guild".
	SystemType string `json:"-"`

	// Raw is the undecoded "d" document.
	Raw json.RawMessage `json:"-"`
}

// Name identifies the event for routing: the system sub-type for system
// events, the message type name otherwise.
func (e Event) Name() string {
	if e.Type == MessageSystem {
		if e.SystemType != "" {
			return e.SystemType
		}
		return "system_unknown"
	}
	return e.Type.String()
}

// IsSystem reports whether e is a system notification.
func (e Event) IsSystem() bool {
	return e.Type == MessageSystem
}

// systemExtra is the part of extra that names a system event.
type systemExtra struct {
	Type json.RawMessage `json:"type"`
}

// ParseEvent decodes the payload of an EVENT frame.
func ParseEvent(f frame.Frame) (Event, error) {
	if f.Kind != frame.KindEvent {
		return Event{}, fmt.Errorf("%w: expected EVENT, got %s", frame.ErrMalformed, f.Kind)
	}

	var ev Event
	if len(f.Payload) > 0 {
		if err := json.Unmarshal(f.Payload, &ev); err != nil {
			return Event{}, fmt.Errorf("%w: event payload: %v", frame.ErrMalformed, err)
		}
	}
	ev.Sequence = f.Sequence
	ev.Raw = f.Payload

	if ev.Type == MessageSystem && len(ev.Extra) > 0 {
		var extra systemExtra
		if err := json.Unmarshal(ev.Extra, &extra); err == nil {
			// Message events carry a numeric extra.type; only strings name
			// system events.
			var name string
			if json.Unmarshal(extra.Type, &name) == nil {
				ev.SystemType = name
			}
		}
	}

	return ev, nil
}

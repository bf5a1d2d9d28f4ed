package protocol

import (
	"encoding/json"
)

type Event string

const (
	EventData                 Event = "data"
	EventDownload             Event = "download"
	EventCheckStatus          Event = "check_status"
	EventNotificationReceived Event = "notification_received"
	EventAck                  Event = "ack"
)

const (
	QueryRecipient  = "recipient_id"
	HeaderRecipient = "Notify-Recipient"
)

// Frame is a single websocket text message. A frame with an ID expects an ack frame with the
// same ID in return.
type Frame struct {
	Event   Event           `json:"event"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type AckPayload struct {
	Status string `json:"status"`
}

func NewFrame(event Event, id string, payload any) (Frame, error) {
	frame := Frame{Event: event, ID: id}
	if payload == nil {
		return frame, nil
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return frame, err
	}

	frame.Payload = b
	return frame, nil
}

// MessageFrame wraps a message under the event named by its job type.
func MessageFrame(msg Message, id string) (Frame, error) {
	return NewFrame(Event(msg.JobType), id, msg)
}

func AckFrame(id string) Frame {
	frame, _ := NewFrame(EventAck, id, AckPayload{Status: "ok"})
	return frame
}

func (f Frame) Message() (Message, error) {
	msg := Message{}
	err := json.Unmarshal(f.Payload, &msg)
	return msg, err
}

package media

import (
	"errors"
	"fmt"
	"strings"

	pion "github.com/pion/webrtc/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/BioHazard786/meshroom/internal/version"
)

const (
	controlLabel = "control"

	MessageTypeHello = "hello"
)

var ErrChannelNotOpen = errors.New("channel not open")

// ControlMessage is every message on the control data channel.
type ControlMessage struct {
	Type    string             `msgpack:"type"`
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// HelloPayload introduces a participant once the channel opens.
type HelloPayload struct {
	Name    string `msgpack:"name"`
	Version string `msgpack:"version"`
}

// DecodePayload decodes the message payload into the provided struct
func (m ControlMessage) DecodePayload(v any) error {
	return msgpack.Unmarshal(m.Payload, v)
}

func NewControlMessage(t string, payload any) (ControlMessage, error) {
	b, err := msgpack.Marshal(payload)
	if err != nil {
		return ControlMessage{}, err
	}
	return ControlMessage{Type: t, Payload: b}, nil
}

func ParseControlMessage(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := msgpack.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	return &msg, nil
}

func encodeHello(name string) ([]byte, error) {
	msg, err := NewControlMessage(MessageTypeHello, HelloPayload{
		Name:    name,
		Version: strings.TrimPrefix(version.Version, "v"),
	})
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(msg)
}

func sendHello(dc *pion.DataChannel, name string) error {
	if dc == nil {
		return ErrChannelNotOpen
	}
	data, err := encodeHello(name)
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	return dc.Send(data)
}

package wire

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// EncodeMessage serializes a message to MessagePack with named fields —
// the self-describing, schema-free payload encoding §4.1 calls for.
func EncodeMessage(m Message) ([]byte, error) {
	b, err := msgpack.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("clasp: encode message: %w", err)
	}
	return b, nil
}

// DecodeMessage parses a MessagePack-encoded message payload.
func DecodeMessage(b []byte) (Message, error) {
	var m Message
	if err := msgpack.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m.Type == "" {
		return Message{}, ErrUnknownMessage
	}
	return m, nil
}

// Encode encodes a message into a complete frame, selecting QoS/timestamp
// defaults from the message kind unless overridden by opts.
func Encode(m Message, opts *EncodeOptions) ([]byte, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}

	f := Frame{QoS: m.DefaultQoS(), Payload: payload, Bundle: m.Type == TypeBundle}
	if opts != nil {
		if opts.QoS != nil {
			f.QoS = *opts.QoS
		}
		if opts.Timestamp != nil {
			f.HasTimestamp = true
			f.Timestamp = *opts.Timestamp
		}
	}
	return EncodeFrame(f), nil
}

// Decode parses a frame and decodes its message payload.
func Decode(data []byte, maxMessageSize int) (Message, Frame, error) {
	frame, err := DecodeFrame(data, maxMessageSize)
	if err != nil {
		return Message{}, Frame{}, err
	}
	msg, err := DecodeMessage(frame.Payload)
	if err != nil {
		return Message{}, frame, err
	}
	return msg, frame, nil
}

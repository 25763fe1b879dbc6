package bus

import (
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the message schema. The layout is protobuf-compatible:
//
//	message RTTMessage { uint64 id = 1; string session = 2; bytes payload = 3; }
const (
	fieldID      protowire.Number = 1
	fieldSession protowire.Number = 2
	fieldPayload protowire.Number = 3
)

// Field numbers of the broker envelope that carries a frame on a topic.
const (
	fieldTopic protowire.Number = 1
	fieldFrame protowire.Number = 2
)

// Marshal encodes msg into its wire form.
func Marshal(msg Message) []byte {
	size := protowire.SizeTag(fieldID) + protowire.SizeVarint(msg.ID) +
		protowire.SizeTag(fieldSession) + protowire.SizeBytes(len(msg.Session)) +
		protowire.SizeTag(fieldPayload) + protowire.SizeBytes(len(msg.Payload))
	b := make([]byte, 0, size)
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, msg.ID)
	if msg.Session != "" {
		b = protowire.AppendTag(b, fieldSession, protowire.BytesType)
		b = protowire.AppendString(b, msg.Session)
	}
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, msg.Payload)
	return b
}

// Unmarshal decodes a wire frame. A frame without an id, with a field of the
// wrong wire type, or truncated mid-field is a *DecodeError. Unknown fields are
// skipped. The returned payload never aliases frame.
func Unmarshal(frame []byte) (Message, error) {
	var (
		msg   Message
		hasID bool
	)
	b := frame
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Message{}, &DecodeError{Reason: "invalid tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]

		switch num {
		case fieldID:
			if typ != protowire.VarintType {
				return Message{}, &DecodeError{Reason: "id has wrong wire type"}
			}
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Message{}, &DecodeError{Reason: "invalid id", Err: protowire.ParseError(n)}
			}
			msg.ID = v
			hasID = true
			b = b[n:]
		case fieldSession:
			if typ != protowire.BytesType {
				return Message{}, &DecodeError{Reason: "session has wrong wire type"}
			}
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return Message{}, &DecodeError{Reason: "invalid session", Err: protowire.ParseError(n)}
			}
			msg.Session = v
			b = b[n:]
		case fieldPayload:
			if typ != protowire.BytesType {
				return Message{}, &DecodeError{Reason: "payload has wrong wire type"}
			}
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Message{}, &DecodeError{Reason: "invalid payload", Err: protowire.ParseError(n)}
			}
			msg.Payload = append([]byte{}, v...)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Message{}, &DecodeError{Reason: "invalid unknown field", Err: protowire.ParseError(n)}
			}
			b = b[n:]
		}
	}
	if !hasID {
		return Message{}, &DecodeError{Reason: "missing id"}
	}
	if msg.Payload == nil {
		msg.Payload = []byte{}
	}
	return msg, nil
}

// MarshalEnvelope wraps an encoded frame with its topic for the broker protocol.
func MarshalEnvelope(topic string, frame []byte) []byte {
	b := make([]byte, 0, protowire.SizeTag(fieldTopic)+protowire.SizeBytes(len(topic))+
		protowire.SizeTag(fieldFrame)+protowire.SizeBytes(len(frame)))
	b = protowire.AppendTag(b, fieldTopic, protowire.BytesType)
	b = protowire.AppendString(b, topic)
	b = protowire.AppendTag(b, fieldFrame, protowire.BytesType)
	b = protowire.AppendBytes(b, frame)
	return b
}

// UnmarshalEnvelope splits a broker envelope into topic and frame.
func UnmarshalEnvelope(data []byte) (string, []byte, error) {
	var (
		topic string
		frame []byte
	)
	b := data
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return "", nil, &DecodeError{Reason: "invalid envelope tag", Err: protowire.ParseError(n)}
		}
		b = b[n:]
		if typ != protowire.BytesType || (num != fieldTopic && num != fieldFrame) {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return "", nil, &DecodeError{Reason: "invalid envelope field", Err: protowire.ParseError(n)}
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeBytes(b)
		if n < 0 {
			return "", nil, &DecodeError{Reason: "truncated envelope", Err: protowire.ParseError(n)}
		}
		if num == fieldTopic {
			topic = string(v)
		} else {
			frame = v
		}
		b = b[n:]
	}
	if topic == "" {
		return "", nil, &DecodeError{Reason: "envelope missing topic"}
	}
	return topic, frame, nil
}

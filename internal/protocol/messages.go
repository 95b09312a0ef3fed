package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeParagraph     MessageType = "paragraph"
	TypeEnd           MessageType = "end"
	TypeClientControl MessageType = "client_control"
)

// End reasons.
const (
	ReasonMaxDuration  = "max_duration"
	ReasonClientStop   = "client_stop"
	ReasonDisconnected = "disconnected"
)

// Client control actions.
const (
	ActionStop = "stop"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Paragraph carries one generated HTML paragraph.
type Paragraph struct {
	Type MessageType `json:"type"`
	Seq  int         `json:"seq"`
	HTML string      `json:"html"`
}

// End is the last frame of a trickle stream.
type End struct {
	Type       MessageType `json:"type"`
	Reason     string      `json:"reason"`
	Paragraphs int         `json:"paragraphs"`
}

type ClientControl struct {
	Type   MessageType `json:"type"`
	Action string      `json:"action"`
}

func NewParagraph(seq int, html string) Paragraph {
	return Paragraph{Type: TypeParagraph, Seq: seq, HTML: html}
}

func NewEnd(reason string, paragraphs int) End {
	return End{Type: TypeEnd, Reason: reason, Paragraphs: paragraphs}
}

func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientControl:
		var msg ClientControl
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Action == "" {
			return nil, errors.New("invalid client_control")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// Encode marshals a frame without escaping <, > and &, so paragraph HTML
// travels as written. The trailing newline of json.Encoder is dropped.
func Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// ParseServerMessage decodes frames produced by the trickle stream.
func ParseServerMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeParagraph:
		var msg Paragraph
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeEnd:
		var msg End
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}

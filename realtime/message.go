package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

type Kind int

const (
	Partial Kind = iota + 1
	Final
)

func (k Kind) String() string {
	switch k {
	case Partial:
		return "partial"
	case Final:
		return "final"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Message is a transcript update from the server. A Partial is tentative
// and may be revised; a Final is settled.
type Message struct {
	Kind Kind
	Text string
}

func (m Message) IsFinal() bool { return m.Kind == Final }

type wireMessage struct {
	Type *string `json:"type"`
	Text *string `json:"text"`
}

var (
	errMissingType = errors.New("missing type")
	errMissingText = errors.New("missing text")
	errInvalidUTF8 = errors.New("text frame is not valid UTF-8")
)

// ParseMessage decodes one inbound text frame. Anything other than a
// partial or final object with a text field is a *ParseError.
func ParseMessage(data []byte) (Message, error) {
	if !utf8.Valid(data) {
		return Message{}, &ParseError{Payload: data, Err: errInvalidUTF8}
	}

	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, &ParseError{Payload: data, Err: err}
	}
	if w.Type == nil {
		return Message{}, &ParseError{Payload: data, Err: errMissingType}
	}

	var kind Kind
	switch *w.Type {
	case "partial":
		kind = Partial
	case "final":
		kind = Final
	default:
		return Message{}, &ParseError{
			Payload: data,
			Err:     fmt.Errorf("unknown message type %q", *w.Type),
		}
	}

	if w.Text == nil {
		return Message{}, &ParseError{Payload: data, Err: errMissingText}
	}
	return Message{Kind: kind, Text: *w.Text}, nil
}

var stopMessage = []byte(`{"type":"stop"}`)

package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
)

const CorrelationIDHeader = "Correlation-Id"

type Headers map[string]any

// Get returns the header value if it is a string.
func (h Headers) Get(key string) string {
	s, _ := h[key].(string)
	return s
}

// Message is one frame of the exchange. Only headers are required on the
// wire; top-level fields the message doesn't know, and known fields of an
// unexpected JSON type, are kept in Extra and written back as is.
type Message struct {
	URI     string
	Method  string
	Headers Headers
	Status  int
	Body    json.RawMessage
	Extra   map[string]json.RawMessage

	raw []byte
}

var knownFields = []string{"uri", "method", "headers", "status", "body"}

func NewRequest(method, uri string, body any) (*Message, error) {
	msg := &Message{
		URI:     uri,
		Method:  method,
		Headers: Headers{},
	}

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}

		msg.Body = data
	}

	return msg, nil
}

// ParseMessage decodes a request written as JSON text.
func ParseMessage(text string) (*Message, error) {
	return decodeFrame([]byte(text))
}

func (m *Message) CorrelationID() string {
	return m.Headers.Get(CorrelationIDHeader)
}

func (m *Message) UnmarshalBody(v any) error {
	if len(m.Body) == 0 {
		return ErrEmptyBody
	}

	return json.Unmarshal(m.Body, v)
}

// Raw returns the frame the message was decoded from, if any.
func (m *Message) Raw() []byte {
	return m.raw
}

// Clone returns a copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	c := *m
	c.Headers = maps.Clone(m.Headers)
	if c.Headers == nil {
		c.Headers = Headers{}
	}
	c.Body = append(json.RawMessage(nil), m.Body...)
	c.raw = nil

	if m.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}

	return &c
}

func (m *Message) String() string {
	if m == nil {
		return "<nil>"
	}

	if len(m.raw) > 0 {
		return string(m.raw)
	}

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Sprintf("%+v", *m)
	}

	return string(data)
}

// Frame encodes the message the way it is written to the wire.
func (m *Message) Frame() ([]byte, error) {
	return encodeFrame(m)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	*m = Message{}

	for key, value := range fields {
		if m.setField(key, value) {
			continue
		}

		if m.Extra == nil {
			m.Extra = make(map[string]json.RawMessage)
		}

		m.Extra[key] = value
	}

	return nil
}

// setField reports whether value was taken into a typed field.
func (m *Message) setField(key string, value json.RawMessage) bool {
	switch key {
	case "uri":
		return json.Unmarshal(value, &m.URI) == nil
	case "method":
		return json.Unmarshal(value, &m.Method) == nil
	case "headers":
		var h Headers
		if err := json.Unmarshal(value, &h); err != nil {
			return false
		}
		m.Headers = h
		return true
	case "status":
		// Любое число: 200 и 200.0 одинаково дают 200.
		var f float64
		if err := json.Unmarshal(value, &f); err != nil ||
			f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
			return false
		}
		m.Status = int(f)
		return true
	case "body":
		m.Body = value
		return true
	default:
		return false
	}
}

func (m Message) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	write := func(key string, value []byte) {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}

		k, _ := json.Marshal(key)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(value)
	}

	field := func(key string, set bool, v any) error {
		if !set {
			if raw, ok := m.Extra[key]; ok {
				write(key, raw)
			}

			return nil
		}

		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("field %s: %w", key, err)
		}

		write(key, data)

		return nil
	}

	headers := m.Headers
	if headers == nil {
		headers = Headers{}
	}

	_, extraHeaders := m.Extra["headers"]

	if err := field("uri", m.URI != "", m.URI); err != nil {
		return nil, err
	}
	if err := field("method", m.Method != "", m.Method); err != nil {
		return nil, err
	}
	if err := field("headers", m.Headers != nil || !extraHeaders, headers); err != nil {
		return nil, err
	}
	if err := field("status", m.Status != 0, m.Status); err != nil {
		return nil, err
	}
	if err := field("body", len(m.Body) > 0, m.Body); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		if !slices.Contains(knownFields, k) {
			keys = append(keys, k)
		}
	}

	slices.Sort(keys)

	for _, k := range keys {
		write(k, m.Extra[k])
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

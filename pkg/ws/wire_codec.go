package ws

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const frameIndent = "  "

func encodeFrame(msg *Message) ([]byte, error) {
	data, err := json.MarshalIndent(msg, "", frameIndent)
	if err != nil {
		return nil, fmt.Errorf("failed to encode message: %w", err)
	}

	return data, nil
}

func decodeFrame(data []byte) (*Message, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: %w", ErrDecode, ErrInvalidWireMessage)
	}

	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	msg.raw = append([]byte(nil), data...)

	return &msg, nil
}

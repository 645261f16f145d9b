package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Stamp assigns a fresh event id unless the caller already set one.
func Stamp(ev ClientEvent) {
	env := ev.envelope()
	if env.EventID == "" {
		env.EventID = uuid.NewString()
	}
}

// Encode stamps ev and renders it as a single-line JSON object.
func Encode(ev ClientEvent) ([]byte, error) {
	Stamp(ev)
	b, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.envelope().Type, err)
	}
	return b, nil
}

// DecodeType reads only the type discriminator.
func DecodeType(raw []byte) (string, error) {
	var env Event
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	return env.Type, nil
}

func DecodeResponseDone(raw []byte) (*ResponseDone, error) {
	var ev ResponseDone
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", TypeResponseDone, err)
	}
	return &ev, nil
}

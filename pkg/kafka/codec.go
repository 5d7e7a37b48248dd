// Package kafka carries the cluster's broadcast channels (HELLO and
// INGESTED announcements, index requests, index completions) over
// segmentio/kafka-go. A Bus owns one writer per topic and one reader per
// subscription; LocalBus offers the same surface in process.
package kafka

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// MessageHandler is called once per delivered message. A non-nil error
// leaves the message uncommitted.
type MessageHandler func(ctx context.Context, key []byte, value []byte) error

// Event is one outgoing message. Key picks the partition; Value is encoded
// as JSON.
type Event struct {
	Key   string
	Value any
}

var errTrailing = errors.New("trailing data after message")

// DecodeStrict unmarshals value into T and refuses unknown fields or a
// second JSON value.
func DecodeStrict[T any](value []byte) (T, error) {
	var out T
	dec := json.NewDecoder(bytes.NewReader(value))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&out); err != nil {
		return out, fmt.Errorf("decoding kafka message: %w", err)
	}
	if dec.More() {
		return out, fmt.Errorf("decoding kafka message: %w", errTrailing)
	}
	return out, nil
}

func encode(ev Event) ([]byte, error) {
	value, err := json.Marshal(ev.Value)
	if err != nil {
		return nil, fmt.Errorf("encoding kafka message %q: %w", ev.Key, err)
	}
	return value, nil
}

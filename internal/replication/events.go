package replication

import (
	"encoding/json"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/kafka"
)

// EventType discriminates bus payloads.
type EventType string

const (
	TypeHello    EventType = "HELLO"
	TypeIngested EventType = "INGESTED"
)

// Event is a decoded bus payload: *Hello or *Ingested.
type Event interface {
	EventType() EventType
}

// Hello announces a node on the discovery topic.
type Hello struct {
	Type   EventType `json:"type"`
	Origin string    `json:"origin"`
	NodeID string    `json:"node_id,omitempty"`
	TS     int64     `json:"ts"`
}

func (*Hello) EventType() EventType { return TypeHello }

// Ingested advertises a newly held document version on the event topic.
type Ingested struct {
	Type          EventType     `json:"type"`
	Origin        string        `json:"origin"`
	NodeID        string        `json:"node_id,omitempty"`
	DocID         content.DocID `json:"doc_id"`
	Date          string        `json:"date"`
	Hour          string        `json:"hour"`
	SHA256Header  string        `json:"sha256_header,omitempty"`
	SHA256Body    string        `json:"sha256_body,omitempty"`
	SHA256Meta    string        `json:"sha256_meta,omitempty"`
	ParserVersion string        `json:"parser_version,omitempty"`
	TS            int64         `json:"ts"`
}

func (*Ingested) EventType() EventType { return TypeIngested }

// Entry converts the event into the manifest entry it describes.
func (e *Ingested) Entry() content.ManifestEntry {
	return content.ManifestEntry{
		DocID:         e.DocID,
		Date:          e.Date,
		Hour:          e.Hour,
		SHA256Header:  e.SHA256Header,
		SHA256Body:    e.SHA256Body,
		SHA256Meta:    e.SHA256Meta,
		ParserVersion: e.ParserVersion,
		Origin:        content.NormalizeOrigin(e.Origin),
	}
}

// NewIngested builds the event for a locally held entry.
func NewIngested(entry content.ManifestEntry, nodeID string, ts int64) *Ingested {
	return &Ingested{
		Type:          TypeIngested,
		Origin:        entry.Origin,
		NodeID:        nodeID,
		DocID:         entry.DocID,
		Date:          entry.Date,
		Hour:          entry.Hour,
		SHA256Header:  entry.SHA256Header,
		SHA256Body:    entry.SHA256Body,
		SHA256Meta:    entry.SHA256Meta,
		ParserVersion: entry.ParserVersion,
		TS:            ts,
	}
}

// Decode reads the type discriminator and strictly decodes the matching
// schema. Unknown types, unknown fields and missing required fields are
// reported as ErrMalformedEvent.
func Decode(value []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(value, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	switch envelope.Type {
	case TypeHello:
		h, err := kafka.DecodeStrict[Hello](value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
		}
		h.Origin = content.NormalizeOrigin(h.Origin)
		if h.Origin == "" {
			return nil, fmt.Errorf("%w: hello without origin", apperrors.ErrMalformedEvent)
		}
		return &h, nil
	case TypeIngested:
		e, err := kafka.DecodeStrict[Ingested](value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
		}
		e.Origin = content.NormalizeOrigin(e.Origin)
		if e.Origin == "" {
			return nil, fmt.Errorf("%w: ingested without origin", apperrors.ErrMalformedEvent)
		}
		if err := e.Entry().Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
		}
		return &e, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", apperrors.ErrMalformedEvent, envelope.Type)
	}
}

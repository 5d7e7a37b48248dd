// Package content holds the types shared by every node for addressing a
// document version: ids, partitions, artifact kinds, content hashes and
// manifest entries.
package content

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DocID is the externally assigned, positive document identifier.
type DocID int64

// ParseDocID parses a positive decimal id.
func ParseDocID(s string) (DocID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid document id %q", s)
	}
	return DocID(n), nil
}

func (id DocID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// Kind names one of the three artifacts stored per document.
type Kind string

const (
	KindHeader Kind = "header"
	KindBody   Kind = "body"
	KindMeta   Kind = "meta"
)

// Kinds lists every artifact kind in storage order.
var Kinds = []Kind{KindHeader, KindBody, KindMeta}

// ParseKind validates an artifact kind from a URL segment.
func ParseKind(s string) (Kind, bool) {
	switch Kind(s) {
	case KindHeader, KindBody, KindMeta:
		return Kind(s), true
	}
	return "", false
}

// FileSuffix is the name suffix used for this kind in the content store.
func (k Kind) FileSuffix() string {
	if k == KindMeta {
		return "_meta.json"
	}
	return "_" + string(k) + ".txt"
}

// Partition is the (date, hour) bucket fixed at ingest time. Lexicographic
// order of (Date, Hour) is freshness order.
type Partition struct {
	Date string `json:"date"`
	Hour string `json:"hour"`
}

// PartitionAt returns the UTC partition containing t.
func PartitionAt(t time.Time) Partition {
	t = t.UTC()
	return Partition{Date: t.Format("20060102"), Hour: t.Format("15")}
}

// Valid reports whether the partition has the YYYYMMDD/HH shape.
func (p Partition) Valid() bool {
	if len(p.Date) != 8 || len(p.Hour) != 2 {
		return false
	}
	for _, r := range p.Date + p.Hour {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsZero reports whether no partition was given.
func (p Partition) IsZero() bool {
	return p.Date == "" && p.Hour == ""
}

// Less reports whether p is older than q.
func (p Partition) Less(q Partition) bool {
	if p.Date != q.Date {
		return p.Date < q.Date
	}
	return p.Hour < q.Hour
}

func (p Partition) String() string {
	return p.Date + "/" + p.Hour
}

// HashSet is the content identity of one document version. Empty fields
// mean "unknown" and never participate in comparisons.
type HashSet struct {
	Header string `json:"sha256_header,omitempty"`
	Body   string `json:"sha256_body,omitempty"`
	Meta   string `json:"sha256_meta,omitempty"`
}

// For returns the hash advertised for kind.
func (h HashSet) For(kind Kind) string {
	switch kind {
	case KindHeader:
		return h.Header
	case KindBody:
		return h.Body
	case KindMeta:
		return h.Meta
	}
	return ""
}

// Equal reports whether every hash present in both sets matches and the
// same artifacts are present in each.
func (h HashSet) Equal(o HashSet) bool {
	return h == o
}

// Artifacts are the raw bytes of one document version. Meta is optional.
type Artifacts struct {
	Header []byte
	Body   []byte
	Meta   []byte
}

// Get returns the bytes for kind.
func (a Artifacts) Get(kind Kind) []byte {
	switch kind {
	case KindHeader:
		return a.Header
	case KindBody:
		return a.Body
	case KindMeta:
		return a.Meta
	}
	return nil
}

// Hashes computes the HashSet of a. Meta is hashed only when present.
func (a Artifacts) Hashes() HashSet {
	h := HashSet{Header: SHA256Hex(a.Header), Body: SHA256Hex(a.Body)}
	if len(a.Meta) > 0 {
		h.Meta = SHA256Hex(a.Meta)
	}
	return h
}

// SHA256Hex returns the lowercase hex SHA-256 of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ManifestEntry is an immutable snapshot of one held document version.
type ManifestEntry struct {
	DocID         DocID  `json:"doc_id"`
	Date          string `json:"date"`
	Hour          string `json:"hour"`
	SHA256Header  string `json:"sha256_header"`
	SHA256Body    string `json:"sha256_body"`
	SHA256Meta    string `json:"sha256_meta,omitempty"`
	ParserVersion string `json:"parser_version,omitempty"`
	Origin        string `json:"origin"`
	// Primary is the node the version was ingested on, when known. Origin
	// is the node serving this entry.
	Primary string `json:"primary,omitempty"`
}

// PlacementOrigin is the origin replica sets are computed from.
func (e ManifestEntry) PlacementOrigin() string {
	if e.Primary != "" {
		return e.Primary
	}
	return e.Origin
}

// MetaOrigin returns the ingesting origin recorded in a meta artifact, or
// "" when meta is absent, unparsable or predates the field.
func MetaOrigin(meta []byte) string {
	if len(meta) == 0 {
		return ""
	}
	var m struct {
		Origin string `json:"origin"`
	}
	if err := json.Unmarshal(meta, &m); err != nil {
		return ""
	}
	return NormalizeOrigin(m.Origin)
}

// Partition returns the entry's partition key.
func (e ManifestEntry) Partition() Partition {
	return Partition{Date: e.Date, Hour: e.Hour}
}

// Hashes returns the entry's content identity.
func (e ManifestEntry) Hashes() HashSet {
	return HashSet{Header: e.SHA256Header, Body: e.SHA256Body, Meta: e.SHA256Meta}
}

// Validate rejects entries that cannot be replicated.
func (e ManifestEntry) Validate() error {
	if e.DocID <= 0 {
		return fmt.Errorf("manifest entry: invalid doc id %d", e.DocID)
	}
	if !e.Partition().Valid() {
		return fmt.Errorf("manifest entry %d: invalid partition %q", e.DocID, e.Partition())
	}
	return nil
}

// NewManifestEntry assembles an entry from its parts.
func NewManifestEntry(id DocID, p Partition, h HashSet, parserVersion, origin string) ManifestEntry {
	return ManifestEntry{
		DocID:         id,
		Date:          p.Date,
		Hour:          p.Hour,
		SHA256Header:  h.Header,
		SHA256Body:    h.Body,
		SHA256Meta:    h.Meta,
		ParserVersion: parserVersion,
		Origin:        origin,
	}
}

// NormalizeOrigin trims whitespace and trailing slashes from a base URL.
func NormalizeOrigin(origin string) string {
	return strings.TrimRight(strings.TrimSpace(origin), "/")
}

// NormalizeOrigins normalizes, drops blanks and dedupes origins while
// keeping first-seen order.
func NormalizeOrigins(origins ...string) []string {
	seen := make(map[string]struct{}, len(origins))
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		o = NormalizeOrigin(o)
		if o == "" {
			continue
		}
		if _, dup := seen[o]; dup {
			continue
		}
		seen[o] = struct{}{}
		out = append(out, o)
	}
	return out
}

// Package ingestion defines the documents a storage node takes in, the
// artifacts it writes for them and the response returned to callers.
package ingestion

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
)

// Unknown fills metadata fields a source did not provide.
const Unknown = "Unknown"

// Publish outcomes reported per channel in IngestResponse.
const (
	PublishOK      = "ok"
	PublishSkipped = "skipped"
	PublishError   = "error"
)

// Document is one text taken in from the document source or an upload.
type Document struct {
	Title     string
	Author    string
	Language  string
	Year      int
	Body      string
	SourceURL string
}

// UploadRequest is the JSON body of a direct upload.
type UploadRequest struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Language string `json:"language"`
	Year     int    `json:"year"`
	Body     string `json:"body"`
}

// Document converts the upload into a Document.
func (r UploadRequest) Document() Document {
	return Document{
		Title:    strings.TrimSpace(r.Title),
		Author:   strings.TrimSpace(r.Author),
		Language: strings.TrimSpace(r.Language),
		Year:     r.Year,
		Body:     r.Body,
	}
}

// Meta is the JSON meta artifact written next to header and body.
type Meta struct {
	DocID              content.DocID `json:"doc_id"`
	Title              string        `json:"title"`
	Author             string        `json:"author"`
	Language           string        `json:"language"`
	Year               int           `json:"year,omitempty"`
	SourceURL          string        `json:"source_url,omitempty"`
	Origin             string        `json:"origin,omitempty"`
	ChecksumSHA256Body string        `json:"checksum_sha256_body"`
	ParserVersion      string        `json:"parser_version"`
	IngestedAt         time.Time     `json:"ingested_at"`
}

// IngestResponse is returned after a document was stored locally.
// ReplicationPublish and IndexingPublish report the fire-and-forget
// announcements that followed.
type IngestResponse struct {
	DocID              content.DocID `json:"doc_id"`
	Status             string        `json:"status"`
	Title              string        `json:"title"`
	Author             string        `json:"author"`
	Language           string        `json:"language"`
	Year               int           `json:"year,omitempty"`
	Date               string        `json:"date"`
	Hour               string        `json:"hour"`
	ChecksumSHA256Body string        `json:"checksum_sha256_body"`
	ParserVersion      string        `json:"parser_version"`
	IngestedAt         time.Time     `json:"ingested_at"`
	ReplicationPublish string        `json:"replication_publish"`
	IndexingPublish    string        `json:"indexing_event_publish"`
}

// Normalized trims the text fields and fills missing metadata with Unknown.
func (d Document) Normalized() Document {
	d.Body = strings.TrimSpace(d.Body)
	d.Title = orUnknown(d.Title)
	d.Author = orUnknown(d.Author)
	d.Language = orUnknown(d.Language)
	if d.Year < 0 {
		d.Year = 0
	}
	return d
}

func orUnknown(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return Unknown
	}
	return s
}

// Header renders the header artifact: one "Key: value" line per field,
// with Year only when it is known.
func (d Document) Header() []byte {
	var b strings.Builder
	b.WriteString("Title: " + d.Title + "\n")
	b.WriteString("Author: " + d.Author + "\n")
	b.WriteString("Language: " + d.Language)
	if d.Year > 0 {
		b.WriteString("\nYear: " + strconv.Itoa(d.Year))
	}
	return []byte(b.String())
}

// Artifacts renders the three stored artifacts of d for id as ingested by
// origin.
func (d Document) Artifacts(id content.DocID, origin, parserVersion string, ingestedAt time.Time) (content.Artifacts, Meta, error) {
	body := []byte(d.Body)
	meta := Meta{
		DocID:              id,
		Title:              d.Title,
		Author:             d.Author,
		Language:           d.Language,
		Year:               d.Year,
		SourceURL:          d.SourceURL,
		Origin:             content.NormalizeOrigin(origin),
		ChecksumSHA256Body: content.SHA256Hex(body),
		ParserVersion:      parserVersion,
		IngestedAt:         ingestedAt.UTC(),
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return content.Artifacts{}, Meta{}, err
	}
	return content.Artifacts{Header: d.Header(), Body: body, Meta: metaJSON}, meta, nil
}

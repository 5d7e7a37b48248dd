package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/resilience"
)

const maxSourceBytes = 64 << 20

// Source supplies documents by id.
type Source interface {
	Fetch(ctx context.Context, id content.DocID) (Document, error)
}

// HTTPSource downloads plain-text books from a URL template in which every
// %d is replaced by the document id.
type HTTPSource struct {
	urlTemplate string
	client      *http.Client
	retry       resilience.RetryConfig
	logger      *slog.Logger
}

// NewHTTPSource returns an HTTPSource. A zero timeout means 60s.
func NewHTTPSource(urlTemplate string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPSource{
		urlTemplate: urlTemplate,
		client:      &http.Client{Timeout: timeout},
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 500 * time.Millisecond,
			Retryable: func(err error) bool {
				return !apperrors.Is(err, apperrors.ErrDocumentNotFound)
			},
		},
		logger: slog.Default().With("component", "document-source"),
	}
}

// URL renders the download location of id.
func (s *HTTPSource) URL(id content.DocID) string {
	return strings.ReplaceAll(s.urlTemplate, "%d", id.String())
}

// Fetch downloads id and splits it into metadata and body. A 404 from the
// source is ErrDocumentNotFound; every other failure is ErrSourceUnreachable.
func (s *HTTPSource) Fetch(ctx context.Context, id content.DocID) (Document, error) {
	url := s.URL(id)
	var raw []byte
	err := resilience.Retry(ctx, "fetch-source", s.retry, func(ctx context.Context) error {
		var err error
		raw, err = s.get(ctx, url)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	doc := ParseText(string(raw))
	doc.SourceURL = url
	if strings.TrimSpace(doc.Body) == "" {
		return Document{}, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document %d has no body at source", id)
	}
	s.logger.Debug("document downloaded", "doc_id", id, "bytes", len(raw))
	return doc, nil
}

func (s *HTTPSource) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building source request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, apperrors.Join(
			apperrors.New(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "document source unreachable"),
			err,
		)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, apperrors.New(apperrors.ErrDocumentNotFound, http.StatusNotFound, "document not found at source")
	case resp.StatusCode != http.StatusOK:
		return nil, apperrors.Newf(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "document source returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSourceBytes))
	if err != nil {
		return nil, apperrors.Join(
			apperrors.New(apperrors.ErrSourceUnreachable, http.StatusBadGateway, "reading document source"),
			err,
		)
	}
	return data, nil
}

var (
	startMarkers = []string{
		"*** start of the project gutenberg ebook",
		"*** start of the project gutenberg book",
		"*** start of this project gutenberg ebook",
		"*** start of this project gutenberg",
		"*** start of project gutenberg",
		"start of the project gutenberg",
		"start of this project gutenberg",
	}
	endMarkers = []string{
		"*** end of the project gutenberg ebook",
		"*** end of the project gutenberg book",
		"*** end of this project gutenberg ebook",
		"*** end of this project gutenberg",
		"*** end of project gutenberg",
		"end of the project gutenberg",
		"end of this project gutenberg",
	}

	titleField    = regexp.MustCompile(`(?im)^\s*Title\s*:\s*(.+)$`)
	authorField   = regexp.MustCompile(`(?im)^\s*Author\s*:\s*(.+)$`)
	languageField = regexp.MustCompile(`(?im)^\s*Language\s*:\s*([A-Za-z][A-Za-z \-]{0,40})\s*$`)
	releaseYear   = regexp.MustCompile(`(?i)(?:release\s+date|published|first\s+published|copyright)[^\n]*?\b(1[5-9]\d{2}|20\d{2})\b`)
)

// ParseText splits a plain-text book into its preamble metadata and the body
// between the start and end markers. Text without markers is all body.
func ParseText(text string) Document {
	text = strings.TrimPrefix(text, "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lower := asciiLower(text)

	start, startLen := earliest(lower, startMarkers)
	end, _ := earliest(lower, endMarkers)

	bodyStart, bodyEnd := 0, len(text)
	if start >= 0 {
		if nl := strings.IndexByte(text[start:], '\n'); nl >= 0 {
			bodyStart = start + nl + 1
		} else {
			bodyStart = start + startLen
		}
	}
	if end >= 0 {
		if nl := strings.LastIndexByte(text[:end], '\n'); nl >= 0 {
			bodyEnd = nl
		} else {
			bodyEnd = end
		}
	}
	if bodyStart > bodyEnd {
		bodyStart, bodyEnd = 0, len(text)
	}

	preamble := text
	if start >= 0 {
		preamble = text[:start]
	}
	doc := Document{Body: strings.TrimSpace(text[bodyStart:bodyEnd])}
	if m := titleField.FindStringSubmatch(preamble); m != nil {
		doc.Title = strings.TrimSpace(m[1])
	}
	if m := authorField.FindStringSubmatch(preamble); m != nil {
		doc.Author = strings.TrimSpace(m[1])
	}
	if m := languageField.FindStringSubmatch(preamble); m != nil {
		doc.Language = strings.TrimSpace(m[1])
	}
	if m := releaseYear.FindStringSubmatch(preamble); m != nil {
		doc.Year, _ = strconv.Atoi(m[1])
	}
	return doc
}

func earliest(hay string, needles []string) (int, int) {
	best, length := -1, 0
	for _, n := range needles {
		if i := strings.Index(hay, n); i >= 0 && (best < 0 || i < best) {
			best, length = i, len(n)
		}
	}
	return best, length
}

// asciiLower folds only ASCII letters so byte offsets stay valid in text.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

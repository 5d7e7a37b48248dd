// Package validator provides input validation for ingestion requests. It
// enforces field length and range constraints and returns per-field error
// details.
package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/ingestion"
)

const (
	maxTitleLength    = 1024
	maxAuthorLength   = 512
	maxLanguageLength = 64
	maxBodyLength     = 32 << 20
	minYear           = 0
	maxYear           = 2100
)

// ValidationError holds per-field validation failure messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s:%s", field, msg))
	}
	sort.Strings(parts)
	return strings.Join(parts, "; ")
}

// ValidateUpload checks a direct upload. Only the body is required; empty
// metadata fields are stored as Unknown.
func ValidateUpload(req *ingestion.UploadRequest) error {
	errs := make(map[string]string)

	if len(strings.TrimSpace(req.Title)) > maxTitleLength {
		errs["title"] = fmt.Sprintf("title must be at most %d characters", maxTitleLength)
	}
	if len(strings.TrimSpace(req.Author)) > maxAuthorLength {
		errs["author"] = fmt.Sprintf("author must be at most %d characters", maxAuthorLength)
	}
	if len(strings.TrimSpace(req.Language)) > maxLanguageLength {
		errs["language"] = fmt.Sprintf("language must be at most %d characters", maxLanguageLength)
	}
	if req.Year < minYear || req.Year > maxYear {
		errs["year"] = fmt.Sprintf("year must be between %d and %d", minYear, maxYear)
	}
	body := strings.TrimSpace(req.Body)
	if body == "" {
		errs["body"] = "body is required and must not be empty"
	} else if len(req.Body) > maxBodyLength {
		errs["body"] = fmt.Sprintf("body must be at most %d bytes", maxBodyLength)
	}
	if len(errs) > 0 {
		return &ValidationError{Fields: errs}
	}
	return nil
}

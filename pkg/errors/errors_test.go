package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", ErrDocumentNotFound, http.StatusNotFound},
		{"wrapped invalid", fmt.Errorf("parsing: %w", ErrInvalidInput), http.StatusBadRequest},
		{"source unreachable", ErrSourceUnreachable, http.StatusBadGateway},
		{"lock", fmt.Errorf("update 7: %w", ErrLockUnavailable), http.StatusServiceUnavailable},
		{"hash mismatch", ErrHashMismatch, http.StatusConflict},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
		{"app error wins", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HTTPStatusCode(tc.err))
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("indexing 42: %w", Newf(ErrSourceUnreachable, http.StatusBadGateway, "tried %d origins", 3))
	assert.True(t, Is(err, ErrSourceUnreachable))
	assert.Equal(t, "tried 3 origins", Message(err))
	assert.Equal(t, "plain", Message(fmt.Errorf("plain")))
}

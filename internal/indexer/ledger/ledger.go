// Package ledger keeps a durable per-document record of index outcomes in
// PostgreSQL, so operators can see what was indexed, from where and which
// documents keep failing.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS index_ledger (
	doc_id      BIGINT PRIMARY KEY,
	status      TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	term_count  INTEGER NOT NULL DEFAULT 0,
	last_error  TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 1,
	updated_at  TIMESTAMPTZ NOT NULL
)`

const statusIndex = `CREATE INDEX IF NOT EXISTS index_ledger_status_idx ON index_ledger (status)`

// Entry is one row of the ledger.
type Entry struct {
	DocID     content.DocID `json:"doc_id"`
	Status    string        `json:"status"`
	Source    string        `json:"source,omitempty"`
	TermCount int           `json:"term_count"`
	LastError string        `json:"last_error,omitempty"`
	Attempts  int           `json:"attempts"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Ledger implements indexer.Recorder on PostgreSQL.
type Ledger struct {
	db *sql.DB
}

// Open ensures the schema exists and returns a Ledger.
func Open(ctx context.Context, client *postgres.Client) (*Ledger, error) {
	if err := client.EnsureSchema(ctx, schema, statusIndex); err != nil {
		return nil, fmt.Errorf("preparing index ledger: %w", err)
	}
	return &Ledger{db: client.DB}, nil
}

// Record upserts the outcome for o.DocID. A successful outcome clears the
// last error; a failed one keeps the previous source and term count.
func (l *Ledger) Record(ctx context.Context, o indexer.Outcome) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO index_ledger (doc_id, status, source, term_count, last_error, attempts, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6)
		ON CONFLICT (doc_id) DO UPDATE SET
			status     = EXCLUDED.status,
			source     = CASE WHEN EXCLUDED.status = 'error' THEN index_ledger.source ELSE EXCLUDED.source END,
			term_count = CASE WHEN EXCLUDED.status = 'error' THEN index_ledger.term_count ELSE EXCLUDED.term_count END,
			last_error = EXCLUDED.last_error,
			attempts   = index_ledger.attempts + 1,
			updated_at = EXCLUDED.updated_at`,
		int64(o.DocID), o.Status, o.Source, o.TermCount, o.Error, o.At.UTC(),
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %d: %w", o.DocID, err)
	}
	return nil
}

// Get returns the ledger entry for id.
func (l *Ledger) Get(ctx context.Context, id content.DocID) (Entry, error) {
	var e Entry
	var docID int64
	err := l.db.QueryRowContext(ctx, `
		SELECT doc_id, status, source, term_count, last_error, attempts, updated_at
		FROM index_ledger WHERE doc_id = $1`, int64(id),
	).Scan(&docID, &e.Status, &e.Source, &e.TermCount, &e.LastError, &e.Attempts, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperrors.Newf(apperrors.ErrDocumentNotFound, http.StatusNotFound, "no ledger entry for %d", id)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("reading ledger entry %d: %w", id, err)
	}
	e.DocID = content.DocID(docID)
	return e, nil
}

// Failed lists up to limit documents whose latest outcome is an error,
// most recent first.
func (l *Ledger) Failed(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT doc_id, status, source, term_count, last_error, attempts, updated_at
		FROM index_ledger WHERE status = 'error'
		ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing failed documents: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var docID int64
		if err := rows.Scan(&docID, &e.Status, &e.Source, &e.TermCount, &e.LastError, &e.Attempts, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		e.DocID = content.DocID(docID)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Package index holds the shared search index: per-document metadata,
// per-document term vectors and the inverted index from term to postings.
// The maps sit behind narrow interfaces so one process can use in-memory
// maps while a cluster shares them through Redis.
package index

import (
	"context"
	"sort"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
)

// Unknown is stored for metadata fields a document does not provide.
const Unknown = "Unknown"

// DocMeta is the searchable metadata of one indexed document.
type DocMeta struct {
	Title    string `json:"title"`
	Author   string `json:"author"`
	Language string `json:"language"`
	Year     int    `json:"year"`
}

// TermVector maps each term of a document to its frequency.
type TermVector map[string]int

// Posting is one document's entry under a term.
type Posting struct {
	DocID content.DocID
	TF    int
}

// PostingList is sorted by DocID.
type PostingList []Posting

// Map is a shared key/value map.
type Map[K comparable, V any] interface {
	Get(ctx context.Context, key K) (V, bool, error)
	Put(ctx context.Context, key K, value V) error
	Remove(ctx context.Context, key K) error
	Keys(ctx context.Context) ([]K, error)
	Len(ctx context.Context) (int, error)
}

// PostingMap is the inverted index: term to (doc id to term frequency).
type PostingMap interface {
	Put(ctx context.Context, term string, id content.DocID, tf int) error
	Remove(ctx context.Context, term string, id content.DocID) error
	Get(ctx context.Context, term string) (PostingList, error)
	// Len returns the number of terms with at least one posting.
	Len(ctx context.Context) (int, error)
}

// Store bundles the three maps making up the index.
type Store struct {
	Docs     Map[content.DocID, DocMeta]
	Terms    Map[content.DocID, TermVector]
	Inverted PostingMap
}

func sortPostings(pl PostingList) PostingList {
	sort.Slice(pl, func(i, j int) bool { return pl[i].DocID < pl[j].DocID })
	return pl
}

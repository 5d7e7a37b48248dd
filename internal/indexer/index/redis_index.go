package index

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/redis"
)

// NewRedisStore returns a Store shared through Redis. Under prefix it uses
// the hashes <prefix>:docs and <prefix>:docterms, one hash
// <prefix>:inv:<term> per term and the set <prefix>:terms.
func NewRedisStore(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "ls"
	}
	return &Store{
		Docs:     NewRedisMap[content.DocID, DocMeta](client, prefix+":docs", formatDocID, parseDocID),
		Terms:    NewRedisMap[content.DocID, TermVector](client, prefix+":docterms", formatDocID, parseDocID),
		Inverted: NewRedisPostings(client, prefix),
	}
}

func formatDocID(id content.DocID) string { return id.String() }

func parseDocID(s string) (content.DocID, error) { return content.ParseDocID(s) }

// RedisMap stores a Map in one Redis hash with JSON-encoded values.
type RedisMap[K comparable, V any] struct {
	client    *redis.Client
	key       string
	encodeKey func(K) string
	decodeKey func(string) (K, error)
}

func NewRedisMap[K comparable, V any](client *redis.Client, key string, encodeKey func(K) string, decodeKey func(string) (K, error)) *RedisMap[K, V] {
	return &RedisMap[K, V]{client: client, key: key, encodeKey: encodeKey, decodeKey: decodeKey}
}

func (m *RedisMap[K, V]) Get(ctx context.Context, key K) (V, bool, error) {
	var v V
	raw, err := m.client.HGet(ctx, m.key, m.encodeKey(key))
	if redis.IsNilError(err) {
		return v, false, nil
	}
	if err != nil {
		return v, false, fmt.Errorf("reading %s[%v]: %w", m.key, key, err)
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, false, fmt.Errorf("decoding %s[%v]: %w", m.key, key, err)
	}
	return v, true, nil
}

func (m *RedisMap[K, V]) Put(ctx context.Context, key K, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding %s[%v]: %w", m.key, key, err)
	}
	return m.client.HSet(ctx, m.key, m.encodeKey(key), raw)
}

func (m *RedisMap[K, V]) Remove(ctx context.Context, key K) error {
	return m.client.HDel(ctx, m.key, m.encodeKey(key))
}

func (m *RedisMap[K, V]) Keys(ctx context.Context) ([]K, error) {
	fields, err := m.client.HKeys(ctx, m.key)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", m.key, err)
	}
	keys := make([]K, 0, len(fields))
	for _, f := range fields {
		k, err := m.decodeKey(f)
		if err != nil {
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func (m *RedisMap[K, V]) Len(ctx context.Context) (int, error) {
	n, err := m.client.HLen(ctx, m.key)
	return int(n), err
}

// RedisPostings stores each term's postings in its own hash and tracks
// non-empty terms in a set.
type RedisPostings struct {
	client *redis.Client
	prefix string
}

func NewRedisPostings(client *redis.Client, prefix string) *RedisPostings {
	return &RedisPostings{client: client, prefix: prefix}
}

func (p *RedisPostings) termKey(term string) string { return p.prefix + ":inv:" + term }

func (p *RedisPostings) termsKey() string { return p.prefix + ":terms" }

func (p *RedisPostings) Put(ctx context.Context, term string, id content.DocID, tf int) error {
	if err := p.client.HSetTracked(ctx, p.termKey(term), id.String(), tf, p.termsKey(), term); err != nil {
		return fmt.Errorf("writing posting %s/%d: %w", term, id, err)
	}
	return nil
}

// Remove drops the posting; the term leaves the term set with its last one.
func (p *RedisPostings) Remove(ctx context.Context, term string, id content.DocID) error {
	if err := p.client.HDelTracked(ctx, p.termKey(term), id.String(), p.termsKey(), term); err != nil {
		return fmt.Errorf("removing posting %s/%d: %w", term, id, err)
	}
	return nil
}

func (p *RedisPostings) Get(ctx context.Context, term string) (PostingList, error) {
	fields, err := p.client.HGetAll(ctx, p.termKey(term))
	if err != nil {
		return nil, fmt.Errorf("reading postings of %q: %w", term, err)
	}
	if len(fields) == 0 {
		return nil, nil
	}
	result := make(PostingList, 0, len(fields))
	for f, v := range fields {
		id, err := content.ParseDocID(f)
		if err != nil {
			continue
		}
		tf, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		result = append(result, Posting{DocID: id, TF: tf})
	}
	return sortPostings(result), nil
}

func (p *RedisPostings) Len(ctx context.Context) (int, error) {
	n, err := p.client.SCard(ctx, p.termsKey())
	return int(n), err
}

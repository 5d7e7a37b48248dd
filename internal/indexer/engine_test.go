package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/content"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/internal/indexer/lock"
	apperrors "github.com/Adithya-Monish-Kumar-K/Distributed-Library-Search/pkg/errors"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeNodes struct {
	mu   sync.Mutex
	docs map[string]map[content.DocID]content.Artifacts
	down map[string]bool
}

func newFakeNodes() *fakeNodes {
	return &fakeNodes{
		docs: make(map[string]map[content.DocID]content.Artifacts),
		down: make(map[string]bool),
	}
}

func (f *fakeNodes) put(origin string, id content.DocID, header, body, meta string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.docs[origin] == nil {
		f.docs[origin] = make(map[content.DocID]content.Artifacts)
	}
	a := content.Artifacts{Header: []byte(header), Body: []byte(body)}
	if meta != "" {
		a.Meta = []byte(meta)
	}
	f.docs[origin][id] = a
}

func (f *fakeNodes) Artifacts(_ context.Context, origin string, id content.DocID, _ content.Partition, _ bool) (content.Artifacts, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[origin] {
		return content.Artifacts{}, fmt.Errorf("%s: connection refused", origin)
	}
	a, ok := f.docs[origin][id]
	if !ok {
		return content.Artifacts{}, fmt.Errorf("doc %d: %w", id, apperrors.ErrDocumentNotFound)
	}
	return a, nil
}

func (f *fakeNodes) List(_ context.Context, origin string) ([]content.DocID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down[origin] {
		return nil, fmt.Errorf("%s: connection refused", origin)
	}
	var ids []content.DocID
	for id := range f.docs[origin] {
		ids = append(ids, id)
	}
	return ids, nil
}

type sink struct {
	mu       sync.Mutex
	outcomes []Outcome
	events   []IndexComplete
}

func (s *sink) Record(_ context.Context, o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return nil
}

func (s *sink) IndexComplete(ctx context.Context, ev IndexComplete) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func newTestEngine(t *testing.T, nodes *fakeNodes, cfg Config) (*Engine, *index.Store) {
	t.Helper()
	store := index.NewMemoryStore()
	if cfg.LockWait == 0 {
		cfg.LockWait = time.Second
	}
	cfg.DropStopWords = true
	return NewEngine(cfg, store, lock.NewLocal("test"), nodes), store
}

func postings(t *testing.T, s *index.Store, term string) index.PostingList {
	t.Helper()
	pl, err := s.Inverted.Get(context.Background(), term)
	require.NoError(t, err)
	return pl
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

func TestUpdateIndexesDocument(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: Cats\nAuthor: Ann Smith\nLanguage: en\n", "The cat sat. Cat!", `{"year":1901}`)
	s := &sink{}
	e, store := newTestEngine(t, nodes, Config{Ledger: s, Notifier: s})
	ctx := context.Background()

	res, err := e.Update(ctx, 7, []string{"http://n1/", "http://n1"})
	require.NoError(t, err)
	assert.Equal(t, UpdateResult{DocID: 7, Status: StatusOK, SourceUsed: "http://n1", TermCount: 2}, res)

	meta, ok, err := store.Docs.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, index.DocMeta{Title: "Cats", Author: "Ann Smith", Language: "en", Year: 1901}, meta)
	assert.Equal(t, index.PostingList{{DocID: 7, TF: 2}}, postings(t, store, "cat"))
	assert.Equal(t, index.PostingList{{DocID: 7, TF: 1}}, postings(t, store, "sat"))

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Docs: 1, Terms: 2}, stats)

	require.Len(t, s.outcomes, 1)
	assert.Equal(t, StatusOK, s.outcomes[0].Status)
	require.Len(t, s.events, 1)
	assert.Equal(t, IndexComplete{DocID: 7, Status: StatusOK, TermCount: 2, TS: s.events[0].TS}, s.events[0])
}

func TestUpdateReplacesPreviousGeneration(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: A\n", "cat cat dog", "")
	e, store := newTestEngine(t, nodes, Config{})
	ctx := context.Background()

	_, err := e.Update(ctx, 7, []string{"http://n1"})
	require.NoError(t, err)

	nodes.put("http://n1", 7, "Title: A\n", "dog dog dog", "")
	_, err = e.Update(ctx, 7, []string{"http://n1"})
	require.NoError(t, err)

	assert.Empty(t, postings(t, store, "cat"))
	assert.Equal(t, index.PostingList{{DocID: 7, TF: 3}}, postings(t, store, "dog"))
}

func TestUpdateFallsBackToNextOrigin(t *testing.T) {
	nodes := newFakeNodes()
	nodes.down["http://n1"] = true
	nodes.put("http://n2", 7, "Title: A\n", "cat", "")
	e, _ := newTestEngine(t, nodes, Config{})

	res, err := e.Update(context.Background(), 7, []string{"http://n1", "http://n2"})
	require.NoError(t, err)
	assert.Equal(t, "http://n2", res.SourceUsed)
}

func TestUpdateFailureLeavesDocumentAbsent(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: A\n", "cat", "")
	s := &sink{}
	e, store := newTestEngine(t, nodes, Config{Ledger: s})
	ctx := context.Background()

	_, err := e.Update(ctx, 7, []string{"http://n1"})
	require.NoError(t, err)

	nodes.down["http://n1"] = true
	res, err := e.Update(ctx, 7, []string{"http://n1", "http://n2"})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrSourceUnreachable)
	assert.Equal(t, 502, apperrors.HTTPStatusCode(err))
	assert.Equal(t, StatusError, res.Status)

	assert.Empty(t, postings(t, store, "cat"))
	_, ok, err := store.Docs.Get(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StatusError, s.outcomes[len(s.outcomes)-1].Status)
}

func TestUpdateRejectsInvalidInput(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNodes(), Config{})
	_, err := e.Update(context.Background(), 7, []string{" ", "/"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	_, err = e.Update(context.Background(), 0, []string{"http://n1"})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestUpdateLockUnavailable(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: A\n", "cat", "")
	store := index.NewMemoryStore()
	locker := lock.NewLocal("test")
	e := NewEngine(Config{LockWait: 20 * time.Millisecond}, store, locker, nodes)

	lease, err := locker.Acquire(context.Background())
	require.NoError(t, err)
	defer lease.Release()

	_, err = e.Update(context.Background(), 7, []string{"http://n1"})
	assert.ErrorIs(t, err, apperrors.ErrLockUnavailable)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

func TestConcurrentUpdatesNeverMixGenerations(t *testing.T) {
	nodes := newFakeNodes()
	e, store := newTestEngine(t, nodes, Config{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			origin := fmt.Sprintf("http://n%d", n)
			body := strings.Repeat("cat ", n) + strings.Repeat("dog ", 21-n)
			nodes.put(origin, 7, "Title: A\n", body, "")
			_, err := e.Update(ctx, 7, []string{origin})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	tv, ok, err := store.Terms.Get(ctx, 7)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 21, tv["cat"]+tv["dog"])
	assert.Equal(t, index.PostingList{{DocID: 7, TF: tv["cat"]}}, postings(t, store, "cat"))
	assert.Equal(t, index.PostingList{{DocID: 7, TF: tv["dog"]}}, postings(t, store, "dog"))
}

// ctxPostings wraps a PostingMap so that writes observe ctx the way a
// networked store does. hook runs before the n-th Put.
type ctxPostings struct {
	index.PostingMap
	mu   sync.Mutex
	puts int
	hook func(ctx context.Context, n int) error
}

func (p *ctxPostings) Put(ctx context.Context, term string, id content.DocID, tf int) error {
	p.mu.Lock()
	p.puts++
	n := p.puts
	p.mu.Unlock()
	if p.hook != nil {
		if err := p.hook(ctx, n); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.PostingMap.Put(ctx, term, id, tf)
}

func (p *ctxPostings) Remove(ctx context.Context, term string, id content.DocID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.PostingMap.Remove(ctx, term, id)
}

var fiveTerms = []string{"alpha", "bravo", "charlie", "delta", "echo"}

func newHookedEngine(t *testing.T, cfg Config, locker lock.Locker, hook func(context.Context, int) error) (*Engine, *index.Store) {
	t.Helper()
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: A\n", strings.Join(fiveTerms, " "), "")
	store := index.NewMemoryStore()
	store.Inverted = &ctxPostings{PostingMap: store.Inverted, hook: hook}
	if cfg.LockWait == 0 {
		cfg.LockWait = time.Second
	}
	if locker == nil {
		locker = lock.NewLocal("test")
	}
	return NewEngine(cfg, store, locker, nodes), store
}

func assertAbsent(t *testing.T, store *index.Store, id content.DocID) {
	t.Helper()
	ctx := context.Background()
	_, ok, err := store.Docs.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "meta left behind")
	_, ok, err = store.Terms.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok, "term vector left behind")
	for _, term := range fiveTerms {
		assert.Empty(t, postings(t, store, term), term)
	}
}

func TestUpdateOutlivesCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := &sink{}
	e, store := newHookedEngine(t, Config{Notifier: s}, nil, func(_ context.Context, n int) error {
		if n == 2 {
			cancel()
		}
		return nil
	})

	res, err := e.Update(ctx, 7, []string{"http://n1"})
	require.NoError(t, err)
	assert.Equal(t, 5, res.TermCount)
	require.Len(t, s.events, 1)
	assert.Equal(t, StatusOK, s.events[0].Status)
	for _, term := range fiveTerms {
		assert.Equal(t, index.PostingList{{DocID: 7, TF: 1}}, postings(t, store, term), term)
	}
}

func TestUpdateRollsBackWhenHoldRunsOut(t *testing.T) {
	e, store := newHookedEngine(t, Config{LockHold: 50 * time.Millisecond}, nil, func(ctx context.Context, n int) error {
		if n == 3 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	_, err := e.Update(context.Background(), 7, []string{"http://n1"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assertAbsent(t, store, 7)
}

func TestUpdateRollsBackFailedWrite(t *testing.T) {
	e, store := newHookedEngine(t, Config{}, nil, func(_ context.Context, n int) error {
		if n == 4 {
			return errors.New("connection reset")
		}
		return nil
	})

	_, err := e.Update(context.Background(), 7, []string{"http://n1"})
	require.Error(t, err)
	assertAbsent(t, store, 7)
}

// unrenewable grants the lock but can never extend it.
type unrenewable struct{}

func (unrenewable) SetNX(context.Context, string, any, time.Duration) (bool, error) {
	return true, nil
}

func (unrenewable) ExpireIfEquals(context.Context, string, string, time.Duration) (bool, error) {
	return false, errors.New("i/o timeout")
}

func (unrenewable) DeleteIfEquals(context.Context, string, string) (bool, error) {
	return false, nil
}

func TestUpdateStopsWhenLeaseIsLost(t *testing.T) {
	locker := lock.NewRedis(unrenewable{}, "test:lock", 60*time.Millisecond)
	e, _ := newHookedEngine(t, Config{}, locker, func(ctx context.Context, n int) error {
		if n == 2 {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	_, err := e.Update(context.Background(), 7, []string{"http://n1"})
	assert.ErrorIs(t, err, apperrors.ErrLockUnavailable)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))
}

// ---------------------------------------------------------------------------
// Remove, Rebuild
// ---------------------------------------------------------------------------

func TestRemove(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n1", 7, "Title: A\n", "cat", "")
	s := &sink{}
	e, store := newTestEngine(t, nodes, Config{Notifier: s})
	ctx := context.Background()

	_, err := e.Update(ctx, 7, []string{"http://n1"})
	require.NoError(t, err)
	require.NoError(t, e.Remove(ctx, 7))
	assert.Empty(t, postings(t, store, "cat"))
	assert.Equal(t, StatusRemoved, s.events[len(s.events)-1].Status)

	assert.ErrorIs(t, e.Remove(ctx, 7), apperrors.ErrDocumentNotFound)
}

func TestRebuild(t *testing.T) {
	nodes := newFakeNodes()
	nodes.put("http://n2", 1, "Title: One\n", "cat", "")
	nodes.put("http://n2", 2, "Title: Two\n", "dog", "")
	nodes.down["http://n1"] = true
	e, _ := newTestEngine(t, nodes, Config{})
	ctx := context.Background()

	res, err := e.Rebuild(ctx, []string{"http://n1", "http://n2"})
	require.NoError(t, err)
	assert.Equal(t, "http://n2", res.Source)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 2, res.Indexed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, res.FailedIDs)

	stats, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Docs)
}

func TestRebuildCountsFailures(t *testing.T) {
	nodes := &listOnly{fakeNodes: newFakeNodes(), extra: []content.DocID{99}}
	nodes.put("http://n1", 1, "Title: One\n", "cat", "")
	e := NewEngine(Config{LockWait: time.Second}, index.NewMemoryStore(), lock.NewLocal("t"), nodes)

	res, err := e.Rebuild(context.Background(), []string{"http://n1"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, []content.DocID{99}, res.FailedIDs)
}

func TestRebuildWithoutReachableOrigin(t *testing.T) {
	nodes := newFakeNodes()
	nodes.down["http://n1"] = true
	e, _ := newTestEngine(t, nodes, Config{})
	_, err := e.Rebuild(context.Background(), []string{"http://n1"})
	assert.ErrorIs(t, err, apperrors.ErrSourceUnreachable)
}

// listOnly advertises ids in its listing that it cannot serve.
type listOnly struct {
	*fakeNodes
	extra []content.DocID
}

func (l *listOnly) List(ctx context.Context, origin string) ([]content.DocID, error) {
	ids, err := l.fakeNodes.List(ctx, origin)
	return append(ids, l.extra...), err
}

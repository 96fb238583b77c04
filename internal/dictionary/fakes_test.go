package dictionary

import (
	"context"
	"errors"
	"io"
	"log"
	"sort"
	"strings"
	"sync"
)

var quietLogger = log.New(io.Discard, "", 0)

// scriptedGenerator answers each prompt through respond and counts calls.
type scriptedGenerator struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	systems []string
	respond func(prompt string) (string, error)
}

func (g *scriptedGenerator) Generate(ctx context.Context, prompt, system string, temperature float64) (string, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, prompt)
	g.systems = append(g.systems, system)
	g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return g.respond(prompt)
}

func (g *scriptedGenerator) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// responseByContent maps chunk content to a canned model response. Unknown
// content yields an empty component list.
func responseByContent(responses map[string]string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		for content, resp := range responses {
			if strings.Contains(prompt, content) {
				return resp, nil
			}
		}
		return `{"components":[]}`, nil
	}
}

type storedReference struct {
	Key string
	EvidenceItem
}

// memStore is an in-memory chunk source and dictionary store.
type memStore struct {
	mu         sync.Mutex
	chunks     map[string][]Chunk
	components map[string]ComponentRecord
	aliases    map[string]map[string]AliasSource
	references []storedReference

	deleteCalls    []string
	upsertCalls    int
	referenceCalls []int

	failUpsert    error
	failReference error
	failDelete    error
	failLoad      error
}

func newMemStore() *memStore {
	return &memStore{
		chunks:     make(map[string][]Chunk),
		components: make(map[string]ComponentRecord),
		aliases:    make(map[string]map[string]AliasSource),
	}
}

func (m *memStore) setChunks(docID string, contents ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := make([]Chunk, 0, len(contents))
	for _, c := range contents {
		list = append(list, Chunk{Content: c, DocID: docID})
	}
	m.chunks[docID] = list
}

func (m *memStore) LoadChunks(ctx context.Context, docIDs []string) ([]Chunk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failLoad != nil {
		return nil, m.failLoad
	}
	var out []Chunk
	for _, id := range docIDs {
		out = append(out, m.chunks[id]...)
	}
	return out, nil
}

func (m *memStore) UpsertComponent(ctx context.Context, key, displayName string, aliases []string) (ComponentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failUpsert != nil {
		return ComponentRecord{}, m.failUpsert
	}
	m.upsertCalls++
	rec := ComponentRecord{Key: key, DisplayName: displayName, Aliases: append([]string(nil), aliases...)}
	m.components[key] = rec
	return rec, nil
}

func (m *memStore) InsertAliases(ctx context.Context, key string, aliases []Alias) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.aliases[key]
	if !ok {
		set = make(map[string]AliasSource)
		m.aliases[key] = set
	}
	n := 0
	for _, a := range aliases {
		if _, dup := set[a.Text]; dup {
			continue
		}
		set[a.Text] = a.Source
		n++
	}
	return n, nil
}

func (m *memStore) InsertReferences(ctx context.Context, key string, refs []EvidenceItem) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReference != nil {
		return 0, m.failReference
	}
	m.referenceCalls = append(m.referenceCalls, len(refs))
	for _, r := range refs {
		m.references = append(m.references, storedReference{Key: key, EvidenceItem: r})
	}
	return len(refs), nil
}

func (m *memStore) DeleteReferencesByDoc(ctx context.Context, docID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	m.deleteCalls = append(m.deleteCalls, docID)
	kept := m.references[:0]
	for _, r := range m.references {
		if r.DocID != docID {
			kept = append(kept, r)
		}
	}
	m.references = kept
	return nil
}

// referencesFor returns a sorted, comparable view of one document's references.
func (m *memStore) referencesFor(docID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, r := range m.references {
		if r.DocID == docID {
			out = append(out, r.Key+"|"+r.SectionPath+"|"+r.EvidenceText)
		}
	}
	sort.Strings(out)
	return out
}

func (m *memStore) GetComponent(ctx context.Context, key string) (ComponentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.components[key]
	if !ok {
		return ComponentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListComponents(ctx context.Context, limit int) ([]ComponentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.components))
	for k := range m.components {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []ComponentRecord
	for _, k := range keys {
		if len(out) == limit {
			break
		}
		out = append(out, m.components[k])
	}
	return out, nil
}

func (m *memStore) ListReferences(ctx context.Context, key string, limit int) ([]ReferenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReferenceRecord
	for i, r := range m.references {
		if r.Key == key && len(out) < limit {
			out = append(out, ReferenceRecord{ID: int64(i + 1), ComponentKey: r.Key, EvidenceItem: r.EvidenceItem})
		}
	}
	return out, nil
}

func (m *memStore) ListReferencesByDoc(ctx context.Context, docID string, limit int) ([]ReferenceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ReferenceRecord
	for i, r := range m.references {
		if r.DocID == docID && len(out) < limit {
			out = append(out, ReferenceRecord{ID: int64(i + 1), ComponentKey: r.Key, EvidenceItem: r.EvidenceItem})
		}
	}
	return out, nil
}

func (m *memStore) FindComponents(ctx context.Context, query string, limit int) ([]ComponentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(query)
	keys := make([]string, 0, len(m.components))
	for k := range m.components {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []ComponentRecord
	for _, k := range keys {
		rec := m.components[k]
		if ScoreMatch(q, rec) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memStore) ComponentNames(ctx context.Context, keys []string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		if rec, ok := m.components[k]; ok {
			out[k] = rec.DisplayName
		}
	}
	return out, nil
}

// countingLocker wraps a mutex per key and records the maximum number of
// concurrent holders of any key.
type countingLocker struct {
	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	held    map[string]int
	maxHeld int
	err     error
}

func newCountingLocker() *countingLocker {
	return &countingLocker{locks: make(map[string]*sync.Mutex), held: make(map[string]int)}
}

func (l *countingLocker) Lock(ctx context.Context, key string) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	l.mu.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mu.Unlock()
	m.Lock()
	l.mu.Lock()
	l.held[key]++
	if l.held[key] > l.maxHeld {
		l.maxHeld = l.held[key]
	}
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.held[key]--
		l.mu.Unlock()
		m.Unlock()
	}, nil
}

var errStoreDown = errors.New("store unavailable")

var errLeaseLost = errors.New("lease lost")

// leaseLocker hands out a lease context that lose cancels.
type leaseLocker struct {
	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	released bool
}

func (l *leaseLocker) Lock(ctx context.Context, key string) (func(), error) {
	_, unlock, err := l.LockLease(ctx, key)
	return unlock, err
}

func (l *leaseLocker) LockLease(ctx context.Context, key string) (context.Context, func(), error) {
	leaseCtx, cancel := context.WithCancelCause(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()
	return leaseCtx, func() {
		l.mu.Lock()
		l.released = true
		l.mu.Unlock()
		cancel(nil)
	}, nil
}

func (l *leaseLocker) lose() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		l.cancel(errLeaseLost)
	}
}

package vectorstore

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
)

var errRemoteDown = errors.New("connection refused")

// fakeRemote is an in-memory RemoteBackend with scriptable failures.
type fakeRemote struct {
	mu sync.Mutex

	addCalls    int
	queryCalls  int
	deleteCalls int
	closed      bool

	// failAddOn lists 1-based Add call numbers that fail.
	failAddOn   map[int]bool
	queryErr    error
	deleteErr   error
	queryResult []ScoredResult

	stored map[string][]Fragment
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		failAddOn: make(map[int]bool),
		stored:    make(map[string][]Fragment),
	}
}

func (f *fakeRemote) Add(ctx context.Context, namespace string, fragments []Fragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.failAddOn[f.addCalls] {
		return errRemoteDown
	}
	f.stored[namespace] = append(f.stored[namespace], fragments...)
	return nil
}

func (f *fakeRemote) Query(ctx context.Context, namespace, text string, topK int) ([]ScoredResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryResult != nil {
		out := make([]ScoredResult, len(f.queryResult))
		copy(out, f.queryResult)
		return out, nil
	}
	var out []ScoredResult
	for i, frag := range f.stored[namespace] {
		out = append(out, ScoredResult{Fragment: frag, Score: 1 - float64(i)*0.01})
	}
	return out, nil
}

func (f *fakeRemote) DeleteNamespace(ctx context.Context, namespace string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.stored, namespace)
	return nil
}

func (f *fakeRemote) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeRemote) counts() (adds, queries, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addCalls, f.queryCalls, f.deleteCalls
}

func (f *fakeRemote) storedCount(namespace string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored[namespace])
}

// fullCredentials satisfies both credential checks.
var fullCredentials = Credentials{EmbeddingAPIKey: "embed-key", VectorAPIKey: "vector-key"}

// remoteStore returns a store whose factory always yields remote.
func remoteStore(remote *fakeRemote) (*Store, *int) {
	calls := new(int)
	store := NewStore(StoreOptions{
		Credentials: StaticCredentials(fullCredentials),
		Remote: func(ctx context.Context, creds Credentials) (RemoteBackend, error) {
			*calls++
			return remote, nil
		},
	})
	return store, calls
}

// hashEmbedder produces deterministic bag-of-words vectors. Every vector has
// a constant component so none is zero (chromem normalizes vectors).
type hashEmbedder struct {
	dims int
	err  error
}

func (h *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if h.err != nil {
		return nil, h.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if h.err != nil {
		return nil, h.err
	}
	return h.embed(text), nil
}

func (h *hashEmbedder) embed(text string) []float32 {
	dims := h.dims
	if dims == 0 {
		dims = 64
	}
	vec := make([]float32, dims)
	vec[0] = 0.1
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		hf := fnv.New32a()
		_, _ = hf.Write([]byte(tok))
		vec[1+int(hf.Sum32())%(dims-1)] += 1
	}
	return vec
}

func texts(contents ...string) ([]string, []Metadata) {
	metas := make([]Metadata, len(contents))
	for i := range contents {
		metas[i] = Metadata{Source: "policy.pdf", ChatID: "chat-1"}
	}
	return contents, metas
}

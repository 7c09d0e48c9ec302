package vectorstore

import (
	"sort"
	"strings"
	"sync"
	"unicode"
)

// MaxScoredTokens is the number of leading document tokens considered when
// scoring. Tokens past the cap never contribute to a score, which keeps the
// cost of one comparison independent of fragment length.
const MaxScoredTokens = 500

// LocalIndex is the in-process fallback store: an append-only list of
// fragments per namespace, scored by keyword overlap.
//
// Thread-safe. One coarse lock covers all namespaces.
type LocalIndex struct {
	mu         sync.RWMutex
	namespaces map[string][]Fragment
}

// NewLocalIndex creates an empty index.
func NewLocalIndex() *LocalIndex {
	return &LocalIndex{namespaces: make(map[string][]Fragment)}
}

// Add appends copies of fragments to namespace in one step. Stored
// fragments share no metadata map with the caller.
func (l *LocalIndex) Add(namespace string, fragments []Fragment) int {
	if len(fragments) == 0 {
		return 0
	}
	owned := make([]Fragment, len(fragments))
	for i, f := range fragments {
		f.Metadata = f.Metadata.Clone()
		owned[i] = f
	}
	l.mu.Lock()
	l.namespaces[namespace] = append(l.namespaces[namespace], owned...)
	l.mu.Unlock()
	return len(owned)
}

// Query scores every fragment of namespace against query and returns the
// best topK. Equal scores keep insertion order.
func (l *LocalIndex) Query(namespace, query string, topK int) []ScoredResult {
	if topK <= 0 {
		return []ScoredResult{}
	}

	l.mu.RLock()
	// Appends never rewrite existing elements, so the slice header is a
	// consistent snapshot once the lock is released.
	frags := l.namespaces[namespace]
	l.mu.RUnlock()

	if len(frags) == 0 {
		return []ScoredResult{}
	}

	queryTokens := QueryTokens(query)
	results := make([]ScoredResult, len(frags))
	for i, f := range frags {
		results[i] = ScoredResult{Fragment: f, Score: OverlapScore(queryTokens, f.Content)}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > topK {
		results = results[:topK]
	}
	for i := range results {
		results[i].Fragment.Metadata = results[i].Fragment.Metadata.Clone()
	}
	return results
}

// Delete drops namespace. Unknown namespaces are ignored.
func (l *LocalIndex) Delete(namespace string) {
	l.mu.Lock()
	delete(l.namespaces, namespace)
	l.mu.Unlock()
}

// Namespaces returns the namespaces currently held, sorted.
func (l *LocalIndex) Namespaces() []string {
	l.mu.RLock()
	names := make([]string, 0, len(l.namespaces))
	for ns := range l.namespaces {
		names = append(names, ns)
	}
	l.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Len returns the number of fragments held for namespace.
func (l *LocalIndex) Len(namespace string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.namespaces[namespace])
}

// QueryTokens splits on whitespace, keeps purely alphanumeric tokens and
// lowercases them.
func QueryTokens(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if isAlphanumeric(f) {
			tokens = append(tokens, strings.ToLower(f))
		}
	}
	return tokens
}

// DocumentTokens splits on whitespace, lowercases and keeps at most
// MaxScoredTokens tokens.
func DocumentTokens(content string) []string {
	fields := strings.Fields(content)
	if len(fields) > MaxScoredTokens {
		fields = fields[:MaxScoredTokens]
	}
	for i, f := range fields {
		fields[i] = strings.ToLower(f)
	}
	return fields
}

// OverlapScore is the multiset intersection size of the query tokens and the
// document tokens divided by the number of query tokens. An empty query
// scores 0.
func OverlapScore(queryTokens []string, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}

	queryCounts := make(map[string]int, len(queryTokens))
	for _, t := range queryTokens {
		queryCounts[t]++
	}

	docCounts := make(map[string]int)
	for _, t := range DocumentTokens(content) {
		if _, ok := queryCounts[t]; ok {
			docCounts[t]++
		}
	}

	overlap := 0
	for t, qc := range queryCounts {
		overlap += min(qc, docCounts[t])
	}
	return float64(overlap) / float64(len(queryTokens))
}

func isAlphanumeric(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsNumber(r) {
			return false
		}
	}
	return true
}

package http

// CountLocal sums the fragments held in the local index across namespaces.
//
// Remote fragments are not counted: the remote service does not expose
// per-namespace counts and the local index is authoritative once the store
// has fallen back.
func CountLocal(store Store) StatusCounts {
	if store == nil {
		return StatusCounts{Namespaces: -1, Fragments: -1}
	}

	namespaces := store.BackendStatus().LocalNamespaces
	counts := StatusCounts{Namespaces: len(namespaces)}
	for _, ns := range namespaces {
		counts.Fragments += store.LocalLen(ns)
	}
	return counts
}

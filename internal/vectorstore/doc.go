// Package vectorstore provides namespace-scoped fragment storage with
// transparent fallback from a remote vector database to an in-process
// keyword index.
//
// The Store routes every call through a mode controller with three states:
//
//	uninitialized --(credentials present, remote constructed)--> remote
//	uninitialized --(credentials missing or construction failed)--> fallback
//	remote --(any add/query failure)--> fallback
//
// Nothing leaves fallback. Once demoted, the process keeps answering from
// the LocalIndex until it is restarted.
//
// # Backends
//
// Remote backends implement RemoteBackend:
//   - QdrantBackend: one Qdrant collection, namespaces held in a keyword
//     payload field (default)
//   - ChromemBackend: embedded chromem-go database, one collection per
//     namespace
//
// Both embed text through an Embedder (see internal/embeddings).
//
// The LocalIndex scores fragments by multiset token overlap with the query.
// It is a degraded path, not a semantic search; scores from the two
// backends are not comparable.
//
// # Usage
//
//	store, err := vectorstore.NewStoreFromConfig(cfg, embeddings.NewGeminiFactory(cfg.Embeddings, logger), logger, publisher)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	res, err := store.AddTexts(ctx, texts, metas, "chat-1")
//	hits, err := store.QueryWithScores(ctx, "knee surgery", 5, "chat-1")
//	store.DeleteNamespace(ctx, "chat-1")
package vectorstore

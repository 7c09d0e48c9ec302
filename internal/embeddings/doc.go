// Package embeddings turns text into vectors with Google's Gemini embedding
// models.
//
// Documents and queries are embedded with different task types
// (RETRIEVAL_DOCUMENT and RETRIEVAL_QUERY). Document batches are split to
// the API's per-request limit.
//
// NewGeminiFactory is handed to the vector store, which builds the embedder
// only once the embedding API key is known.
package embeddings

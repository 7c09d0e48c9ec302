// Package query answers questions against a chat's uploaded documents.
//
// Pipeline.Answer runs the per-chat flow: an optional chat title, entity
// extraction, retrieval from the vector store, a relevance gate and the
// reasoning call. Pipeline.Run is the stateless variant: it ingests a set
// of documents under a throwaway namespace, answers several questions
// concurrently and always deletes the namespace afterwards.
package query

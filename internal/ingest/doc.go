// Package ingest turns uploaded documents into stored fragments.
//
// Each file is parsed by extension (see docparse), split with a recursive
// character splitter, and written to the vector store under the chat's
// namespace with source, chat_id and partial metadata. A report per file
// records where the chunks landed.
package ingest

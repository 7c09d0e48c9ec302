// Package reasoning turns retrieved policy clauses into structured answers.
//
// A Reasoner drives three structured-output calls against an LLM:
//
//   - GenerateTitle names a new chat from its first message.
//   - ExtractEntities pulls the procedure and claimed cost out of a query.
//   - Reason decides a claim, or answers a general question, from the
//     retrieved evidence and cites the clauses it used.
//
// Calls are rate limited and retried with exponential backoff on transient
// failures. GeminiLLM is the production LLM; tests substitute their own.
package reasoning

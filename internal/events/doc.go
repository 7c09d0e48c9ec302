// Package events publishes store and ingestion events to NATS.
//
// Subjects, relative to a configurable prefix (default "policyqa"):
//
//	<prefix>.vectorstore.mode   vectorstore.ModeTransition as JSON
//	<prefix>.ingest.report      IngestEvent as JSON
//
// Publishing is fire-and-forget: failures are logged and never reach the
// store or the ingester.
package events

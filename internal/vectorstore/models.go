package vectorstore

import (
	"fmt"
	"maps"
	"strconv"
	"time"
)

// Metadata keys used on the wire.
const (
	MetaSource    = "source"
	MetaChatID    = "chat_id"
	MetaPartial   = "partial"
	MetaNamespace = "namespace"
	MetaContent   = "content"
	MetaID        = "id"
)

// Metadata describes where a fragment came from.
type Metadata struct {
	// Source is the originating filename.
	Source string `json:"source"`

	// ChatID is the chat session the fragment belongs to. It doubles as the
	// namespace for chat uploads.
	ChatID string `json:"chat_id"`

	// Partial marks fragments from a document whose extraction was degraded.
	Partial bool `json:"partial,omitempty"`

	// Extra holds additional scalar values (string, bool, int, int64, float64).
	Extra map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy that shares no map with m.
func (m Metadata) Clone() Metadata {
	m.Extra = maps.Clone(m.Extra)
	return m
}

// ToMap flattens the metadata into scalar key/value pairs.
func (m Metadata) ToMap() map[string]any {
	out := make(map[string]any, len(m.Extra)+3)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Source != "" {
		out[MetaSource] = m.Source
	}
	if m.ChatID != "" {
		out[MetaChatID] = m.ChatID
	}
	if m.Partial {
		out[MetaPartial] = true
	}
	return out
}

// MetadataFromMap is the inverse of ToMap. Reserved payload keys written by
// remote backends (content, id, namespace) are dropped.
func MetadataFromMap(in map[string]any) Metadata {
	var m Metadata
	for k, v := range in {
		switch k {
		case MetaSource:
			m.Source = fmt.Sprint(v)
		case MetaChatID:
			m.ChatID = fmt.Sprint(v)
		case MetaPartial:
			m.Partial = parseBool(v)
		case MetaContent, MetaID, MetaNamespace:
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	return m
}

func parseBool(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(val)
		return b
	default:
		return false
	}
}

// Fragment is an immutable unit of retrievable text.
type Fragment struct {
	ID       string   `json:"id"`
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
}

// ScoredResult pairs a fragment with its relevance score.
//
// Remote scores are service-defined similarities; local scores are overlap
// ratios in [0,1]. Only compare scores within one result set.
type ScoredResult struct {
	Fragment Fragment `json:"fragment"`
	Score    float64  `json:"score"`
}

// Backend names the store that persisted or answered a call.
type Backend string

const (
	BackendRemote Backend = "remote"
	BackendLocal  Backend = "local"
)

// AddResult reports where an AddTexts call was persisted.
type AddResult struct {
	Backend Backend `json:"backend"`
	Count   int     `json:"count"`
}

// Mode is the routing state of the store.
type Mode int32

const (
	ModeUninitialized Mode = iota
	ModeRemote
	ModeFallback
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	switch m {
	case ModeUninitialized:
		return "uninitialized"
	case ModeRemote:
		return "remote"
	case ModeFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// BackendStatus is a point-in-time snapshot of the store.
type BackendStatus struct {
	// FallbackMode is true once the store routes everything locally.
	FallbackMode bool `json:"fallback_mode"`

	// RemoteInitialized is true once a remote client was constructed in this
	// process. It stays true after a later demotion.
	RemoteInitialized bool `json:"remote_initialized"`

	// LocalNamespaces lists namespaces held by the local index, sorted.
	LocalNamespaces []string `json:"local_namespaces"`
}

// ModeTransition describes one change of Mode.
type ModeTransition struct {
	From      Mode      `json:"-"`
	To        Mode      `json:"-"`
	FromName  string    `json:"from"`
	ToName    string    `json:"to"`
	Reason    string    `json:"reason"`
	Operation string    `json:"operation,omitempty"`
	Namespace string    `json:"namespace,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Transition reasons.
const (
	ReasonCredentialsMissing = "credentials_missing"
	ReasonConstructionFailed = "construction_failed"
	ReasonConstructed        = "constructed"
	ReasonRemoteFailure      = "remote_failure"
	ReasonClosed             = "closed"
)

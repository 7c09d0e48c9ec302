// Package sanitize validates the user-supplied identifiers that reach
// storage: uploaded file names and chat namespaces.
package sanitize

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxFilenameLength is the longest accepted file name, in bytes.
	MaxFilenameLength = 255

	// MaxChatIDLength is the longest accepted chat ID, in bytes.
	MaxChatIDLength = 128
)

var (
	// ErrInvalidFilename indicates an unusable upload file name.
	ErrInvalidFilename = errors.New("invalid file name")

	// ErrInvalidChatID indicates a chat ID that cannot be used as a namespace.
	ErrInvalidChatID = errors.New("invalid chat_id")
)

// Filename returns the base name of an uploaded file.
//
// Browsers on some platforms send the full client path, so both / and \ are
// treated as separators and only the last element is kept.
//
// Examples:
//
//	"policy.pdf"                 -> "policy.pdf"
//	"C:\\Users\\me\\claim.eml"   -> "claim.eml"
//	"../../etc/passwd.pdf"       -> "passwd.pdf"
//	"" or ".." or "dir/"         -> ErrInvalidFilename
func Filename(name string) (string, error) {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSpace(name)

	switch {
	case name == "" || name == "." || name == "..":
		return "", fmt.Errorf("%w: empty base name", ErrInvalidFilename)
	case len(name) > MaxFilenameLength:
		return "", fmt.Errorf("%w: longer than %d bytes", ErrInvalidFilename, MaxFilenameLength)
	case !utf8.ValidString(name):
		return "", fmt.Errorf("%w: not valid UTF-8", ErrInvalidFilename)
	case hasControl(name):
		return "", fmt.Errorf("%w: contains control characters", ErrInvalidFilename)
	}
	return name, nil
}

// ChatID checks a chat ID before it is used as a namespace. IDs are opaque:
// any printable UTF-8 string up to MaxChatIDLength bytes is accepted.
func ChatID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return fmt.Errorf("%w: empty", ErrInvalidChatID)
	case len(id) > MaxChatIDLength:
		return fmt.Errorf("%w: longer than %d bytes", ErrInvalidChatID, MaxChatIDLength)
	case !utf8.ValidString(id):
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidChatID)
	case hasControl(id):
		return fmt.Errorf("%w: contains control characters", ErrInvalidChatID)
	}
	return nil
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}

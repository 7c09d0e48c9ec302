// Package docparse extracts plain text from uploaded policy documents.
//
// Supported formats are chosen by file extension, case-insensitively:
// .pdf, .docx and .eml.
package docparse

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedType is returned for extensions no parser handles.
	ErrUnsupportedType = errors.New("unsupported file type")

	// ErrMalformed is returned when a file cannot be read as its format.
	ErrMalformed = errors.New("malformed document")
)

// Document is the text extracted from one file.
type Document struct {
	// Text is the extracted text. It may be empty.
	Text string

	// Partial is set when some of the file could not be read (for example
	// a PDF page whose content stream failed to decode).
	Partial bool

	// Warnings describe what was skipped when Partial is set.
	Warnings []string
}

// Parser extracts text from one document format.
type Parser interface {
	Parse(data []byte) (Document, error)
}

// ParserFunc adapts a function to Parser.
type ParserFunc func(data []byte) (Document, error)

// Parse calls f.
func (f ParserFunc) Parse(data []byte) (Document, error) { return f(data) }

var parsers = map[string]Parser{
	".pdf":  ParserFunc(ParsePDF),
	".docx": ParserFunc(ParseDOCX),
	".eml":  ParserFunc(ParseEML),
}

// Supported reports whether filename has a supported extension.
func Supported(filename string) bool {
	_, ok := parsers[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Extensions lists the supported extensions.
func Extensions() []string {
	return []string{".pdf", ".docx", ".eml"}
}

// Parse extracts text from data, choosing the parser by filename's
// extension.
func Parse(filename string, data []byte) (Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	p, ok := parsers[ext]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedType, filename)
	}

	doc, err := p.Parse(data)
	if err != nil {
		return Document{}, fmt.Errorf("parsing %s: %w", filename, err)
	}
	return doc, nil
}

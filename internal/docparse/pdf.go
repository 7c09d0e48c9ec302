package docparse

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ParsePDF concatenates the plain text of every page, one page per line
// group. Pages that fail to decode are skipped and mark the result partial.
func ParsePDF(data []byte) (doc Document, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: pdf: %v", ErrMalformed, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("%w: pdf: %v", ErrMalformed, err)
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		text, perr := pageText(r.Page(i))
		if perr != nil {
			doc.Partial = true
			doc.Warnings = append(doc.Warnings, fmt.Sprintf("page %d: %v", i, perr))
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}

	doc.Text = sb.String()
	return doc, nil
}

func pageText(p pdf.Page) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoding content: %v", r)
		}
	}()
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

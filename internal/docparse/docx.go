package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBody = "word/document.xml"

// wordprocessingML namespace for w: elements.
const wordNS = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"

// ParseDOCX returns the paragraph text of the main document part, one
// paragraph per line.
func ParseDOCX(data []byte) (Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Document{}, fmt.Errorf("%w: docx: %v", ErrMalformed, err)
	}

	var body *zip.File
	for _, f := range zr.File {
		if f.Name == docxBody {
			body = f
			break
		}
	}
	if body == nil {
		return Document{}, fmt.Errorf("%w: docx: missing %s", ErrMalformed, docxBody)
	}

	rc, err := body.Open()
	if err != nil {
		return Document{}, fmt.Errorf("%w: docx: %v", ErrMalformed, err)
	}
	defer rc.Close()

	text, err := paragraphs(rc)
	if err != nil {
		return Document{}, fmt.Errorf("%w: docx: %v", ErrMalformed, err)
	}
	return Document{Text: text}, nil
}

// paragraphs walks document.xml collecting w:t runs. Tabs and breaks inside
// a paragraph are kept; each w:p ends with a newline.
func paragraphs(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)

	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			if t.Name.Space != wordNS {
				continue
			}
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
}

package docparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

const (
	defaultSubject = "No Subject"
	defaultSender  = "Unknown Sender"
)

var headerDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// charsetReader decodes encoded-word headers in any IANA charset.
func charsetReader(charset string, input io.Reader) (io.Reader, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	return transform.NewReader(input, enc.NewDecoder()), nil
}

// lookupCharset resolves an IANA charset name. US-ASCII, the default for
// a missing name, and UTF-8 pass through unchanged and are validated by the
// caller.
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return encoding.Nop, nil
	}
	enc, err := ianaindex.MIME.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		// Known to IANA but not supported by x/text.
		return nil, fmt.Errorf("unsupported charset %q", name)
	}
	return enc, nil
}

// ParseEML renders an email as
//
//	Email from: <From>
//	Subject: <Subject>
//
//	<body>
//
// The body is the concatenation of every text/plain part that is not an
// attachment.
func ParseEML(data []byte) (Document, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("%w: eml: %v", ErrMalformed, err)
	}

	sender := decodeHeader(msg.Header.Get("From"), defaultSender)
	subject := decodeHeader(msg.Header.Get("Subject"), defaultSubject)

	var body strings.Builder
	doc := Document{}
	if err := collectPlainText(&body, msg.Header, msg.Body); err != nil {
		doc.Partial = true
		doc.Warnings = append(doc.Warnings, err.Error())
	}

	doc.Text = fmt.Sprintf("Email from: %s\nSubject: %s\n\n%s", sender, subject, body.String())
	return doc, nil
}

func decodeHeader(v, fallback string) string {
	if v == "" {
		return fallback
	}
	if decoded, err := headerDecoder.DecodeHeader(v); err == nil {
		v = decoded
	}
	return strings.ToValidUTF8(v, "\uFFFD")
}

// partHeader is the subset of MIME headers a part needs.
type partHeader interface {
	Get(key string) string
}

// collectPlainText appends the decoded text/plain content of a part,
// descending into multipart containers.
func collectPlainText(sb *strings.Builder, h partHeader, r io.Reader) error {
	mediaType, params, err := mime.ParseMediaType(h.Get("Content-Type"))
	if err != nil {
		// A missing or unparsable Content-Type is text/plain.
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return errors.New("multipart message without boundary")
		}
		mr := multipart.NewReader(r, boundary)
		var errs []error
		for {
			part, err := mr.NextRawPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errs = append(errs, err)
				break
			}
			if err := collectPlainText(sb, part.Header, part); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	if mediaType != "text/plain" || isAttachment(h.Get("Content-Disposition")) {
		return nil
	}

	content, err := io.ReadAll(decodeTransfer(h.Get("Content-Transfer-Encoding"), r))
	if err != nil {
		return fmt.Errorf("reading text part: %w", err)
	}
	text, err := decodeCharset(params["charset"], content)
	sb.WriteString(text)
	return err
}

// decodeCharset converts a text part to UTF-8. A part in an unknown
// charset, or one that is not valid in the charset it declares, keeps its
// valid UTF-8 runs and reports an error so the document is marked partial.
func decodeCharset(charset string, content []byte) (string, error) {
	enc, err := lookupCharset(charset)
	if err == nil {
		var decoded []byte
		decoded, _, err = transform.Bytes(enc.NewDecoder(), content)
		if err == nil {
			content = decoded
		}
	}
	if err == nil && !utf8.Valid(content) {
		err = fmt.Errorf("text part is not valid %s", charsetName(charset))
	}
	return strings.ToValidUTF8(string(content), "\uFFFD"), err
}

func charsetName(charset string) string {
	if charset == "" {
		return "us-ascii"
	}
	return charset
}

func isAttachment(disposition string) bool {
	if disposition == "" {
		return false
	}
	d, _, err := mime.ParseMediaType(disposition)
	if err != nil {
		return strings.Contains(strings.ToLower(disposition), "attachment")
	}
	return d == "attachment"
}

func decodeTransfer(encoding string, r io.Reader) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, &newlineStripper{r: r})
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// newlineStripper drops CR and LF so base64 bodies wrapped at 76 columns
// decode.
type newlineStripper struct {
	r io.Reader
}

func (n *newlineStripper) Read(p []byte) (int, error) {
	for {
		c, err := n.r.Read(p)
		out := 0
		for _, b := range p[:c] {
			if b != '\r' && b != '\n' {
				p[out] = b
				out++
			}
		}
		if out > 0 || err != nil {
			return out, err
		}
	}
}

// Package resumetext turns an uploaded resume file (PDF, DOCX or plain text)
// into the plain text used as a profile's base resume.
package resumetext

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"

	"github.com/jonathan/applymate/internal/extraction"
)

// Content types of the accepted formats.
const (
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	ContentTypeText = "text/plain"
)

// ErrUnsupported is returned for files that are not PDF, DOCX or text.
var ErrUnsupported = errors.New("unsupported resume format")

// Error reports a file that has a supported format but yields no usable text.
type Error struct {
	Filename string
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Filename, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Filename, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// ContentType returns the content type for filename's extension, or
// ErrUnsupported.
func ContentType(filename string) (string, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return ContentTypePDF, nil
	case ".docx":
		return ContentTypeDOCX, nil
	case ".txt", ".md":
		return ContentTypeText, nil
	default:
		return "", fmt.Errorf("%w: %q (expected .pdf, .docx or .txt)", ErrUnsupported, filepath.Ext(filename))
	}
}

// Extract returns the cleaned text of data, choosing the parser by the
// file extension. Empty results are an *Error.
func Extract(filename string, data []byte) (string, error) {
	contentType, err := ContentType(filename)
	if err != nil {
		return "", err
	}

	var text string
	switch contentType {
	case ContentTypePDF:
		text, err = pdfText(data)
	case ContentTypeDOCX:
		text, err = docxText(data)
	default:
		if !utf8.Valid(data) {
			err = errors.New("not valid UTF-8")
		}
		text = string(data)
	}
	if err != nil {
		return "", &Error{Filename: filename, Message: "failed to read " + contentType, Cause: err}
	}

	text = cleanLines(text)
	if text == "" {
		return "", &Error{Filename: filename, Message: "no text found"}
	}
	return text, nil
}

func pdfText(data []byte) (text string, err error) {
	// The parser panics on some malformed streams.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func docxText(data []byte) (string, error) {
	d, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	defer func() { _ = d.Close() }()
	return paragraphs(d.Editable().GetContent())
}

// paragraphs walks WordprocessingML and keeps the text runs, one line per
// paragraph.
func paragraphs(documentXML string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(documentXML))
	var (
		sb     strings.Builder
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
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
	return sb.String(), nil
}

// cleanLines normalises each line and drops runs of blank lines.
func cleanLines(text string) string {
	var out []string
	blank := false
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = extraction.Clean(line)
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

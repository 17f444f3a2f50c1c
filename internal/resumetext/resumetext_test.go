package resumetext

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a one-page PDF that shows each line with Helvetica.
func buildPDF(t *testing.T, lines ...string) []byte {
	t.Helper()
	var content strings.Builder
	content.WriteString("BT /F1 12 Tf 72 720 Td 14 TL\n")
	for i, line := range lines {
		if i > 0 {
			content.WriteString("T*\n")
		}
		fmt.Fprintf(&content, "(%s) Tj\n", line)
	}
	content.WriteString("ET")

	objects := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 4 0 R >> >> /Contents 5 0 R >>",
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
		fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", content.Len(), content.String()),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objects)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

// buildDOCX zips a minimal WordprocessingML package with one paragraph per
// entry of paras.
func buildDOCX(t *testing.T, paras ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paras {
		fmt.Fprintf(&body, `<w:p><w:r><w:t xml:space="preserve">%s</w:t></w:r></w:p>`, p)
	}
	files := map[string]string{
		"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8"?><Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types"></Types>`,
		"word/document.xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
			`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>` +
			body.String() + `</w:body></w:document>`,
		"word/_rels/document.xml.rels": `<?xml version="1.0" encoding="UTF-8"?><Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships"></Relationships>`,
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(data))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestContentType(t *testing.T) {
	tests := []struct {
		filename string
		want     string
		wantErr  bool
	}{
		{"resume.pdf", ContentTypePDF, false},
		{"Resume.PDF", ContentTypePDF, false},
		{"cv.docx", ContentTypeDOCX, false},
		{"notes.txt", ContentTypeText, false},
		{"old.doc", "", true},
		{"photo.png", "", true},
		{"noext", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			got, err := ContentType(tt.filename)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupported)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_PDF(t *testing.T) {
	data := buildPDF(t, "Jane Doe", "Senior Go engineer")

	text, err := Extract("resume.pdf", data)
	require.NoError(t, err)
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "Senior Go engineer")
}

func TestExtract_DOCX(t *testing.T) {
	data := buildDOCX(t, "Jane Doe", "Experience", "Built   payment   services in Go")

	text, err := Extract("resume.docx", data)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\nExperience\nBuilt payment services in Go", text)
}

func TestExtract_Text(t *testing.T) {
	text, err := Extract("resume.txt", []byte("Jane Doe\r\n\r\n\r\n  Go engineer  \n"))
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe\n\nGo engineer", text)
}

func TestExtract_Failures(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		data     []byte
	}{
		{"truncated pdf", "resume.pdf", []byte("%PDF-1.4\n1 0 obj\n")},
		{"not a pdf", "resume.pdf", []byte("plain words pretending to be a PDF")},
		{"not a zip", "resume.docx", []byte("definitely not a zip archive")},
		{"docx without paragraphs", "resume.docx", buildDOCX(t)},
		{"blank text", "resume.txt", []byte("  \n\t\n")},
		{"binary text", "resume.txt", []byte{0xff, 0xfe, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.filename, tt.data)
			var re *Error
			require.True(t, errors.As(err, &re), "got %v", err)
			assert.Equal(t, tt.filename, re.Filename)
			assert.NotErrorIs(t, err, ErrUnsupported)
		})
	}
}

func TestExtract_Unsupported(t *testing.T) {
	_, err := Extract("resume.odt", []byte("anything"))
	assert.ErrorIs(t, err, ErrUnsupported)
}

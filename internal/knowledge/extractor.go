// Package knowledge turns uploaded reference files into scored text snippets
// for grounding chat replies. Extraction is best-effort: binary formats
// degrade to a printable-text scan instead of failing a search.
package knowledge

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// ErrUnsupportedFormat is returned for content types the extractor does not
// handle. Hard failure at upload time; skip-the-file at query time.
var ErrUnsupportedFormat = errors.New("unsupported content type")

// Content types accepted by the corpus.
const (
	ContentTypeText = "text/plain"
	ContentTypePDF  = "application/pdf"
	ContentTypeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// SupportedContentTypes maps accepted MIME types to their file extensions.
var SupportedContentTypes = map[string]string{
	ContentTypeText: ".txt",
	ContentTypePDF:  ".pdf",
	ContentTypeDOCX: ".docx",
}

var (
	pdfTextOp   = regexp.MustCompile(`\(((?:[^()\\]|\\.)*)\)\s*T[jJ]`)
	xmlTag      = regexp.MustCompile(`<[^>]+>`)
	multiSpace  = regexp.MustCompile(`\s+`)
	pdfEscaping = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`)
)

// Extract converts file bytes into plain text based on the content type.
func Extract(data []byte, contentType string) (string, error) {
	switch contentType {
	case ContentTypeText:
		return ExtractText(data), nil
	case ContentTypePDF:
		return ExtractPDF(data), nil
	case ContentTypeDOCX:
		return ExtractDOCX(data), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, contentType)
	}
}

// ExtractText decodes bytes as UTF-8, replacing invalid sequences.
func ExtractText(data []byte) string {
	return strings.ToValidUTF8(string(data), "�")
}

// ExtractPDF attempts a structured pass over uncompressed PDF text operators
// and falls back to a printable scan when that yields nothing. Compressed
// streams always take the fallback path: noisy text beats no text.
func ExtractPDF(data []byte) string {
	if text := extractPDFOperators(data); text != "" {
		return text
	}
	return FallbackScan(data)
}

// extractPDFOperators pulls literal strings fed to the Tj/TJ show-text
// operators. Works only on uncompressed content streams.
func extractPDFOperators(data []byte) string {
	matches := pdfTextOp.FindAllSubmatch(data, -1)
	if len(matches) == 0 {
		return ""
	}
	var b strings.Builder
	for _, m := range matches {
		b.WriteString(pdfEscaping.Replace(string(m[1])))
		b.WriteByte(' ')
	}
	return strings.TrimSpace(collapseWhitespace(ExtractText([]byte(b.String()))))
}

// ExtractDOCX reads word/document.xml from the DOCX archive and strips the
// XML markup. Malformed archives degrade to a printable scan.
func ExtractDOCX(data []byte) string {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return FallbackScan(data)
	}
	for _, f := range r.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			break
		}
		xmlData, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			break
		}
		text := xmlTag.ReplaceAllString(ExtractText(xmlData), " ")
		return strings.TrimSpace(collapseWhitespace(text))
	}
	return FallbackScan(data)
}

// FallbackScan extracts whatever printable text a binary blob contains:
// non-printable bytes become spaces, then runs of whitespace collapse.
func FallbackScan(data []byte) string {
	cleaned := make([]byte, len(data))
	for i, c := range data {
		if (c >= 0x20 && c <= 0x7E) || c == '\n' || c == '\r' || c == '\t' {
			cleaned[i] = c
		} else {
			cleaned[i] = ' '
		}
	}
	return strings.TrimSpace(collapseWhitespace(string(cleaned)))
}

func collapseWhitespace(s string) string {
	return multiSpace.ReplaceAllString(s, " ")
}

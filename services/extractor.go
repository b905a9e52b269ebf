package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"pharma-docs-platform/internal/config"
)

// DocumentExtractor turns uploaded documents into plain text. PDF pages are
// joined with form feeds so the chunker can re-derive page numbers from the
// text itself.
type DocumentExtractor struct {
	config *config.Config
}

func NewDocumentExtractor(cfg *config.Config) *DocumentExtractor {
	return &DocumentExtractor{config: cfg}
}

// Extract reads the document at path and returns its text. Unknown extensions
// yield *UnsupportedFormatError, extraction failures *DocumentProcessingError.
func (e *DocumentExtractor) Extract(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return e.extractPDF(path)
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", &DocumentProcessingError{Path: path, Err: err}
		}
		return string(data), nil
	default:
		return "", &UnsupportedFormatError{Path: path, Ext: ext}
	}
}

func (e *DocumentExtractor) extractPDF(path string) (string, error) {
	if e.config != nil && e.config.MaxFileSize > 0 {
		stat, err := os.Stat(path)
		if err != nil {
			return "", &DocumentProcessingError{Path: path, Err: err}
		}
		if stat.Size() > e.config.MaxFileSize {
			return "", &DocumentProcessingError{Path: path, Err: fmt.Errorf("pdf exceeds %d byte limit", e.config.MaxFileSize)}
		}
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", &DocumentProcessingError{Path: path, Err: err}
	}
	defer f.Close()

	var sb strings.Builder
	total := r.NumPage()
	for pageIndex := 1; pageIndex <= total; pageIndex++ {
		page := r.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", &DocumentProcessingError{Path: path, Err: fmt.Errorf("page %d: %w", pageIndex, err)}
		}
		if pageIndex > 1 {
			sb.WriteString("\n\f\n")
		}
		sb.WriteString(text)
	}

	if strings.TrimSpace(sb.String()) == "" {
		return "", &DocumentProcessingError{Path: path, Err: fmt.Errorf("no extractable text in %d pages", total)}
	}
	return sb.String(), nil
}

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// LocalProcessor is the built-in fallback pipeline: it extracts the PDF's
// plain text and writes a markdown rendition next to the upload. It produces
// no annotated PDF; deployments with a full OCR service plug in their own
// Processor instead.
type LocalProcessor struct {
	uploadDir string
}

func NewLocalProcessor(uploadDir string) *LocalProcessor {
	return &LocalProcessor{uploadDir: uploadDir}
}

func (p *LocalProcessor) Process(ctx context.Context, filePath string) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	text, err := extractPDFText(filePath)
	if err != nil {
		return "", "", err
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	mdName := base + ".md"
	mdFile := filepath.Join(p.uploadDir, mdName)
	if err := os.WriteFile(mdFile, []byte(text), 0o644); err != nil {
		return "", "", fmt.Errorf("write markdown rendition failed: %w", err)
	}

	return "", "/api/uploads/" + mdName, nil
}

// extractPDFText pulls the document's plain text, one page per paragraph. A
// scanned PDF with no text layer yields an empty rendition rather than an
// error.
func extractPDFText(filePath string) (string, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open pdf failed: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extract page %d failed: %w", pageNum, err)
		}
		content = strings.TrimSpace(content)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
	}
	return b.String(), nil
}

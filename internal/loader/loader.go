// Package loader reads source files into documents.
package loader

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/rs/zerolog/log"
)

// ErrUnsupported is returned for files the loader cannot read.
var ErrUnsupported = errors.New("unsupported file type")

// Supported reports whether Load understands the file extension.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Load reads path into documents: one per page for PDFs, one per file otherwise.
func Load(path string) ([]models.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return loadPDF(path)
	case ".md", ".markdown", ".txt":
		return loadText(path)
	default:
		return nil, fmt.Errorf("%s: %w", path, ErrUnsupported)
	}
}

func loadText(path string) ([]models.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("%s: not valid UTF-8", path)
	}
	return []models.Document{{
		ID:       path,
		Text:     string(b),
		Metadata: models.Metadata{"source": path},
	}}, nil
}

func loadPDF(path string) ([]models.Document, error) {
	pages, err := readPages(path)
	if err != nil {
		log.Warn().Err(err).Str("file", path).Msg("falling back to raw content streams")
		if pages, err = readContentStreams(path); err != nil {
			return nil, err
		}
	}

	total := len(pages)
	docs := make([]models.Document, 0, total)
	for i, text := range pages {
		docs = append(docs, models.Document{
			ID:   path + "#" + strconv.Itoa(i),
			Text: text,
			Metadata: models.Metadata{
				"source":      path,
				"page":        i,
				"total_pages": total,
			},
		})
	}
	return docs, nil
}

// readPages lays out the text of every page using the fonts' encodings and
// ToUnicode maps.
func readPages(path string) (pages []string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()
	defer func() {
		if p := recover(); p != nil {
			pages, err = nil, fmt.Errorf("parse pdf %s: %v", path, p)
		}
	}()

	total := r.NumPage()
	pages = make([]string, total)
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pages[i-1] = layoutText(p.Content().Text)
	}
	return pages, nil
}

// layoutText joins positioned glyphs in stream order. A vertical move of more
// than half the font size starts a new line and a horizontal gap wider than a
// fifth of it becomes a space.
func layoutText(items []pdf.Text) string {
	var out textBuilder
	for i, t := range items {
		if i > 0 {
			prev := items[i-1]
			size := math.Max(prev.FontSize, 1)
			switch {
			case math.Abs(t.Y-prev.Y) > size/2:
				out.newline()
			case t.X-(prev.X+prev.W) > size/5:
				out.space()
			}
		}
		out.write(t.S)
	}
	return out.String()
}

// readContentStreams extracts text straight from each page's content stream.
// It ignores font encodings, so it only serves files readPages rejects.
func readContentStreams(path string) ([]string, error) {
	ctx, err := api.ReadContextFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pdf %s: %w", path, err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, fmt.Errorf("count pages of %s: %w", path, err)
	}

	pages := make([]string, ctx.PageCount)
	for page := 1; page <= ctx.PageCount; page++ {
		r, err := pdfcpu.ExtractPageContent(ctx, page)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Int("page", page).Msg("failed to extract page content")
			continue
		}
		if r == nil {
			continue
		}
		content, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read page %d of %s: %w", page, path, err)
		}
		pages[page-1] = ExtractText(content)
	}
	return pages, nil
}

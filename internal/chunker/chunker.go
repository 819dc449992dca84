// Package chunker splits documents into overlapping fixed-size passages.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/MuhammadOwais03/portfoliochat/pkg/models"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxLength = 400
	DefaultOverlap   = 100
)

// Splitter cuts text into chunks of at most MaxLength runes where every chunk
// after the first starts Overlap runes before the end of its predecessor.
type Splitter struct {
	MaxLength int
	Overlap   int
	// Recursive prefers ending a chunk on a paragraph break, newline or space
	// found inside the last Overlap runes of the window.
	Recursive bool
}

// New validates the sizes and returns a Splitter.
func New(maxLength, overlap int, recursive bool) (*Splitter, error) {
	if maxLength <= 0 {
		return nil, apperr.Configurationf("chunker.new", "max length must be positive, got %d", maxLength)
	}
	if overlap < 0 {
		return nil, apperr.Configurationf("chunker.new", "overlap must not be negative, got %d", overlap)
	}
	if overlap >= maxLength {
		return nil, apperr.Configurationf("chunker.new", "overlap (%d) must be smaller than max length (%d)", overlap, maxLength)
	}
	return &Splitter{MaxLength: maxLength, Overlap: overlap, Recursive: recursive}, nil
}

// Split chunks every document. Documents without extractable text are skipped.
func (s *Splitter) Split(docs []models.Document) []models.Chunk {
	var out []models.Chunk
	for i, d := range docs {
		if strings.TrimSpace(d.Text) == "" {
			log.Debug().Str("document", d.ID).Msg("skipping document without text")
			continue
		}
		docID := d.ID
		if docID == "" {
			docID = "doc-" + strconv.Itoa(i)
		}
		for idx, sp := range s.spans(d.Text) {
			md := d.Metadata.Clone()
			md["chunk"] = idx
			out = append(out, models.Chunk{
				ID:         chunkID(docID, idx),
				DocumentID: docID,
				Text:       sp.text,
				Index:      idx,
				Offset:     sp.start,
				Metadata:   md,
			})
		}
	}
	return out
}

type span struct {
	start int
	text  string
}

func (s *Splitter) spans(text string) []span {
	runes := []rune(text)
	n := len(runes)

	var out []span
	start := 0
	for {
		end := start + s.MaxLength
		if end > n {
			end = n
		}
		if s.Recursive && end < n {
			end = s.softEnd(runes, start, end)
		}
		out = append(out, span{start: start, text: string(runes[start:end])})
		if end == n {
			return out
		}
		start = end - s.Overlap
	}
}

// softEnd moves end back to a natural boundary. The result always leaves the
// chunk longer than Overlap so the next window makes progress.
func (s *Splitter) softEnd(runes []rune, start, end int) int {
	lo := end - s.Overlap
	if floor := start + s.Overlap + 1; lo < floor {
		lo = floor
	}
	for _, sep := range []string{"\n\n", "\n", " "} {
		sr := []rune(sep)
		for e := end; e >= lo; e-- {
			if e-len(sr) < start {
				break
			}
			if string(runes[e-len(sr):e]) == sep {
				return e
			}
		}
	}
	return end
}

func chunkID(docID string, idx int) string {
	h := sha1.Sum([]byte(docID + "#" + strconv.Itoa(idx)))
	return hex.EncodeToString(h[:])
}

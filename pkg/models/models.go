package models

// Metadata describes where a piece of text came from (file, page, chunk).
type Metadata map[string]any

// Clone returns a shallow copy of m.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

type Document struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

type Chunk struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Text       string   `json:"text"`
	Index      int      `json:"index"`
	Offset     int      `json:"offset"`
	Metadata   Metadata `json:"metadata"`
}

type IndexEntry struct {
	ID       string    `json:"id"`
	Vector   []float32 `json:"-"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

type SearchResult struct {
	Entry IndexEntry `json:"entry"`
	Score float64    `json:"score"`
}

// Turn is one question/answer exchange in a conversation.
type Turn struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

type ChatRequest struct {
	Query string `json:"query" validate:"required"`
}

type ChatResponse struct {
	Answer  string     `json:"answer"`
	Sources []Metadata `json:"sources"`
}

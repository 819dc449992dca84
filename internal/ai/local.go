package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLocalDim   = 384
	localModelVersion = 1
)

// LocalEmbedder is an offline hashed TF-IDF model. Unigrams and word
// bigrams are hashed into Dim buckets with a sign bit, weighted by
// (1+log tf)*idf and L2 normalised, so cosine similarity reflects
// shared vocabulary.
type LocalEmbedder struct {
	model localModel
}

// localModel is the on-disk artifact written by Fit and Save.
type localModel struct {
	Version    int                `yaml:"version"`
	Dimension  int                `yaml:"dimension"`
	Documents  int                `yaml:"documents"`
	DefaultIDF float64            `yaml:"default_idf"`
	IDF        map[string]float64 `yaml:"idf"`
}

// NewLocalEmbedder loads the artifact at path. A missing artifact yields an
// untrained model with uniform idf; dim 0 keeps the artifact's dimension.
func NewLocalEmbedder(path string, dim int) (*LocalEmbedder, error) {
	if path == "" {
		return untrained(dim), nil
	}
	e, err := LoadLocalEmbedder(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("local embedding model not found, using uniform weights")
		return untrained(dim), nil
	}
	if err != nil {
		return nil, err
	}
	if dim > 0 && dim != e.model.Dimension {
		return nil, apperr.Configurationf("local.load", "model at %s has dimension %d, configured %d", path, e.model.Dimension, dim)
	}
	return e, nil
}

func untrained(dim int) *LocalEmbedder {
	if dim <= 0 {
		dim = DefaultLocalDim
	}
	return &LocalEmbedder{model: localModel{Version: localModelVersion, Dimension: dim, DefaultIDF: 1}}
}

// LoadLocalEmbedder reads a model previously written with Save.
func LoadLocalEmbedder(path string) (*LocalEmbedder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m localModel
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, apperr.E(apperr.Configuration, "local.load", fmt.Errorf("parse %s: %w", path, err))
	}
	if m.Version != localModelVersion {
		return nil, apperr.Configurationf("local.load", "unsupported model version %d", m.Version)
	}
	if m.Dimension <= 0 {
		return nil, apperr.Configurationf("local.load", "model dimension must be positive")
	}
	if m.DefaultIDF <= 0 {
		m.DefaultIDF = 1
	}
	return &LocalEmbedder{model: m}, nil
}

// FitLocalEmbedder learns idf weights from corpus.
func FitLocalEmbedder(corpus []string, dim int) (*LocalEmbedder, error) {
	if len(corpus) == 0 {
		return nil, apperr.Validationf("local.fit", "corpus is empty")
	}
	if dim <= 0 {
		dim = DefaultLocalDim
	}

	df := make(map[string]int)
	for _, doc := range corpus {
		seen := make(map[string]struct{})
		for _, term := range terms(doc) {
			if _, ok := seen[term]; ok {
				continue
			}
			seen[term] = struct{}{}
			df[term]++
		}
	}

	n := float64(len(corpus))
	idf := make(map[string]float64, len(df))
	for term, c := range df {
		idf[term] = math.Log((1+n)/(1+float64(c))) + 1
	}

	return &LocalEmbedder{model: localModel{
		Version:    localModelVersion,
		Dimension:  dim,
		Documents:  len(corpus),
		DefaultIDF: math.Log(1+n) + 1,
		IDF:        idf,
	}}, nil
}

// Save writes the model as YAML, creating parent directories.
func (e *LocalEmbedder) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create model directory: %w", err)
		}
	}
	data, err := yaml.Marshal(e.model)
	if err != nil {
		return fmt.Errorf("marshal local model: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (e *LocalEmbedder) Dim() int {
	return e.model.Dimension
}

func (e *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, apperr.Validationf("local.embed_documents", "no texts to embed")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, apperr.E(apperr.EmbeddingBackend, "local.embed_documents", err)
		}
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validationf("local.embed_query", "query text is empty")
	}
	return e.vector(text), nil
}

func (e *LocalEmbedder) vector(text string) []float32 {
	tf := make(map[string]int)
	for _, term := range terms(text) {
		tf[term]++
	}
	// accumulate in a fixed order so colliding buckets round identically
	keys := make([]string, 0, len(tf))
	for term := range tf {
		keys = append(keys, term)
	}
	sort.Strings(keys)

	acc := make([]float64, e.model.Dimension)
	for _, term := range keys {
		idf, ok := e.model.IDF[term]
		if !ok {
			idf = e.model.DefaultIDF
		}
		w := (1 + math.Log(float64(tf[term]))) * idf

		h := fnv.New64a()
		h.Write([]byte(term))
		sum := h.Sum64()
		bucket := int(sum % uint64(len(acc)))
		if sum>>63 == 1 {
			w = -w
		}
		acc[bucket] += w
	}

	v := make([]float32, len(acc))
	for i, x := range acc {
		v[i] = float32(x)
	}
	normalize(v)
	return v
}

// terms returns lowercased words followed by adjacent word bigrams.
func terms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, 2*len(words))
	out = append(out, words...)
	for i := 1; i < len(words); i++ {
		out = append(out, words[i-1]+" "+words[i])
	}
	return out
}

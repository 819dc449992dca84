package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/MuhammadOwais03/portfoliochat/internal/apperr"
)

// fakeSchema serves the schema endpoints for a single class. When
// createdElsewhere is set, a create request loses to another writer: the
// class appears with description desc and the request fails.
type fakeSchema struct {
	mu               sync.Mutex
	class            string
	desc             string
	exists           bool
	createdElsewhere bool
	creates          int
}

func (f *fakeSchema) classJSON() map[string]any {
	return map[string]any{"class": f.class, "description": f.desc, "vectorizer": "none"}
}

func (f *fakeSchema) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/schema":
		f.creates++
		if f.createdElsewhere {
			f.exists = true
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"error":[{"message":"class name ` + f.class + ` already exists"}]}`))
			return
		}
		var c map[string]any
		_ = json.NewDecoder(r.Body).Decode(&c)
		if d, ok := c["description"].(string); ok {
			f.desc = d
		}
		f.exists = true
		_ = json.NewEncoder(w).Encode(f.classJSON())
	case r.Method == http.MethodGet && r.URL.Path == "/v1/schema/"+f.class:
		if !f.exists {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(f.classJSON())
	case r.Method == http.MethodGet && r.URL.Path == "/v1/schema":
		classes := []any{}
		if f.exists {
			classes = append(classes, f.classJSON())
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"classes": classes})
	default:
		_, _ = w.Write([]byte(`{}`))
	}
}

func newFakeWeaviate(t *testing.T, f *fakeSchema) *Weaviate {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	s, err := NewWeaviate("http", strings.TrimPrefix(srv.URL, "http://"), "")
	if err != nil {
		t.Fatalf("NewWeaviate: %v", err)
	}
	return s
}

func TestWeaviateEnsureIndexCreatesClass(t *testing.T) {
	f := &fakeSchema{class: "PortfolioChatbot"}
	s := newFakeWeaviate(t, f)

	if err := s.EnsureIndex(context.Background(), testSpec); err != nil {
		t.Fatalf("EnsureIndex: %v", err)
	}
	f.mu.Lock()
	creates, desc := f.creates, f.desc
	f.mu.Unlock()
	if creates != 1 {
		t.Errorf("expected one create request, got %d", creates)
	}
	if desc != describe(testSpec) {
		t.Errorf("class description = %q, want %q", desc, describe(testSpec))
	}
	if _, _, err := s.ready(); err != nil {
		t.Errorf("expected index ready, got %v", err)
	}
}

func TestWeaviateEnsureIndexClassCreatedConcurrently(t *testing.T) {
	f := &fakeSchema{class: "PortfolioChatbot", desc: describe(testSpec), createdElsewhere: true}
	s := newFakeWeaviate(t, f)

	if err := s.EnsureIndex(context.Background(), testSpec); err != nil {
		t.Fatalf("expected a class created by another process to be accepted, got %v", err)
	}
	if _, _, err := s.ready(); err != nil {
		t.Errorf("expected index ready, got %v", err)
	}
}

func TestWeaviateEnsureIndexConcurrentClassWithOtherDimension(t *testing.T) {
	other := IndexSpec{Name: testSpec.Name, Dim: 768, Metric: MetricCosine}
	f := &fakeSchema{class: "PortfolioChatbot", desc: describe(other), createdElsewhere: true}
	s := newFakeWeaviate(t, f)

	err := s.EnsureIndex(context.Background(), testSpec)
	if !apperr.Is(err, apperr.Configuration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestWeaviateEnsureIndexCreateFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":[{"message":"disk full"}]}`))
			return
		}
		if r.URL.Path == "/v1/schema" {
			_, _ = w.Write([]byte(`{"classes":[]}`))
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()
	s, err := NewWeaviate("http", strings.TrimPrefix(srv.URL, "http://"), "")
	if err != nil {
		t.Fatalf("NewWeaviate: %v", err)
	}

	if err := s.EnsureIndex(context.Background(), testSpec); err == nil {
		t.Fatal("expected an error when the class cannot be created")
	}
	if _, _, err := s.ready(); err == nil {
		t.Error("index should not be ready after a failed create")
	}
}

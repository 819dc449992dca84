package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: Unknown},
		{name: "plain error", err: base, want: Unknown},
		{name: "classified", err: E(Retrieval, "store.query", base), want: Retrieval},
		{name: "wrapped classified", err: fmt.Errorf("outer: %w", E(Generation, "llm", base)), want: Generation},
		{name: "validation helper", err: Validationf("chat", "query %q", ""), want: Validation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEUnwrapsAndFormats(t *testing.T) {
	base := errors.New("connection refused")
	err := E(EmbeddingBackend, "openai.embed", base)

	if !errors.Is(err, base) {
		t.Error("expected errors.Is to find the wrapped error")
	}
	if err.Error() != "openai.embed: connection refused" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if E(EmbeddingBackend, "op", nil) != nil {
		t.Error("E(nil) should be nil")
	}
}

func TestHTTPStatus(t *testing.T) {
	if HTTPStatus(Validation) != http.StatusBadRequest {
		t.Error("validation should map to 400")
	}
	for _, k := range []Kind{Unknown, Configuration, EmbeddingBackend, Retrieval, Generation} {
		if HTTPStatus(k) != http.StatusInternalServerError {
			t.Errorf("%v should map to 500", k)
		}
	}
}

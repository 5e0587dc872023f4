package llm

import (
	"context"
	"errors"
	"testing"
)

type stubProvider struct {
	model string
}

func (s *stubProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return &CompletionResponse{Content: "ok"}, nil
}

func (s *stubProvider) Capabilities() Capabilities { return Capabilities{} }

func TestDirectory_ForCachesPerLabelAndModel(t *testing.T) {
	d := NewDirectory()

	builds := 0
	d.Register("openai", func(model string) (Provider, error) {
		builds++
		return &stubProvider{model: model}, nil
	})

	p1, err := d.For("openai", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	p2, err := d.For("openai", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if p1 != p2 {
		t.Error("same (label, model) built two providers")
	}
	if builds != 1 {
		t.Errorf("builder ran %d times, want 1", builds)
	}

	// A different model override is a distinct cache entry.
	p3, err := d.For("openai", "gpt-4o")
	if err != nil {
		t.Fatalf("For: %v", err)
	}
	if p3 == p1 {
		t.Error("model override reused the default-model provider")
	}
	if builds != 2 {
		t.Errorf("builder ran %d times, want 2", builds)
	}
}

func TestDirectory_ForUnknownLabel(t *testing.T) {
	d := NewDirectory()
	if _, err := d.For("anthropic", ""); err == nil {
		t.Fatal("expected error for unregistered label")
	}
}

func TestDirectory_BuilderFailureNotCached(t *testing.T) {
	d := NewDirectory()

	fail := true
	d.Register("ollama", func(model string) (Provider, error) {
		if fail {
			return nil, errors.New("daemon not running")
		}
		return &stubProvider{}, nil
	})

	if _, err := d.For("ollama", ""); err == nil {
		t.Fatal("expected build failure")
	}

	fail = false
	if _, err := d.For("ollama", ""); err != nil {
		t.Fatalf("retry after failure: %v", err)
	}
}

func TestDirectory_Labels(t *testing.T) {
	d := NewDirectory()
	d.Register("openai", func(model string) (Provider, error) { return &stubProvider{}, nil })
	d.Register("anthropic", func(model string) (Provider, error) { return &stubProvider{}, nil })

	labels := d.Labels()
	if len(labels) != 2 {
		t.Fatalf("labels = %v, want 2 entries", labels)
	}
}

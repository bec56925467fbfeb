package services

import (
	"context"
	"errors"
	"sync"
)

// fakeGenerator scripts TextGenerator behavior for pipeline tests.
type fakeGenerator struct {
	mu       sync.Mutex
	reply    string
	err      error
	failures int // fail this many calls before succeeding
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return "", errModelDown
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEmbedder returns a fixed-direction vector whose first component encodes
// the text length, enough for distinct, deterministic embeddings.
type fakeEmbedder struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1, 0.5}, nil
}

var errModelDown = errors.New("model unavailable")

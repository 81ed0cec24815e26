// Package backendtest provides a deterministic EmbeddingBackend for tests.
package backendtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ternarybob/chantier/internal/interfaces"
)

// Stub embeds text as keyword counts: component i is the number of times
// Keywords[i] occurs in the lower-cased text, plus a constant bias component
// so no vector is all zeros.
type Stub struct {
	Keywords []string
	Model    string
	Answer   string

	// Gate, when set, blocks Embed until it is closed
	Gate chan struct{}
	// Entered receives a value each time Embed starts, when set
	Entered chan struct{}

	mu           sync.Mutex
	embedErr     error
	generateErr  error
	failContains string
	healthy      bool

	embedCalls    atomic.Int32
	generateCalls atomic.Int32
	lastPrompt    atomic.Value
}

// NewStub creates a healthy stub for keywords
func NewStub(keywords ...string) *Stub {
	lowered := make([]string, len(keywords))
	for i, k := range keywords {
		lowered[i] = strings.ToLower(k)
	}
	return &Stub{Keywords: lowered, Model: "stub-embed", Answer: "stub answer", healthy: true}
}

// FailEmbed makes every Embed call return err; nil restores normal behaviour
func (s *Stub) FailEmbed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedErr = err
}

// FailEmbedFor makes Embed fail with BackendUnavailable for texts containing substr
func (s *Stub) FailEmbedFor(substr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failContains = strings.ToLower(substr)
}

// FailGenerate makes every Generate call return err
func (s *Stub) FailGenerate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generateErr = err
}

// SetHealthy sets the Health result
func (s *Stub) SetHealthy(healthy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.healthy = healthy
}

// EmbedCalls returns how many times Embed was called
func (s *Stub) EmbedCalls() int { return int(s.embedCalls.Load()) }

// GenerateCalls returns how many times Generate was called
func (s *Stub) GenerateCalls() int { return int(s.generateCalls.Load()) }

// LastPrompt returns the prompt of the most recent Generate call
func (s *Stub) LastPrompt() string {
	if v, ok := s.lastPrompt.Load().(string); ok {
		return v
	}
	return ""
}

// Vector returns the embedding Embed would produce for text
func (s *Stub) Vector(text string) []float32 {
	lowered := strings.ToLower(text)
	vec := make([]float32, len(s.Keywords)+1)
	for i, k := range s.Keywords {
		vec[i] = float32(strings.Count(lowered, k))
	}
	vec[len(s.Keywords)] = 0.1
	return vec
}

func (s *Stub) EmbedModel() string { return s.Model }

func (s *Stub) Health(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

func (s *Stub) ListModels(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.healthy {
		return nil, interfaces.BackendUnavailable("list models", fmt.Errorf("%w: stub offline", interfaces.ErrBackendUnavailable))
	}
	return []string{s.Model, "stub-chat"}, nil
}

func (s *Stub) Embed(ctx context.Context, text string) ([]float32, error) {
	s.embedCalls.Add(1)
	if s.Entered != nil {
		s.Entered <- struct{}{}
	}
	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-ctx.Done():
			return nil, interfaces.BackendUnavailable("embed", ctx.Err())
		}
	}

	s.mu.Lock()
	err, failContains := s.embedErr, s.failContains
	s.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if failContains != "" && strings.Contains(strings.ToLower(text), failContains) {
		return nil, interfaces.BackendUnavailable("embed", fmt.Errorf("%w: injected failure", interfaces.ErrBackendUnavailable))
	}
	return s.Vector(text), nil
}

func (s *Stub) Generate(ctx context.Context, prompt string, opts interfaces.GenerateOptions) (string, error) {
	s.generateCalls.Add(1)
	s.lastPrompt.Store(prompt)

	s.mu.Lock()
	err := s.generateErr
	s.mu.Unlock()

	if err != nil {
		return "", err
	}
	return s.Answer, nil
}

package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Call records one Send invocation.
type Call struct {
	Prompt string
	Tag    string
}

// MockClient returns scripted responses in order. It is safe for concurrent use.
type MockClient struct {
	mu sync.Mutex

	// Responses are returned one per call, in order.
	Responses []string
	// Errors, when set at the same index as a call, fail that call instead.
	Errors []error
	// Default is returned once Responses is exhausted.
	Default string
	// Handler, if set, replaces the scripted behaviour entirely.
	Handler func(prompt, tag string) (string, error)

	calls []Call
}

// NewMockClient returns a client answering with responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// Send implements Client.
func (m *MockClient) Send(ctx context.Context, prompt string, conversationTag string) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	idx := len(m.calls)
	m.calls = append(m.calls, Call{Prompt: prompt, Tag: conversationTag})
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		text, err := handler(prompt, conversationTag)
		return Response{Text: text}, err
	}

	if idx < len(m.Errors) && m.Errors[idx] != nil {
		return Response{}, m.Errors[idx]
	}
	if idx < len(m.Responses) {
		return Response{Text: m.Responses[idx]}, nil
	}
	if m.Default != "" {
		return Response{Text: m.Default}, nil
	}
	return Response{Text: "Mock LLM response for: " + strings.Split(prompt, "\n")[0]}, nil
}

// Calls returns a copy of the recorded calls.
func (m *MockClient) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of Send calls so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// ResponseFile is the YAML layout read by NewMockClientFromFile.
type ResponseFile struct {
	Default   string         `yaml:"default"`
	Responses []MatchedReply `yaml:"responses"`
}

// MatchedReply answers prompts containing Match with Text.
type MatchedReply struct {
	Match string `yaml:"match"`
	Text  string `yaml:"text"`
}

// NewMockClientFromFile builds a MockClient whose answers are chosen by
// substring match against the prompt, first match wins.
func NewMockClientFromFile(path string) (*MockClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mock response file: %w", err)
	}

	var rf ResponseFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse mock response file %s: %w", path, err)
	}

	return &MockClient{
		Handler: func(prompt, _ string) (string, error) {
			for _, r := range rf.Responses {
				if r.Match != "" && strings.Contains(prompt, r.Match) {
					return r.Text, nil
				}
			}
			if rf.Default != "" {
				return rf.Default, nil
			}
			return "Mock LLM response for: " + strings.Split(prompt, "\n")[0], nil
		},
	}, nil
}

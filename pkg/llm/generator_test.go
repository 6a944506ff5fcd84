package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGenerator(client Client) (*Generator, *[]time.Duration) {
	var slept []time.Duration
	g := NewGenerator(client, RetryPolicy{MaxAttempts: 3, InitialBackoff: 100 * time.Millisecond, MaxBackoff: 150 * time.Millisecond, Multiplier: 2})
	g.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestGenerate_MergesTruncatedResponse(t *testing.T) {
	client := NewMockClient("...partial", "rest of content")
	g, _ := newTestGenerator(client)

	gen, err := g.Generate(context.Background(), "analyze this", "analyze:1")
	require.NoError(t, err)

	assert.Equal(t, 2, client.CallCount())
	assert.Equal(t, 2, gen.Calls)
	assert.Equal(t, 2, gen.Fragments)
	assert.False(t, gen.Truncated)
	assert.Contains(t, gen.Text, "...partial")
	assert.Contains(t, gen.Text, "rest of content")

	calls := client.Calls()
	assert.Equal(t, "analyze this", calls[0].Prompt)
	assert.True(t, strings.HasPrefix(calls[1].Prompt, "analyze this"))
	assert.Contains(t, calls[1].Prompt, "...partial")
	assert.Contains(t, calls[1].Prompt, "Continue exactly where it stopped")
	assert.Equal(t, "analyze:1", calls[1].Tag)
}

func TestGenerate_CompleteFirstResponse(t *testing.T) {
	client := NewMockClient("# Summary\nAll good.")
	g, _ := newTestGenerator(client)

	gen, err := g.Generate(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "# Summary\nAll good.", gen.Text)
	assert.Equal(t, 1, gen.Calls)
}

func TestGenerate_ExhaustedWhileTruncatedReturnsAccumulated(t *testing.T) {
	client := NewMockClient("part one...", "part two...", "part three [truncated]")
	g, _ := newTestGenerator(client)

	gen, err := g.Generate(context.Background(), "p", "")
	require.NoError(t, err)
	assert.True(t, gen.Truncated)
	assert.Equal(t, 3, gen.Calls)
	assert.Contains(t, gen.Text, "part one")
	assert.Contains(t, gen.Text, "part three")
}

func TestGenerate_RetriesTransportErrorsWithBackoff(t *testing.T) {
	boom := errors.New("connection reset")
	client := &MockClient{
		Responses: []string{"", "", "final answer"},
		Errors:    []error{boom, boom},
	}
	g, slept := newTestGenerator(client)

	gen, err := g.Generate(context.Background(), "p", "")
	require.NoError(t, err)
	assert.Equal(t, "final answer", gen.Text)
	assert.Equal(t, 3, gen.Calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 150 * time.Millisecond}, *slept)
}

func TestGenerate_FailsWhenNothingProduced(t *testing.T) {
	boom := errors.New("503 service unavailable")
	client := &MockClient{Errors: []error{boom, boom, boom}}
	g, slept := newTestGenerator(client)

	_, err := g.Generate(context.Background(), "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, *slept, 2, "no sleep after the last attempt")
}

func TestGenerate_EmptyResponsesAreNoContent(t *testing.T) {
	client := NewMockClient("  ", "\n", "")
	client.Default = ""
	g, _ := newTestGenerator(client)

	_, err := g.Generate(context.Background(), "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestGenerate_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := NewMockClient("never")
	g, _ := newTestGenerator(client)

	_, err := g.Generate(ctx, "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, client.CallCount(), "cancelled calls are not recorded")
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNoContent is returned when every attempt produced nothing usable.
var ErrNoContent = errors.New("llm produced no content")

// RetryPolicy bounds the attempts of one generation.
type RetryPolicy struct {
	MaxAttempts    int           `yaml:"max_attempts" json:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" json:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" json:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" json:"multiplier"`
}

// DefaultRetryPolicy allows three attempts with exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     8 * time.Second,
		Multiplier:     2,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		p.InitialBackoff = p.MaxBackoff
	}
	return p
}

// Generation is the outcome of Generator.Generate.
type Generation struct {
	Text string
	// Calls is the number of Send calls made.
	Calls int
	// Fragments is the number of responses merged into Text.
	Fragments int
	// Truncated is set when attempts ran out while the text was still incomplete.
	Truncated bool
}

// Generator wraps a Client with bounded retries, exponential backoff on
// transport errors and continuation of truncated responses.
type Generator struct {
	Client   Client
	Detector TruncationDetector
	Policy   RetryPolicy
	// ContinuationPrompt builds the follow-up prompt; DefaultContinuationPrompt when nil.
	ContinuationPrompt func(original, partial string) string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewGenerator returns a generator with the default detector.
func NewGenerator(client Client, policy RetryPolicy) *Generator {
	return &Generator{
		Client:   client,
		Detector: DefaultDetector(),
		Policy:   policy,
	}
}

// DefaultContinuationPrompt asks the model to resume where it stopped.
func DefaultContinuationPrompt(original, partial string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\n--- PARTIAL RESPONSE SO FAR ---\n")
	b.WriteString(partial)
	b.WriteString("\n--- END PARTIAL RESPONSE ---\n\n")
	b.WriteString("The response above was cut off. Continue exactly where it stopped. ")
	b.WriteString("Do not repeat content that was already written.")
	return b.String()
}

// Generate sends prompt and returns the merged response. Truncated responses
// are accumulated and continued; running out of attempts returns what was
// accumulated, and fails only when nothing was produced at all.
func (g *Generator) Generate(ctx context.Context, prompt, conversationTag string) (Generation, error) {
	policy := g.Policy.normalized()
	detector := g.Detector
	if detector == nil {
		detector = DefaultDetector()
	}
	continuation := g.ContinuationPrompt
	if continuation == nil {
		continuation = DefaultContinuationPrompt
	}
	sleep := g.sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var (
		fragments []string
		lastErr   error
		gen       Generation
	)
	current := prompt
	backoff := policy.InitialBackoff

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := g.Client.Send(ctx, current, conversationTag)
		gen.Calls++

		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = ErrNoContent
		}
		if err != nil {
			lastErr = err
			if ctxErr := ctx.Err(); ctxErr != nil {
				lastErr = ctxErr
				break
			}
			log.WithError(err).WithFields(logrus.Fields{
				"conversation": conversationTag,
				"attempt":      attempt,
				"max_attempts": policy.MaxAttempts,
			}).Debug("LLM call failed")
			if attempt < policy.MaxAttempts && backoff > 0 {
				if err := sleep(ctx, backoff); err != nil {
					lastErr = err
					break
				}
				backoff = time.Duration(float64(backoff) * policy.Multiplier)
				if policy.MaxBackoff > 0 && backoff > policy.MaxBackoff {
					backoff = policy.MaxBackoff
				}
			}
			continue
		}

		fragments = append(fragments, resp.Text)
		if detector.Truncated(resp.Text) {
			log.WithFields(logrus.Fields{
				"conversation": conversationTag,
				"attempt":      attempt,
				"fragments":    len(fragments),
			}).Debug("LLM response looks truncated, requesting continuation")
			current = continuation(prompt, mergeFragments(fragments))
			continue
		}

		gen.Text = mergeFragments(fragments)
		gen.Fragments = len(fragments)
		return gen, nil
	}

	if len(fragments) > 0 {
		gen.Text = mergeFragments(fragments)
		gen.Fragments = len(fragments)
		gen.Truncated = true
		return gen, nil
	}
	if lastErr == nil {
		lastErr = ErrNoContent
	}
	return gen, fmt.Errorf("generation failed after %d attempts: %w", gen.Calls, lastErr)
}

func mergeFragments(fragments []string) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, strings.TrimRight(f, "\n"))
	}
	return strings.Join(parts, "\n")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

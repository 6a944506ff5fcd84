package llm

import "strings"

// TruncationDetector decides whether a response was cut off and needs a
// continuation request.
type TruncationDetector interface {
	Truncated(text string) bool
}

// TruncationFunc adapts a function to TruncationDetector.
type TruncationFunc func(text string) bool

// Truncated calls f.
func (f TruncationFunc) Truncated(text string) bool { return f(text) }

// DefaultTruncationMarkers are explicit markers models emit when they stop early.
var DefaultTruncationMarkers = []string{
	"[truncated]",
	"(truncated)",
	"<truncated>",
	"[continued]",
	"(continued)",
	"[output cut off]",
	"to be continued",
}

// MarkerDetector flags a response that begins or ends with an ellipsis or
// contains one of Markers anywhere (case-insensitive). It is a substring
// heuristic and produces false positives on prose that quotes the markers.
type MarkerDetector struct {
	Markers []string
}

// Truncated implements TruncationDetector.
func (d MarkerDetector) Truncated(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	for _, ellipsis := range []string{"...", "…"} {
		if strings.HasPrefix(trimmed, ellipsis) || strings.HasSuffix(trimmed, ellipsis) {
			return true
		}
	}

	lower := strings.ToLower(trimmed)
	markers := d.Markers
	if markers == nil {
		markers = DefaultTruncationMarkers
	}
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

// FenceDetector flags responses that leave a markdown code fence open.
type FenceDetector struct{}

// Truncated implements TruncationDetector.
func (FenceDetector) Truncated(text string) bool {
	fences := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			fences++
		}
	}
	return fences%2 == 1
}

// AnyDetector reports truncation when any of its detectors does.
type AnyDetector []TruncationDetector

// Truncated implements TruncationDetector.
func (a AnyDetector) Truncated(text string) bool {
	for _, d := range a {
		if d != nil && d.Truncated(text) {
			return true
		}
	}
	return false
}

// DefaultDetector combines the marker and fence heuristics.
func DefaultDetector() TruncationDetector {
	return AnyDetector{MarkerDetector{}, FenceDetector{}}
}

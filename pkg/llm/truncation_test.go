package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerDetector(t *testing.T) {
	d := MarkerDetector{}

	tests := []struct {
		text string
		want bool
	}{
		{"...partial", true},
		{"and then the function returns…", true},
		{"Everything is done.", false},
		{"Uses spread syntax like f(...args) internally.", false},
		{"The module handles parsing [TRUNCATED]", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.Truncated(tt.text), tt.text)
	}

	custom := MarkerDetector{Markers: []string{"<<more>>"}}
	assert.True(t, custom.Truncated("text <<MORE>>"))
	assert.False(t, custom.Truncated("text [truncated]"))
}

func TestFenceDetector(t *testing.T) {
	assert.True(t, FenceDetector{}.Truncated("intro\n```go\nfunc main() {"))
	assert.False(t, FenceDetector{}.Truncated("```go\nfunc main() {}\n```\n"))
}

func TestAnyDetector(t *testing.T) {
	d := AnyDetector{nil, TruncationFunc(func(s string) bool { return s == "x" })}
	assert.True(t, d.Truncated("x"))
	assert.False(t, d.Truncated("y"))
	assert.True(t, DefaultDetector().Truncated("```\nopen"))
}

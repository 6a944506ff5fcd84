package orchestration

import (
	"bytes"
	"strings"
	"text/template"
)

var analyzeTemplate = template.Must(template.New("analyze").Parse(`You are maintaining a knowledge base for a software project.
Write a concise markdown analysis of the file below for a developer who has
not seen it. Start with a level one heading naming the file, then cover its
purpose, its main types and functions, how it is used and anything surprising.

File: {{.RelPath}}
{{- if .Truncated}}
(The file was cut at {{.MaxBytes}} bytes.)
{{- end}}

--- BEGIN FILE ---
{{.Content}}
--- END FILE ---
`))

var synthesisTemplate = template.Must(template.New("synthesis").Parse(`You are maintaining a knowledge base for a software project.
Write the knowledge document for the directory {{.RelPath}}. Start with a level
one heading naming the directory, then explain what the directory is for, how
its files and subdirectories fit together and where a newcomer should start.
{{range .Files}}
## File: {{.Name}}
{{.Summary}}
{{end}}
{{- range .Children}}
## Subdirectory: {{.Name}}
{{.Summary}}
{{end}}`))

var reviewTemplate = template.Must(template.New("review").Parse(`Review the knowledge document below for the directory {{.RelPath}}.
Check that it has a level one heading, describes the purpose of the directory,
mentions every important file and subdirectory and contains no invented facts.

If the document meets all of these, reply with exactly {{.CompliantMarker}}.
Otherwise reply with {{.RevisionMarker}} on its own line followed by the full
revised document.

--- BEGIN DOCUMENT ---
{{.Draft}}
--- END DOCUMENT ---
`))

const placeholderTemplate = "# %s\n\nThis directory has no indexable content yet.\n"

const (
	CompliantMarker = "[[COMPLIANT]]"
	RevisionMarker  = "---REVISION---"
)

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type reviewVerdict int

const (
	verdictUnclear reviewVerdict = iota
	verdictCompliant
	verdictRevision
)

// parseReview reads a review response: the compliance marker accepts the
// draft, a revision block replaces it, anything else is unclear.
func parseReview(text string) (reviewVerdict, string) {
	if strings.Contains(text, CompliantMarker) {
		return verdictCompliant, ""
	}
	idx := strings.Index(text, RevisionMarker)
	if idx < 0 {
		return verdictUnclear, ""
	}
	revision := strings.TrimSpace(text[idx+len(RevisionMarker):])
	if revision == "" {
		return verdictUnclear, ""
	}
	return verdictRevision, revision
}

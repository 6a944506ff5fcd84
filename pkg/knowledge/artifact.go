package knowledge

import (
	"strings"
	"time"
)

// ArtifactKind discriminates the two artifact variants.
type ArtifactKind string

const (
	// KindAnalysis caches the analysis of a single source file.
	KindAnalysis ArtifactKind = "analysis"
	// KindSynthesis caches the knowledge document of a source directory.
	KindSynthesis ArtifactKind = "synthesis"
)

const (
	// AnalysisSuffix is appended to a source file name to form its analysis artifact name.
	AnalysisSuffix = ".analysis.md"
	// SynthesisFileName is the name of the per-directory knowledge document.
	SynthesisFileName = "_knowledge.md"
)

// ClassifyArtifact returns the artifact kind implied by a knowledge file name.
func ClassifyArtifact(name string) (ArtifactKind, bool) {
	switch {
	case name == SynthesisFileName:
		return KindSynthesis, true
	case strings.HasSuffix(name, AnalysisSuffix) && len(name) > len(AnalysisSuffix):
		return KindAnalysis, true
	default:
		return "", false
	}
}

// Artifact is one derived document in the knowledge tree. Source holds the
// source file for analysis artifacts and the source directory for synthesis
// artifacts.
type Artifact struct {
	Kind    ArtifactKind `json:"kind" yaml:"kind"`
	Path    string       `json:"path" yaml:"path"`
	Handler string       `json:"handler" yaml:"handler"`
	Parent  string       `json:"parent" yaml:"parent"`

	Exists bool      `json:"exists" yaml:"exists"`
	Size   int64     `json:"size,omitempty" yaml:"size,omitempty"`
	Mtime  time.Time `json:"mtime,omitempty" yaml:"mtime,omitempty"`

	Source         string    `json:"source,omitempty" yaml:"source,omitempty"`
	SourceMtime    time.Time `json:"source_mtime,omitempty" yaml:"source_mtime,omitempty"`
	SourceDirMtime time.Time `json:"source_dir_mtime,omitempty" yaml:"source_dir_mtime,omitempty"`

	Status   Status `json:"status" yaml:"status"`
	Orphaned bool   `json:"orphaned" yaml:"orphaned"`
}

// Evaluate derives the freshness status from the artifact's inputs.
func (a *Artifact) Evaluate() Status {
	switch {
	case a.Orphaned:
		return StatusOrphaned
	case !a.Exists:
		return StatusMissing
	}

	switch a.Kind {
	case KindAnalysis:
		if a.SourceMtime.After(a.Mtime) || a.SourceDirMtime.After(a.Mtime) {
			return StatusStale
		}
	case KindSynthesis:
		if a.SourceDirMtime.After(a.Mtime) {
			return StatusStale
		}
	}
	return StatusFresh
}

// Refresh recomputes and stores the status.
func (a *Artifact) Refresh() {
	a.Status = a.Evaluate()
}

package knowledge

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Handler is the per-content-type strategy that owns part of the source tree
// and the matching part of the knowledge tree.
type Handler interface {
	// Name is the handler tag stored on every node it owns.
	Name() string
	// Matches reports whether the source path belongs to this handler.
	Matches(path string) bool
	// KnowledgeDirectory is the top-level knowledge directory for this handler.
	KnowledgeDirectory(root string) string
	// ArtifactPathFor returns where the analysis of sourcePath lives.
	ArtifactPathFor(sourcePath, root string) string
	// SynthesisPathFor returns where the knowledge document of sourceDir lives.
	SynthesisPathFor(sourceDir, root string) string
	// SourceFor maps an artifact path back to its presumed source file or directory.
	SourceFor(kind ArtifactKind, artifactPath, root string) (string, bool)
	// SourceDirectories lists every source directory to scan, base first.
	SourceDirectories(root string) ([]string, error)
	// ShouldIndex reports whether a source file gets an analysis artifact.
	ShouldIndex(sourceFile string) bool
	// ShouldIndexDir reports whether a source directory gets a knowledge document.
	ShouldIndexDir(sourceDir string) bool
}

// Layout names the directories shared by all handlers of one project.
type Layout struct {
	// KnowledgeDir is the knowledge base directory, relative to the project root.
	KnowledgeDir string
	// ImportsDir holds imported read-only repositories, relative to the project root.
	ImportsDir string
	// Extensions restricts indexing to these file extensions when non-empty.
	Extensions []string
	// Exclude holds gitignore-style exclusion rules.
	Exclude []string
}

// DefaultLayout is used when no configuration is present.
func DefaultLayout() Layout {
	return Layout{
		KnowledgeDir: ".knowledge",
		ImportsDir:   ".imports",
	}
}

// KnowledgeRoot returns the absolute knowledge base directory for root.
func (l Layout) KnowledgeRoot(root string) string {
	return filepath.Join(Canonical(root), l.KnowledgeDir)
}

// treeHandler maps a source base directory onto a knowledge directory with
// the same relative layout. Both concrete handlers are built on it.
type treeHandler struct {
	name         string
	root         string
	layout       Layout
	knowledgeSub string
	sourceBase   func(root string) string
	excluder     *Excluder
	extensions   map[string]bool
	// skip reports whether an absolute path is owned by someone else.
	skip func(root, path string) bool
}

func newTreeHandler(name, root, knowledgeSub string, layout Layout, sourceBase func(string) string) *treeHandler {
	exts := make(map[string]bool, len(layout.Extensions))
	for _, ext := range layout.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts[ext] = true
	}
	return &treeHandler{
		name:         name,
		root:         Canonical(root),
		layout:       layout,
		knowledgeSub: knowledgeSub,
		sourceBase:   sourceBase,
		excluder:     NewExcluder(layout.Exclude),
		extensions:   exts,
	}
}

func (h *treeHandler) Name() string { return h.name }

func (h *treeHandler) KnowledgeDirectory(root string) string {
	return filepath.Join(h.layout.KnowledgeRoot(root), h.knowledgeSub)
}

// relToSource returns p relative to the source base.
func (h *treeHandler) relToSource(p, root string) (string, bool) {
	base := h.sourceBase(root)
	p = Canonical(p)
	if !IsWithin(p, base) {
		return "", false
	}
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return "", false
	}
	return rel, true
}

func (h *treeHandler) ArtifactPathFor(sourcePath, root string) string {
	rel, ok := h.relToSource(sourcePath, root)
	if !ok {
		rel = filepath.Base(sourcePath)
	}
	return filepath.Join(h.KnowledgeDirectory(root), rel+AnalysisSuffix)
}

func (h *treeHandler) SynthesisPathFor(sourceDir, root string) string {
	rel, ok := h.relToSource(sourceDir, root)
	if !ok {
		rel = "."
	}
	return filepath.Join(h.KnowledgeDirectory(root), rel, SynthesisFileName)
}

func (h *treeHandler) SourceFor(kind ArtifactKind, artifactPath, root string) (string, bool) {
	kdir := h.KnowledgeDirectory(root)
	artifactPath = Canonical(artifactPath)
	if !IsWithin(artifactPath, kdir) {
		return "", false
	}
	rel, err := filepath.Rel(kdir, artifactPath)
	if err != nil {
		return "", false
	}

	base := h.sourceBase(root)
	switch kind {
	case KindAnalysis:
		if !strings.HasSuffix(rel, AnalysisSuffix) {
			return "", false
		}
		return filepath.Join(base, strings.TrimSuffix(rel, AnalysisSuffix)), true
	case KindSynthesis:
		if filepath.Base(rel) != SynthesisFileName {
			return "", false
		}
		return filepath.Join(base, filepath.Dir(rel)), true
	default:
		return "", false
	}
}

// Matches uses the project root the handler was built for.
func (h *treeHandler) Matches(path string) bool {
	rel, ok := h.relToSource(path, h.root)
	if !ok {
		return false
	}
	return rel == "." || !h.excluded(h.root, Canonical(path), rel, false)
}

func (h *treeHandler) excluded(root, abs, rel string, isDir bool) bool {
	if h.skip != nil && h.skip(root, abs) {
		return true
	}
	return h.excluder.Excluded(rel, isDir)
}

func (h *treeHandler) SourceDirectories(root string) ([]string, error) {
	base := h.sourceBase(root)
	info, err := os.Stat(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if !info.IsDir() {
		return nil, nil
	}

	var dirs []string
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == base {
				return walkErr
			}
			// Unreadable subdirectory: it was already listed, discovery reports it.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != base {
			rel, _ := filepath.Rel(base, p)
			if h.excluded(root, p, rel, true) {
				return filepath.SkipDir
			}
		}
		dirs = append(dirs, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}

// ShouldIndexDir applies directory-only rules such as "pkg/" to the
// directory itself. The source base is always indexed.
func (h *treeHandler) ShouldIndexDir(sourceDir string) bool {
	rel, ok := h.relToSource(sourceDir, h.root)
	if !ok {
		return false
	}
	if rel == "." {
		return true
	}
	return !h.excluded(h.root, Canonical(sourceDir), rel, true)
}

func (h *treeHandler) ShouldIndex(sourceFile string) bool {
	root := h.root
	rel, ok := h.relToSource(sourceFile, root)
	if !ok || rel == "." {
		return false
	}
	if h.excluded(root, Canonical(sourceFile), rel, false) {
		return false
	}
	if _, isArtifact := ClassifyArtifact(filepath.Base(sourceFile)); isArtifact {
		return false
	}
	if IsBinaryExtension(sourceFile) {
		return false
	}
	if len(h.extensions) > 0 {
		return h.extensions[strings.ToLower(filepath.Ext(sourceFile))]
	}
	return true
}

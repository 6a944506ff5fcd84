package knowledge

import (
	"path/filepath"
)

const (
	// ProjectHandlerName tags nodes owned by the primary project tree.
	ProjectHandlerName = "project"
	// ImportsHandlerName tags nodes owned by imported repositories.
	ImportsHandlerName = "imports"
)

// ProjectHandler owns the primary project tree. The knowledge base and the
// imports directory are carved out of it.
type ProjectHandler struct {
	*treeHandler
}

// NewProjectHandler builds the handler for the project rooted at root.
func NewProjectHandler(root string, layout Layout) *ProjectHandler {
	h := newTreeHandler(ProjectHandlerName, root, "project", layout, func(r string) string {
		return Canonical(r)
	})
	h.skip = func(r, p string) bool {
		return IsWithin(p, layout.KnowledgeRoot(r)) ||
			IsWithin(p, filepath.Join(Canonical(r), layout.ImportsDir))
	}
	return &ProjectHandler{treeHandler: h}
}

// ImportsHandler owns repositories vendored read-only under the imports
// directory. Each top-level child of the imports directory is one repository.
type ImportsHandler struct {
	*treeHandler
}

// NewImportsHandler builds the handler for root's imports directory.
func NewImportsHandler(root string, layout Layout) *ImportsHandler {
	h := newTreeHandler(ImportsHandlerName, root, "imports", layout, func(r string) string {
		return filepath.Join(Canonical(r), layout.ImportsDir)
	})
	return &ImportsHandler{treeHandler: h}
}

// Repository returns the imported repository name that path belongs to.
func (h *ImportsHandler) Repository(path string) (string, bool) {
	rel, ok := h.relToSource(path, h.root)
	if !ok || rel == "." {
		return "", false
	}
	first := rel
	for {
		parent := filepath.Dir(first)
		if parent == "." {
			break
		}
		first = parent
	}
	return first, true
}

// DefaultHandlers returns the project and imports handlers for root.
func DefaultHandlers(root string, layout Layout) []Handler {
	return []Handler{
		NewProjectHandler(root, layout),
		NewImportsHandler(root, layout),
	}
}

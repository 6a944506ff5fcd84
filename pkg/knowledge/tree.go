package knowledge

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// DirectoryNode is a directory of the knowledge tree. Children are arena keys
// (canonical paths) indexed by base name.
type DirectoryNode struct {
	Path        string            `json:"path" yaml:"path"`
	Handler     string            `json:"handler" yaml:"handler"`
	Parent      string            `json:"parent,omitempty" yaml:"parent,omitempty"`
	Exists      bool              `json:"exists" yaml:"exists"`
	Mtime       time.Time         `json:"mtime,omitempty" yaml:"mtime,omitempty"`
	SourceDir   string            `json:"source_dir,omitempty" yaml:"source_dir,omitempty"`
	SourceMtime time.Time         `json:"source_mtime,omitempty" yaml:"source_mtime,omitempty"`
	Analyses    map[string]string `json:"analyses,omitempty" yaml:"analyses,omitempty"`
	Syntheses   map[string]string `json:"syntheses,omitempty" yaml:"syntheses,omitempty"`
	Directories map[string]string `json:"directories,omitempty" yaml:"directories,omitempty"`
}

func newDirectoryNode(path, handler, parent string) *DirectoryNode {
	return &DirectoryNode{
		Path:        path,
		Handler:     handler,
		Parent:      parent,
		Analyses:    make(map[string]string),
		Syntheses:   make(map[string]string),
		Directories: make(map[string]string),
	}
}

func (d *DirectoryNode) clone() DirectoryNode {
	out := *d
	out.Analyses = cloneMap(d.Analyses)
	out.Syntheses = cloneMap(d.Syntheses)
	out.Directories = cloneMap(d.Directories)
	return out
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Tree is the in-memory model of the knowledge base: an arena of directory
// and artifact nodes keyed by canonical path. It is built once by discovery;
// later phases only change artifact state through the methods below.
type Tree struct {
	mu sync.RWMutex

	// Root is the knowledge base directory that holds one top-level node per handler.
	Root string

	topLevel  map[string]string
	dirs      map[string]*DirectoryNode
	artifacts map[string]*Artifact
}

// NewTree creates a tree whose root directory node is root.
func NewTree(root string) *Tree {
	root = Canonical(root)
	t := &Tree{
		Root:      root,
		topLevel:  make(map[string]string),
		dirs:      make(map[string]*DirectoryNode),
		artifacts: make(map[string]*Artifact),
	}
	t.dirs[root] = newDirectoryNode(root, "", "")
	return t
}

// Canonical returns the cleaned absolute form of path used as arena key.
func Canonical(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// AddTopLevel registers the top-level directory owned by handler.
func (t *Tree) AddTopLevel(handler, path string) *DirectoryNode {
	t.mu.Lock()
	defer t.mu.Unlock()

	path = Canonical(path)
	node := t.ensureDirectoryLocked(path, handler)
	t.topLevel[handler] = path
	return node
}

// TopLevel returns handler name -> top-level directory path.
func (t *Tree) TopLevel() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return cloneMap(t.topLevel)
}

// ensureDirectoryLocked returns the node for path, creating it and every
// missing ancestor up to the nearest known directory.
func (t *Tree) ensureDirectoryLocked(path, handler string) *DirectoryNode {
	if node, ok := t.dirs[path]; ok {
		if node.Handler == "" && path != t.Root {
			node.Handler = handler
		}
		return node
	}

	parentPath := filepath.Dir(path)
	var parent *DirectoryNode
	if parentPath != path {
		parent = t.ensureDirectoryLocked(parentPath, handler)
	}

	node := newDirectoryNode(path, handler, "")
	if parent != nil {
		node.Parent = parent.Path
		parent.Directories[filepath.Base(path)] = path
	}
	t.dirs[path] = node
	return node
}

func (t *Tree) ensureDirectory(path, handler string) *DirectoryNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ensureDirectoryLocked(Canonical(path), handler)
}

// AddArtifact inserts a, creating its parent directory chain as needed. The
// parent key and path are normalised on the stored copy.
func (t *Tree) AddArtifact(a Artifact) error {
	if a.Path == "" {
		return fmt.Errorf("artifact has no path")
	}
	if a.Kind != KindAnalysis && a.Kind != KindSynthesis {
		return fmt.Errorf("artifact %s has unknown kind %q", a.Path, a.Kind)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	a.Path = Canonical(a.Path)
	if _, exists := t.artifacts[a.Path]; exists {
		return fmt.Errorf("artifact %s already registered", a.Path)
	}

	parent := t.ensureDirectoryLocked(filepath.Dir(a.Path), a.Handler)
	a.Parent = parent.Path
	name := filepath.Base(a.Path)
	switch a.Kind {
	case KindAnalysis:
		parent.Analyses[name] = a.Path
	case KindSynthesis:
		parent.Syntheses[name] = a.Path
	}

	stored := a
	t.artifacts[a.Path] = &stored
	return nil
}

// Artifact returns a copy of the artifact stored at path.
func (t *Tree) Artifact(path string) (Artifact, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a, ok := t.artifacts[Canonical(path)]
	if !ok {
		return Artifact{}, false
	}
	return *a, true
}

// UpdateArtifact applies fn to the stored artifact under the tree lock.
func (t *Tree) UpdateArtifact(path string, fn func(a *Artifact)) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	a, ok := t.artifacts[Canonical(path)]
	if !ok {
		return fmt.Errorf("artifact %s not in tree", path)
	}
	fn(a)
	return nil
}

// SetStatus records a status transition for the artifact at path.
func (t *Tree) SetStatus(path string, status Status) error {
	return t.UpdateArtifact(path, func(a *Artifact) {
		a.Status = status
	})
}

// Directory returns a copy of the directory node at path.
func (t *Tree) Directory(path string) (DirectoryNode, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	d, ok := t.dirs[Canonical(path)]
	if !ok {
		return DirectoryNode{}, false
	}
	return d.clone(), true
}

// Artifacts returns every artifact sorted by path.
func (t *Tree) Artifacts() []Artifact {
	return t.filter(func(*Artifact) bool { return true })
}

// ByStatus returns the artifacts currently in status s, sorted by path.
func (t *Tree) ByStatus(s Status) []Artifact {
	return t.filter(func(a *Artifact) bool { return a.Status == s })
}

// Orphans returns the artifacts flagged as orphaned regardless of their status.
func (t *Tree) Orphans() []Artifact {
	return t.filter(func(a *Artifact) bool { return a.Orphaned })
}

func (t *Tree) filter(keep func(*Artifact) bool) []Artifact {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Artifact, 0, len(t.artifacts))
	for _, a := range t.artifacts {
		if keep(a) {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Walk visits directories depth first starting at the root, children in
// name order, passing each directory with its artifacts.
func (t *Tree) Walk(fn func(dir DirectoryNode, artifacts []Artifact) error) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.walkLocked(t.Root, fn)
}

func (t *Tree) walkLocked(path string, fn func(DirectoryNode, []Artifact) error) error {
	node, ok := t.dirs[path]
	if !ok {
		return nil
	}

	var artifacts []Artifact
	for _, key := range sortedValues(node.Syntheses) {
		artifacts = append(artifacts, *t.artifacts[key])
	}
	for _, key := range sortedValues(node.Analyses) {
		artifacts = append(artifacts, *t.artifacts[key])
	}
	if err := fn(node.clone(), artifacts); err != nil {
		return err
	}

	for _, child := range sortedValues(node.Directories) {
		if err := t.walkLocked(child, fn); err != nil {
			return err
		}
	}
	return nil
}

func sortedValues(m map[string]string) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, m[name])
	}
	return out
}

// Counts returns the number of artifacts per status.
func (t *Tree) Counts() map[Status]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	counts := make(map[Status]int, len(AllStatuses))
	for _, a := range t.artifacts {
		counts[a.Status]++
	}
	return counts
}

// Len returns the number of artifacts and directories in the arena.
func (t *Tree) Len() (artifacts, directories int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.artifacts), len(t.dirs)
}

// Snapshot is a point-in-time copy of the tree used in run summaries.
type Snapshot struct {
	Root        string         `json:"root" yaml:"root"`
	Directories int            `json:"directories" yaml:"directories"`
	Counts      map[Status]int `json:"counts" yaml:"counts"`
	Artifacts   []Artifact     `json:"artifacts" yaml:"artifacts"`
}

// Snapshot copies the current state of the tree.
func (t *Tree) Snapshot() Snapshot {
	_, dirs := t.Len()
	return Snapshot{
		Root:        t.Root,
		Directories: dirs,
		Counts:      t.Counts(),
		Artifacts:   t.Artifacts(),
	}
}

// IsWithin reports whether path equals dir or lies below it. Both must be canonical.
func IsWithin(path, dir string) bool {
	if path == dir {
		return true
	}
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !filepath.IsAbs(rel) && !startsWithParent(rel)
}

func startsWithParent(rel string) bool {
	return len(rel) >= 3 && rel[:2] == ".." && rel[2] == filepath.Separator
}

package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/logging"
	"github.com/sirupsen/logrus"
)

var log = logging.NewLogger("grove-kb.discovery")

// ErrRootNotFound is returned when the project root cannot be resolved.
var ErrRootNotFound = errors.New("project root not found")

// Discoverer performs the single filesystem scan of a run.
type Discoverer struct {
	Root     string
	Layout   Layout
	Handlers []Handler
	Progress ProgressFunc

	// dirMtimes caches source directory mtimes across both sub-phases.
	dirMtimes map[string]time.Time
}

// NewDiscoverer creates a discoverer for root.
func NewDiscoverer(root string, layout Layout, handlers []Handler, progress ProgressFunc) *Discoverer {
	return &Discoverer{
		Root:      root,
		Layout:    layout,
		Handlers:  handlers,
		Progress:  progress,
		dirMtimes: make(map[string]time.Time),
	}
}

// DiscoveryStats counts what the scan saw.
type DiscoveryStats struct {
	KnowledgeFiles int
	SourceFiles    int
	SourceDirs     int
	Skipped        int
}

// Discover scans the existing knowledge tree and then the source tree and
// returns the resulting model. Only an unusable root is fatal.
func (d *Discoverer) Discover(ctx context.Context) (*Tree, DiscoveryStats, error) {
	var stats DiscoveryStats

	info, err := os.Stat(d.Root)
	if err != nil {
		return nil, stats, fmt.Errorf("%w: %s: %v", ErrRootNotFound, d.Root, err)
	}
	if !info.IsDir() {
		return nil, stats, fmt.Errorf("%w: %s is not a directory", ErrRootNotFound, d.Root)
	}
	root := Canonical(d.Root)
	d.Root = root

	tree := NewTree(d.Layout.KnowledgeRoot(root))
	if kinfo, err := os.Stat(tree.Root); err == nil {
		if node, ok := tree.dirs[tree.Root]; ok {
			node.Exists = true
			node.Mtime = kinfo.ModTime()
		}
	}

	for _, h := range d.Handlers {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		d.scanKnowledge(tree, h, &stats)
	}
	for _, h := range d.Handlers {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		if err := d.scanSources(tree, h, &stats); err != nil {
			return nil, stats, err
		}
	}

	log.WithFields(logrus.Fields{
		"root":            root,
		"knowledge_files": stats.KnowledgeFiles,
		"source_files":    stats.SourceFiles,
		"source_dirs":     stats.SourceDirs,
		"skipped":         stats.Skipped,
	}).Debug("Discovery finished")
	return tree, stats, nil
}

// scanKnowledge walks h's knowledge directory, registering directories and
// classifying artifacts by suffix.
func (d *Discoverer) scanKnowledge(tree *Tree, h Handler, stats *DiscoveryStats) {
	kdir := Canonical(h.KnowledgeDirectory(d.Root))
	top := tree.AddTopLevel(h.Name(), kdir)

	info, err := os.Stat(kdir)
	if err != nil {
		if !os.IsNotExist(err) {
			d.skip(stats, kdir, err)
		}
		return
	}
	top.Exists = true
	top.Mtime = info.ModTime()

	_ = filepath.WalkDir(kdir, func(p string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			d.skip(stats, p, walkErr)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		fi, err := entry.Info()
		if err != nil {
			d.skip(stats, p, err)
			return nil
		}

		if entry.IsDir() {
			node := tree.ensureDirectory(p, h.Name())
			node.Exists = true
			node.Mtime = fi.ModTime()
			return nil
		}

		kind, ok := ClassifyArtifact(entry.Name())
		if !ok {
			return nil
		}
		stats.KnowledgeFiles++

		a := Artifact{
			Kind:    kind,
			Path:    p,
			Handler: h.Name(),
			Exists:  true,
			Size:    fi.Size(),
			Mtime:   fi.ModTime(),
		}
		d.resolveSource(&a, h)
		a.Refresh()
		if err := tree.AddArtifact(a); err != nil {
			d.skip(stats, p, err)
		}
		return nil
	})
}

// resolveSource fills the source fields of a, flagging it orphaned when the
// source cannot be found.
func (d *Discoverer) resolveSource(a *Artifact, h Handler) {
	source, ok := h.SourceFor(a.Kind, a.Path, d.Root)
	if !ok {
		a.Orphaned = true
		return
	}
	a.Source = source

	info, err := os.Stat(source)
	if err != nil {
		a.Orphaned = true
		return
	}

	switch a.Kind {
	case KindAnalysis:
		if info.IsDir() || !h.ShouldIndex(source) {
			a.Orphaned = true
			return
		}
		a.SourceMtime = info.ModTime()
		a.SourceDirMtime = d.dirMtime(filepath.Dir(source))
	case KindSynthesis:
		if !info.IsDir() || !h.ShouldIndexDir(source) {
			a.Orphaned = true
			return
		}
		a.SourceMtime = info.ModTime()
		a.SourceDirMtime = info.ModTime()
		d.dirMtimes[source] = info.ModTime()
	}
}

func (d *Discoverer) dirMtime(dir string) time.Time {
	if mt, ok := d.dirMtimes[dir]; ok {
		return mt
	}
	var mt time.Time
	if info, err := os.Stat(dir); err == nil {
		mt = info.ModTime()
	}
	d.dirMtimes[dir] = mt
	return mt
}

// scanSources enumerates h's source tree, back-filling known artifacts and
// creating missing ones.
func (d *Discoverer) scanSources(tree *Tree, h Handler, stats *DiscoveryStats) error {
	dirs, err := h.SourceDirectories(d.Root)
	if err != nil {
		d.skip(stats, h.Name(), err)
		return nil
	}

	// hasContent marks directories that hold indexable files directly or below.
	hasContent := make(map[string]bool, len(dirs))
	listed := make(map[string]bool, len(dirs))
	for _, dir := range dirs {
		listed[Canonical(dir)] = true
	}

	for _, dir := range dirs {
		dir = Canonical(dir)
		stats.SourceDirs++
		dirMtime := d.dirMtime(dir)

		entries, err := os.ReadDir(dir)
		if err != nil {
			d.skip(stats, dir, err)
			continue
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			p := filepath.Join(dir, entry.Name())
			if !entry.Type().IsRegular() || !h.ShouldIndex(p) {
				continue
			}
			fi, err := entry.Info()
			if err != nil {
				d.skip(stats, p, err)
				continue
			}
			stats.SourceFiles++
			hasContent[dir] = true

			if err := d.upsert(tree, h, KindAnalysis, h.ArtifactPathFor(p, d.Root), p, fi.ModTime(), dirMtime); err != nil {
				return err
			}
		}
	}

	// Propagate content upwards so parents of non-empty directories get a document.
	ordered := make([]string, 0, len(hasContent))
	for dir := range hasContent {
		ordered = append(ordered, dir)
	}
	for _, dir := range ordered {
		for parent := filepath.Dir(dir); listed[parent] && !hasContent[parent]; parent = filepath.Dir(parent) {
			hasContent[parent] = true
		}
	}

	synthDirs := make([]string, 0, len(hasContent))
	for dir := range hasContent {
		synthDirs = append(synthDirs, dir)
	}
	sort.Strings(synthDirs)
	for _, dir := range synthDirs {
		mt := d.dirMtime(dir)
		if err := d.upsert(tree, h, KindSynthesis, h.SynthesisPathFor(dir, d.Root), dir, mt, mt); err != nil {
			return err
		}
	}
	return nil
}

// upsert back-fills the source metadata of an existing artifact or inserts a
// missing one. The knowledge directory node mirrors the source directory mtime.
func (d *Discoverer) upsert(tree *Tree, h Handler, kind ArtifactKind, artifactPath, source string, sourceMtime, dirMtime time.Time) error {
	artifactPath = Canonical(artifactPath)
	sourceDir := source
	if kind == KindAnalysis {
		sourceDir = filepath.Dir(source)
	}

	node := tree.ensureDirectory(filepath.Dir(artifactPath), h.Name())
	node.SourceDir = sourceDir
	node.SourceMtime = dirMtime

	if _, exists := tree.Artifact(artifactPath); exists {
		return tree.UpdateArtifact(artifactPath, func(a *Artifact) {
			a.Source = source
			a.SourceMtime = sourceMtime
			a.SourceDirMtime = dirMtime
			a.Orphaned = false
			a.Refresh()
		})
	}

	a := Artifact{
		Kind:           kind,
		Path:           artifactPath,
		Handler:        h.Name(),
		Source:         source,
		SourceMtime:    sourceMtime,
		SourceDirMtime: dirMtime,
	}
	a.Refresh()
	if err := tree.AddArtifact(a); err != nil {
		return fmt.Errorf("add %s artifact for %s: %w", kind, source, err)
	}
	return nil
}

func (d *Discoverer) skip(stats *DiscoveryStats, path string, err error) {
	stats.Skipped++
	d.Progress.Emit(fmt.Sprintf("discovery: skipping %s: %v", path, err))
	log.WithError(err).WithField("path", path).Warn("Skipping unreadable path")
}

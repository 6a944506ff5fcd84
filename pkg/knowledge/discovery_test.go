package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	if !mtime.IsZero() {
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
}

func touchDir(t *testing.T, dir string, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.Chtimes(dir, mtime, mtime))
}

func discover(t *testing.T, root string) (*Tree, DiscoveryStats) {
	t.Helper()
	layout := DefaultLayout()
	var lines []string
	d := NewDiscoverer(root, layout, DefaultHandlers(root, layout), func(line string) {
		lines = append(lines, line)
	})
	tree, stats, err := d.Discover(context.Background())
	require.NoError(t, err)
	return tree, stats
}

func TestDiscover_MissingArtifactsForFreshProject(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "main.go"), "package main", time.Time{})
	writeFile(t, filepath.Join(root, "pkg", "util", "util.go"), "package util", time.Time{})
	writeFile(t, filepath.Join(root, "logo.png"), "binary", time.Time{})

	tree, stats := discover(t, root)

	assert.Equal(t, 2, stats.SourceFiles)
	missing := tree.ByStatus(StatusMissing)

	var analyses, syntheses int
	for _, a := range missing {
		switch a.Kind {
		case KindAnalysis:
			analyses++
		case KindSynthesis:
			syntheses++
		}
	}
	assert.Equal(t, 2, analyses)
	// root, pkg and pkg/util all hold indexable content
	assert.Equal(t, 3, syntheses)

	kdir := filepath.Join(Canonical(root), ".knowledge", "project")
	a, ok := tree.Artifact(filepath.Join(kdir, "pkg", "util", "util.go"+AnalysisSuffix))
	require.True(t, ok)
	assert.Equal(t, filepath.Join(Canonical(root), "pkg", "util", "util.go"), a.Source)
	assert.False(t, a.Exists)

	_, ok = tree.Directory(filepath.Join(kdir, "pkg", "util"))
	assert.True(t, ok, "intermediate directory nodes are inserted")
}

func TestDiscover_FreshStaleAndOrphaned(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	kdir := filepath.Join(root, ".knowledge", "project")

	writeFile(t, filepath.Join(root, "fresh.go"), "a", base)
	writeFile(t, filepath.Join(root, "stale.go"), "b", base.Add(10*time.Second))

	writeFile(t, filepath.Join(kdir, "fresh.go"+AnalysisSuffix), "doc", base.Add(5*time.Second))
	writeFile(t, filepath.Join(kdir, "stale.go"+AnalysisSuffix), "doc", base)
	writeFile(t, filepath.Join(kdir, "gone.go"+AnalysisSuffix), "doc", base)
	writeFile(t, filepath.Join(kdir, "removed", SynthesisFileName), "doc", base)
	writeFile(t, filepath.Join(kdir, "notes.txt"), "ignored", base)
	// creating .knowledge bumped the root mtime
	touchDir(t, root, base)

	tree, stats := discover(t, root)
	assert.Equal(t, 4, stats.KnowledgeFiles)

	get := func(name string) Artifact {
		a, ok := tree.Artifact(filepath.Join(kdir, name))
		require.True(t, ok, name)
		return a
	}

	assert.Equal(t, StatusFresh, get("fresh.go"+AnalysisSuffix).Status)
	assert.Equal(t, StatusStale, get("stale.go"+AnalysisSuffix).Status)

	gone := get("gone.go" + AnalysisSuffix)
	assert.True(t, gone.Orphaned)
	assert.Equal(t, StatusOrphaned, gone.Status)

	removed := get(filepath.Join("removed", SynthesisFileName))
	assert.Equal(t, StatusOrphaned, removed.Status)

	assert.Len(t, tree.Orphans(), 2)
}

func TestDiscover_ParentDirectoryNewerMakesAnalysisStale(t *testing.T) {
	root := t.TempDir()
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	kdir := filepath.Join(root, ".knowledge", "project")

	writeFile(t, filepath.Join(root, "src", "a.go"), "a", base)
	writeFile(t, filepath.Join(kdir, "src", "a.go"+AnalysisSuffix), "doc", base.Add(time.Second))
	writeFile(t, filepath.Join(kdir, "src", SynthesisFileName), "doc", base.Add(time.Second))
	touchDir(t, filepath.Join(root, "src"), base.Add(time.Minute))

	tree, _ := discover(t, root)

	a, ok := tree.Artifact(filepath.Join(kdir, "src", "a.go"+AnalysisSuffix))
	require.True(t, ok)
	assert.Equal(t, StatusStale, a.Status)

	s, ok := tree.Artifact(filepath.Join(kdir, "src", SynthesisFileName))
	require.True(t, ok)
	assert.Equal(t, StatusStale, s.Status)
}

func TestDiscover_ImportsAreOwnedByImportsHandler(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app.py"), "print()", time.Time{})
	writeFile(t, filepath.Join(root, ".imports", "lib", "lib.py"), "x = 1", time.Time{})

	tree, _ := discover(t, root)

	var owners = map[string]string{}
	for _, a := range tree.Artifacts() {
		if a.Kind == KindAnalysis {
			owners[filepath.Base(a.Source)] = a.Handler
		}
	}
	assert.Equal(t, ProjectHandlerName, owners["app.py"])
	assert.Equal(t, ImportsHandlerName, owners["lib.py"])

	top := tree.TopLevel()
	assert.Contains(t, top, ProjectHandlerName)
	assert.Contains(t, top, ImportsHandlerName)
}

func TestDiscover_RootMustExist(t *testing.T) {
	layout := DefaultLayout()
	missing := filepath.Join(t.TempDir(), "nope")
	d := NewDiscoverer(missing, layout, DefaultHandlers(missing, layout), nil)

	_, _, err := d.Discover(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRootNotFound))
}

func TestDiscover_KnowledgeDirIsNotIndexed(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "a", time.Time{})
	writeFile(t, filepath.Join(root, ".knowledge", "project", "a.go"+AnalysisSuffix), "doc", time.Time{})
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "x", time.Time{})

	tree, stats := discover(t, root)
	assert.Equal(t, 1, stats.SourceFiles)
	for _, a := range tree.Artifacts() {
		assert.NotContains(t, a.Source, ".knowledge")
		assert.NotContains(t, a.Source, "node_modules")
	}
}

func TestDiscover_ExcludedDirectoryDocumentsAreOrphaned(t *testing.T) {
	root := Canonical(t.TempDir())
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	kdir := filepath.Join(root, ".knowledge", "project")

	writeFile(t, filepath.Join(root, "main.go"), "package main", base)
	writeFile(t, filepath.Join(root, "pkg", "util", "util.go"), "package util", base)
	writeFile(t, filepath.Join(kdir, "pkg", SynthesisFileName), "doc", base.Add(time.Minute))
	writeFile(t, filepath.Join(kdir, "pkg", "util", SynthesisFileName), "doc", base.Add(time.Minute))
	writeFile(t, filepath.Join(kdir, "pkg", "util", "util.go"+AnalysisSuffix), "doc", base.Add(time.Minute))
	touchDir(t, filepath.Join(root, "pkg", "util"), base)
	touchDir(t, filepath.Join(root, "pkg"), base)

	layout := DefaultLayout()
	layout.Exclude = []string{"pkg/"}
	d := NewDiscoverer(root, layout, DefaultHandlers(root, layout), nil)
	tree, _, err := d.Discover(context.Background())
	require.NoError(t, err)

	for _, rel := range []string{
		filepath.Join("pkg", SynthesisFileName),
		filepath.Join("pkg", "util", SynthesisFileName),
		filepath.Join("pkg", "util", "util.go"+AnalysisSuffix),
	} {
		a, ok := tree.Artifact(filepath.Join(kdir, rel))
		require.True(t, ok, rel)
		assert.True(t, a.Orphaned, rel)
		assert.Equal(t, StatusOrphaned, a.Status, rel)
	}
	assert.Len(t, tree.Orphans(), 3)
}

// vanishingHandler lists one extra source directory that does not exist.
type vanishingHandler struct {
	Handler
	extra string
}

func (h vanishingHandler) SourceDirectories(root string) ([]string, error) {
	dirs, err := h.Handler.SourceDirectories(root)
	return append(dirs, h.extra), err
}

func TestDiscover_UnreadableDirectoryIsSkipped(t *testing.T) {
	root := Canonical(t.TempDir())
	writeFile(t, filepath.Join(root, "main.go"), "package main", time.Time{})

	layout := DefaultLayout()
	vanished := filepath.Join(root, "vanished")
	handlers := []Handler{vanishingHandler{Handler: NewProjectHandler(root, layout), extra: vanished}}

	var lines []string
	d := NewDiscoverer(root, layout, handlers, func(line string) {
		lines = append(lines, line)
	})
	tree, stats, err := d.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Skipped)
	var skipped []string
	for _, line := range lines {
		if strings.HasPrefix(line, "discovery: skipping") {
			skipped = append(skipped, line)
		}
	}
	require.Len(t, skipped, 1)
	assert.Contains(t, skipped[0], vanished)

	// main.go and the root document are still discovered
	assert.Len(t, tree.Artifacts(), 2)
	assert.Equal(t, 1, stats.SourceFiles)
}

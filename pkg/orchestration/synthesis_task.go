package orchestration

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattsolo1/grove-kb/pkg/knowledge"
	"github.com/sirupsen/logrus"
)

// BuildSynthesisTask (re)generates the knowledge document of one source directory.
type BuildSynthesisTask struct {
	baseTask
}

// NewBuildSynthesisTask is the TaskFactory for KindBuildSynthesis.
func NewBuildSynthesisTask(desc TaskDescriptor) (Task, error) {
	if desc.SourcePath == "" || desc.ArtifactPath == "" {
		return nil, errors.New("synthesis task needs a source directory and an artifact path")
	}
	return &BuildSynthesisTask{baseTask: newBaseTask(desc)}, nil
}

func (t *BuildSynthesisTask) CompatibleWith(other Task) bool { return compatible(t, other) }

func (t *BuildSynthesisTask) Validate(ec *ExecutionContext) error {
	info, err := os.Stat(t.desc.SourcePath)
	if err != nil {
		return fmt.Errorf("source directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("source %s is not a directory", t.desc.SourcePath)
	}
	if !knowledge.IsWithin(t.desc.ArtifactPath, ec.Config.KnowledgeRoot()) {
		return fmt.Errorf("artifact %s is outside the knowledge base", t.desc.ArtifactPath)
	}
	return nil
}

// synthesisInput is one entry fed to the synthesis prompt.
type synthesisInput struct {
	Name    string
	Summary string
}

type synthesisInputs struct {
	RelPath  string
	Files    []synthesisInput
	Children []synthesisInput
}

func (in synthesisInputs) empty() bool {
	return len(in.Files) == 0 && len(in.Children) == 0
}

// Execute writes a placeholder for directories without inputs. Otherwise it
// drafts the document and runs the review loop, keeping the last good draft
// when a review fails or the rounds run out.
func (t *BuildSynthesisTask) Execute(ctx context.Context, ec *ExecutionContext) (*TaskResult, error) {
	dir, target := t.desc.SourcePath, t.desc.ArtifactPath
	r := newResult(t)
	r.OutputPaths = []string{target}

	inputs := t.gatherInputs(ec)
	var content string
	if inputs.empty() {
		content = fmt.Sprintf(placeholderTemplate, displayName(ec.Root, dir))
		r.Metadata["placeholder"] = "true"
	} else {
		if ec.Generator == nil {
			return nil, errors.New("no LLM client configured")
		}
		prompt, err := render(synthesisTemplate, inputs)
		if err != nil {
			return nil, fmt.Errorf("render prompt: %w", err)
		}
		gen, err := ec.Generator.Generate(ctx, prompt, t.ID())
		if err != nil {
			return nil, fmt.Errorf("synthesize %s: %w", inputs.RelPath, err)
		}
		r.Metadata["llm_calls"] = strconv.Itoa(gen.Calls)

		content = strings.TrimSpace(gen.Text)
		if ec.Config.Review.Enabled {
			content = t.review(ctx, ec, inputs.RelPath, content, r)
		}
		content += "\n"
	}

	var stamp time.Time
	if info, err := os.Stat(dir); err == nil {
		if s := freshMtime(info.ModTime()); s.After(time.Now()) {
			stamp = s
		}
	}
	if err := writeArtifact(target, []byte(content), stamp); err != nil {
		return nil, fmt.Errorf("write knowledge document: %w", err)
	}
	ec.Set(synthesisKey(target), content)
	recordArtifact(ec, target)

	r.Success = true
	r.FilesProcessed = 1
	r.Metadata["inputs"] = strconv.Itoa(len(inputs.Files) + len(inputs.Children))
	return r, nil
}

func (t *BuildSynthesisTask) review(ctx context.Context, ec *ExecutionContext, rel, draft string, r *TaskResult) string {
	rounds := ec.Config.Review.MaxAttempts
	if rounds <= 0 {
		rounds = DefaultReviewRounds
	}

	accepted := false
	revisions := 0
	round := 0
	for round < rounds {
		round++
		prompt, err := render(reviewTemplate, map[string]any{
			"RelPath":         rel,
			"Draft":           draft,
			"CompliantMarker": CompliantMarker,
			"RevisionMarker":  RevisionMarker,
		})
		if err != nil {
			break
		}
		gen, err := ec.Generator.Generate(ctx, prompt, t.ID()+"-review")
		if err != nil {
			ec.Logger.WithError(err).WithFields(logrus.Fields{
				"task_id": t.ID(),
				"round":   round,
			}).Warn("Review failed, keeping last draft")
			break
		}

		verdict, revision := parseReview(gen.Text)
		if verdict == verdictCompliant {
			accepted = true
			break
		}
		if verdict != verdictRevision {
			break
		}
		draft = revision
		revisions++
	}

	r.Metadata["review_rounds"] = strconv.Itoa(round)
	r.Metadata["revisions"] = strconv.Itoa(revisions)
	r.Metadata["review_accepted"] = strconv.FormatBool(accepted)
	return draft
}

// gatherInputs collects, for every file of the directory, its analysis when
// one exists and a shallow summary otherwise, plus the headline of every
// child directory's knowledge document.
func (t *BuildSynthesisTask) gatherInputs(ec *ExecutionContext) synthesisInputs {
	in := synthesisInputs{RelPath: displayName(ec.Root, t.desc.SourcePath)}
	if ec.Tree == nil {
		return in
	}
	node, ok := ec.Tree.Directory(filepath.Dir(t.desc.ArtifactPath))
	if !ok {
		return in
	}

	for _, key := range sortedKeys(node.Analyses) {
		a, ok := ec.Tree.Artifact(node.Analyses[key])
		if !ok || a.Orphaned || a.Source == "" {
			continue
		}
		name := filepath.Base(a.Source)
		if text, ok := readShared(ec, analysisKey(a.Path)); ok {
			in.Files = append(in.Files, synthesisInput{Name: name, Summary: text})
			continue
		}
		if data, err := os.ReadFile(a.Path); err == nil && len(strings.TrimSpace(string(data))) > 0 {
			in.Files = append(in.Files, synthesisInput{Name: name, Summary: strings.TrimSpace(string(data))})
			continue
		}
		if summary, err := shallowSummary(a.Source, ec.Config.MaxFileBytes); err == nil {
			in.Files = append(in.Files, synthesisInput{Name: name, Summary: summary})
		}
	}

	for _, name := range sortedKeys(node.Directories) {
		child, ok := ec.Tree.Directory(node.Directories[name])
		if !ok {
			continue
		}
		docPath, ok := child.Syntheses[knowledge.SynthesisFileName]
		if !ok {
			continue
		}
		if a, ok := ec.Tree.Artifact(docPath); ok && a.Orphaned {
			continue
		}
		in.Children = append(in.Children, synthesisInput{Name: name, Summary: headline(ec, docPath, name)})
	}
	return in
}

func readShared(ec *ExecutionContext, key string) (string, bool) {
	v, ok := ec.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return strings.TrimSpace(s), ok
}

// headline returns the first heading or non-empty line of a knowledge document.
func headline(ec *ExecutionContext, path, fallback string) string {
	text, ok := readShared(ec, synthesisKey(path))
	if !ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return fallback
		}
		text = string(data)
	}
	if line := firstLine(text); line != "" {
		return strings.TrimSpace(strings.TrimLeft(line, "#"))
	}
	return fallback
}

// shallowSummary describes a file without an LLM: name, size, line count and
// its first non-empty line.
func shallowSummary(path string, limit int64) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	content, cut, err := readLimited(path, limit)
	if err != nil {
		return "", err
	}

	lines := 0
	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		lines++
	}
	count := strconv.Itoa(lines)
	if cut {
		count = "at least " + count
	}

	first := firstLine(content)
	if len(first) > 120 {
		first = first[:120] + "..."
	}
	return fmt.Sprintf("%s: %d bytes, %s lines. First line: %s", filepath.Base(path), info.Size(), count, first), nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if s := strings.TrimSpace(line); s != "" {
			return s
		}
	}
	return ""
}

func synthesisKey(artifactPath string) string {
	return "synthesis:" + artifactPath
}

func displayName(root, dir string) string {
	rel := relPath(root, dir)
	if rel == "." {
		return filepath.Base(root)
	}
	return rel
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

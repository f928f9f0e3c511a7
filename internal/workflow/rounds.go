package workflow

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/randalmurphal/awe/internal/artifact"
	"github.com/randalmurphal/awe/internal/sandbox"
)

// maxDiffFileSize caps files included in round patches. Larger or binary
// files are recorded as "Binary files differ".
const maxDiffFileSize = 2 << 20

// Manifest maps workspace-relative paths to content SHAs.
type Manifest map[string]string

// ManifestDiff lists the per-round file changes.
type ManifestDiff struct {
	Added    []string `json:"added"`
	Modified []string `json:"modified"`
	Deleted  []string `json:"deleted"`
}

func (d ManifestDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// roundRecorder snapshots the workspace per round and produces patch,
// summary, and metadata artifacts.
type roundRecorder struct {
	store     *artifact.Store
	taskID    string
	workspace string
	baseline  string
}

func newRoundRecorder(store *artifact.Store, taskID, workspace string) *roundRecorder {
	return &roundRecorder{store: store, taskID: taskID, workspace: workspace}
}

// CaptureBaseline snapshots the workspace before the first round.
func (r *roundRecorder) CaptureBaseline() error {
	dir := r.store.SnapshotDir(r.taskID, 0)
	if err := sandbox.Bootstrap(r.workspace, dir); err != nil {
		return fmt.Errorf("baseline snapshot: %w", err)
	}
	r.baseline = dir
	return nil
}

// CaptureRound snapshots the workspace after a round and writes round-N
// artifacts diffed against the previous snapshot.
func (r *roundRecorder) CaptureRound(round int) (ManifestDiff, error) {
	prev := r.store.SnapshotDir(r.taskID, round-1)
	if round == 1 {
		prev = r.baseline
	}
	cur := r.store.SnapshotDir(r.taskID, round)
	if err := sandbox.Bootstrap(r.workspace, cur); err != nil {
		return ManifestDiff{}, fmt.Errorf("round %d snapshot: %w", round, err)
	}

	prevManifest, err := BuildManifest(prev)
	if err != nil {
		return ManifestDiff{}, err
	}
	curManifest, err := BuildManifest(cur)
	if err != nil {
		return ManifestDiff{}, err
	}
	diff := DiffManifests(prevManifest, curManifest)

	patch := r.renderPatch(prev, cur, diff)
	if err := r.store.WriteRoundFile(r.taskID, fmt.Sprintf("round-%d.patch", round), []byte(patch)); err != nil {
		return diff, err
	}
	summary := renderRoundSummary(round, diff)
	if err := r.store.WriteRoundFile(r.taskID, fmt.Sprintf("round-%d.md", round), []byte(summary)); err != nil {
		return diff, err
	}
	meta := map[string]any{
		"round":      round,
		"diff":       diff,
		"file_count": len(curManifest),
		"created_at": time.Now().UTC(),
	}
	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return diff, fmt.Errorf("marshal round metadata: %w", err)
	}
	if err := r.store.WriteRoundFile(r.taskID, fmt.Sprintf("round-%d.json", round), metaBytes); err != nil {
		return diff, err
	}
	return diff, nil
}

// BuildManifest walks a snapshot directory and hashes every regular file.
func BuildManifest(root string) (Manifest, error) {
	m := Manifest{}
	if root == "" {
		return m, nil
	}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum := sha256.Sum256(data)
		m[filepath.ToSlash(rel)] = hex.EncodeToString(sum[:])
		return nil
	})
	if os.IsNotExist(err) {
		return m, nil
	}
	return m, err
}

// DiffManifests computes added, modified, and deleted paths.
func DiffManifests(prev, cur Manifest) ManifestDiff {
	var d ManifestDiff
	for p, sha := range cur {
		old, ok := prev[p]
		switch {
		case !ok:
			d.Added = append(d.Added, p)
		case old != sha:
			d.Modified = append(d.Modified, p)
		}
	}
	for p := range prev {
		if _, ok := cur[p]; !ok {
			d.Deleted = append(d.Deleted, p)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Modified)
	sort.Strings(d.Deleted)
	return d
}

func (r *roundRecorder) renderPatch(prevDir, curDir string, diff ManifestDiff) string {
	var b strings.Builder
	dmp := diffmatchpatch.New()
	for _, p := range diff.Added {
		writeFileDiff(&b, dmp, p, "", filepath.Join(curDir, p))
	}
	for _, p := range diff.Modified {
		writeFileDiff(&b, dmp, p, filepath.Join(prevDir, p), filepath.Join(curDir, p))
	}
	for _, p := range diff.Deleted {
		writeFileDiff(&b, dmp, p, filepath.Join(prevDir, p), "")
	}
	return b.String()
}

func writeFileDiff(b *strings.Builder, dmp *diffmatchpatch.DiffMatchPatch, rel, oldPath, newPath string) {
	oldText, oldOK := readDiffable(oldPath)
	newText, newOK := readDiffable(newPath)
	fmt.Fprintf(b, "--- a/%s\n+++ b/%s\n", rel, rel)
	if !oldOK || !newOK {
		fmt.Fprintf(b, "Binary files differ\n")
		return
	}
	patches := dmp.PatchMake(oldText, newText)
	b.WriteString(dmp.PatchToText(patches))
}

// readDiffable returns the file text and whether it is small enough and
// valid UTF-8. Missing paths read as empty text.
func readDiffable(path string) (string, bool) {
	if path == "" {
		return "", true
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", true
	}
	if info.Size() > maxDiffFileSize {
		return "", false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	if !utf8.Valid(data) {
		return "", false
	}
	return string(data), true
}

func renderRoundSummary(round int, diff ManifestDiff) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Round %d\n\n", round)
	if diff.Empty() {
		b.WriteString("No file changes this round.\n")
		return b.String()
	}
	writeSection(&b, "Added", diff.Added)
	writeSection(&b, "Modified", diff.Modified)
	writeSection(&b, "Deleted", diff.Deleted)
	return b.String()
}

func writeSection(b *strings.Builder, title string, paths []string) {
	if len(paths) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, p := range paths {
		fmt.Fprintf(b, "- %s\n", p)
	}
	b.WriteString("\n")
}

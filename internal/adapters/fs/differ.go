package fs

import (
	"io"
	"os"
	"sort"

	"github.com/cespare/xxhash/v2"
	"go.trai.ch/zerr"
)

// Snapshot maps workspace file paths to their content hashes.
type Snapshot map[string]uint64

// Differ computes which workspace sources changed between two points in
// time, so a rebuild trigger can carry the actual change set instead of
// "something changed".
type Differ struct {
	walker *Walker
}

// NewDiffer creates a Differ on top of the given walker.
func NewDiffer(walker *Walker) *Differ {
	return &Differ{walker: walker}
}

// Snapshot hashes every file under root except the ignored directories.
func (d *Differ) Snapshot(root string, ignores []string) (Snapshot, error) {
	snap := make(Snapshot)
	for path := range d.walker.WalkFiles(root, ignores) {
		hash, err := d.hashFile(path)
		if err != nil {
			// Files vanishing mid-walk are a normal part of a build
			// churning the workspace.
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		snap[path] = hash
	}
	return snap, nil
}

// Diff returns the paths that were added, modified or removed between two
// snapshots, sorted.
func (d *Differ) Diff(before, after Snapshot) []string {
	var changed []string
	for path, hash := range after {
		if prev, ok := before[path]; !ok || prev != hash {
			changed = append(changed, path)
		}
	}
	for path := range before {
		if _, ok := after[path]; !ok {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

func (d *Differ) hashFile(path string) (uint64, error) {
	f, err := os.Open(path) //nolint:gosec // Path comes from the workspace walk
	if err != nil {
		if os.IsNotExist(err) {
			return 0, err
		}
		return 0, zerr.With(zerr.Wrap(err, "failed to open file"), "path", path)
	}
	defer f.Close() //nolint:errcheck // Best effort close in defer

	hasher := xxhash.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return 0, zerr.With(zerr.Wrap(err, "failed to hash file content"), "path", path)
	}

	return hasher.Sum64(), nil
}

package domain

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// Environment variable contract between the engine and the recorder
// substituted for the compiler wrapper and the linker.
const (
	// EnvCompileFile points the recorder at the compile record destination.
	EnvCompileFile = "HOTSWAP_RUSTC_FILE"
	// EnvLinkArgsFile points the recorder at the link argv destination.
	EnvLinkArgsFile = "HOTSWAP_LINK_ARGS_FILE"
	// EnvLinkErrFile receives linker-side diagnostics.
	EnvLinkErrFile = "HOTSWAP_LINK_ERR_FILE"
	// EnvLinkTriple carries the target triple to the linker role.
	EnvLinkTriple = "HOTSWAP_LINK_TRIPLE"
)

// RecordPaths are the well-known destinations of one build's invocation
// records.
type RecordPaths struct {
	CompileFile  string
	LinkArgsFile string
	LinkErrFile  string
}

// CompileRecord is the captured per-crate compiler invocation: enough to
// replay the top-level crate's compile without cargo.
type CompileRecord struct {
	// Program is the real compiler the wrapper was asked to run.
	Program string `json:"program"`
	// Args are the compiler arguments, recorder references filtered out.
	Args []string `json:"args"`
	// Env is the full environment of the invocation.
	Env []string `json:"env"`
	// Dir is the working directory of the invocation.
	Dir string `json:"dir"`
}

// Save writes the record as JSON, atomically.
func (r *CompileRecord) Save(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return zerr.Wrap(err, "failed to marshal compile record")
	}
	return WriteFileAtomic(path, data, 0o644)
}

// LoadCompileRecord reads a compile record written by the recorder.
func LoadCompileRecord(path string) (*CompileRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // record path is engine-owned
	if err != nil {
		if os.IsNotExist(err) {
			return nil, zerr.With(ErrRecordMissing, "path", path)
		}
		return nil, zerr.Wrap(err, "failed to read compile record")
	}
	var r CompileRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, zerr.Wrap(err, "failed to parse compile record")
	}
	return &r, nil
}

// SaveLinkArgs writes the captured linker argv, one argument per line,
// atomically.
func SaveLinkArgs(path string, args []string) error {
	return WriteFileAtomic(path, []byte(strings.Join(args, "\n")), 0o644)
}

// LoadLinkArgs reads a link argv record. Blank lines are dropped.
func LoadLinkArgs(path string) ([]string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // record path is engine-owned
	if err != nil {
		if os.IsNotExist(err) {
			return nil, zerr.With(ErrRecordMissing, "path", path)
		}
		return nil, zerr.Wrap(err, "failed to read link args record")
	}
	var args []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			args = append(args, line)
		}
	}
	return args, nil
}

// WriteFileAtomic writes data to a temporary file in the destination
// directory and renames it into place, so a killed build can never leave a
// partially-written record that a later stage would read as complete.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return zerr.Wrap(err, "failed to create record directory")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return zerr.Wrap(err, "failed to create temporary file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to write temporary file")
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to chmod temporary file")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to close temporary file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return zerr.Wrap(err, "failed to rename record into place")
	}
	return nil
}

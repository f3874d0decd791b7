package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.trai.ch/hotswap/internal/core/domain"
)

func TestRun_Version(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"hotswap", "version"}
	assert.Equal(t, 0, run())
}

func TestRun_BuildWithMissingManifest(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	os.Args = []string{"hotswap", "build", "-C", t.TempDir()}
	assert.Equal(t, 1, run())
}

// When cargo hands this binary a link line, run must record it and exit
// clean without touching the CLI at all.
func TestRun_RecorderShortCircuit(t *testing.T) {
	originalArgs := os.Args
	defer func() { os.Args = originalArgs }()

	linkArgs := filepath.Join(t.TempDir(), "link-args.txt")
	t.Setenv(domain.EnvLinkArgsFile, linkArgs)

	os.Args = []string{"hotswap", "main.o", "-lc", "-o", "app"}
	assert.Equal(t, 0, run())

	args, err := domain.LoadLinkArgs(linkArgs)
	require.NoError(t, err)
	assert.Equal(t, []string{"main.o", "-lc", "-o", "app"}, args)
}

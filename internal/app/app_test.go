package app_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.trai.ch/hotswap/internal/adapters/config"
	"go.trai.ch/hotswap/internal/adapters/fs"
	"go.trai.ch/hotswap/internal/adapters/state"
	"go.trai.ch/hotswap/internal/adapters/transport"
	"go.trai.ch/hotswap/internal/app"
	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports/mocks"
	"go.trai.ch/hotswap/internal/engine/orchestrator"
	"go.trai.ch/hotswap/internal/engine/thin"
	"go.uber.org/mock/gomock"
)

type fatStub struct {
	calls atomic.Int32
	err   error
}

func (s *fatStub) Build(_ context.Context, req *domain.BuildRequest) (*domain.Session, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &domain.Session{
		FatBuilt: true,
		Cache:    &domain.ModuleCache{Binary: req.BinaryName(), Reference: 0x1000},
		Compile:  &domain.CompileRecord{Program: "rustc"},
	}, nil
}

type thinStub struct{}

func (thinStub) Build(context.Context, *domain.BuildRequest, *domain.Session, uint64, bool, []string) (*thin.Result, error) {
	return &thin.Result{}, nil
}

func newApp(t *testing.T, fat *fatStub) (*app.App, string) {
	t.Helper()
	tmp := t.TempDir()

	manifest := `
package: app
addr: 127.0.0.1:0
server:
  bin: app
  triple: x86_64-unknown-linux-gnu
`
	require.NoError(t, os.WriteFile(filepath.Join(tmp, config.DefaultFilename), []byte(manifest), 0o644))

	ctrl := gomock.NewController(t)
	mockLogger := mocks.NewMockLogger(ctrl)
	mockLogger.EXPECT().Info(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Warn(gomock.Any()).AnyTimes()
	mockLogger.EXPECT().Error(gomock.Any()).AnyTimes()

	store, err := state.NewStore(filepath.Join(tmp, "module-caches.json"))
	require.NoError(t, err)

	server := transport.NewServer(mockLogger)
	orch := orchestrator.New(fat, thinStub{}, store, server, mockLogger)
	a := app.New(config.NewLoader(mockLogger), orch, server, fs.NewDiffer(fs.NewWalker()), mockLogger)
	return a, tmp
}

func TestBuild_RunsFullBuild(t *testing.T) {
	fat := &fatStub{}
	a, dir := newApp(t, fat)

	require.NoError(t, a.Build(context.Background(), dir))
	require.EqualValues(t, 1, fat.calls.Load())
}

func TestBuild_ReportsFailure(t *testing.T) {
	fat := &fatStub{err: domain.ErrRecordMissing}
	a, dir := newApp(t, fat)

	err := a.Build(context.Background(), dir)
	require.ErrorIs(t, err, domain.ErrBuildExecutionFailed)
}

func TestBuild_MissingManifest(t *testing.T) {
	a, _ := newApp(t, &fatStub{})

	err := a.Build(context.Background(), t.TempDir())
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrBuildExecutionFailed)
}

func TestServe_BuildsAndQuits(t *testing.T) {
	fat := &fatStub{}
	a, dir := newApp(t, fat)

	input, commands := io.Pipe()
	a.Input = input

	done := make(chan error, 1)
	go func() { done <- a.Serve(context.Background(), dir) }()

	// The first cycle builds the missing baseline.
	require.Eventually(t, func() bool {
		return fat.calls.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	// A forced full rebuild from the operator.
	_, err := commands.Write([]byte("R\n"))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return fat.calls.Load() >= 2
	}, 2*time.Second, 5*time.Millisecond)

	_, err = commands.Write([]byte("q\n"))
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on quit")
	}
}

func TestServe_StopsOnContextCancel(t *testing.T) {
	fat := &fatStub{}
	a, dir := newApp(t, fat)
	input, _ := io.Pipe()
	a.Input = input

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, dir) }()

	require.Eventually(t, func() bool {
		return fat.calls.Load() >= 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop on cancellation")
	}
}

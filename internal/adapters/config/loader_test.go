package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.trai.ch/hotswap/internal/adapters/config"
	"go.trai.ch/hotswap/internal/core/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hotswap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_BothRoles(t *testing.T) {
	path := writeConfig(t, `
version: "1"
addr: "127.0.0.1:9001"
package: my-app
crateDir: crates/app
profile: dev
features: [hotpatch]
server:
  bin: my-app-server
  triple: x86_64-unknown-linux-gnu
lib:
  triple: wasm32-unknown-unknown
  sitePkgDir: site/pkg
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:9001", cfg.Addr)
	require.Len(t, cfg.Requests, 2)

	workspace := filepath.Dir(path)

	server := cfg.Requests[0]
	require.Equal(t, domain.RoleServer, server.Role)
	require.Equal(t, "my-app", server.Package)
	require.Equal(t, "my-app-server", server.Bin)
	require.Equal(t, "my-app-server", server.BinaryName())
	require.Equal(t, domain.Triple("x86_64-unknown-linux-gnu"), server.Triple)
	require.Equal(t, "debug", server.ProfileDir)
	require.Equal(t, []string{"hotpatch"}, server.Features)
	require.Equal(t, filepath.Join(workspace, "crates", "app"), server.CrateDir)
	require.Equal(t, filepath.Join(workspace, "target"), server.TargetDir)

	lib := cfg.Requests[1]
	require.Equal(t, domain.RoleLib, lib.Role)
	require.True(t, lib.Lib)
	require.True(t, lib.Triple.IsWasm())
	require.Equal(t, filepath.Join(workspace, "site", "pkg"), lib.SitePkgDir)
	require.Equal(t, "my-app", lib.BinaryName())
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
package: my-app
server: {}
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, config.DefaultAddr, cfg.Addr)
	require.Len(t, cfg.Requests, 1)

	server := cfg.Requests[0]
	require.Equal(t, "dev", server.Profile)
	require.Equal(t, "debug", server.ProfileDir)
	require.NotEqual(t, domain.FlavorUnsupported, server.Triple.Flavor())
	require.Equal(t, filepath.Dir(path), server.CrateDir)
}

func TestLoad_ReleaseProfileDir(t *testing.T) {
	path := writeConfig(t, `
package: my-app
profile: release
server:
  triple: aarch64-apple-darwin
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "release", cfg.Requests[0].ProfileDir)
	require.Equal(t, domain.FlavorDarwin, cfg.Requests[0].Triple.Flavor())
}

func TestLoad_MissingPackage(t *testing.T) {
	path := writeConfig(t, `
server:
  triple: x86_64-unknown-linux-gnu
`)

	_, err := config.Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "package")
}

func TestLoad_NoRoles(t *testing.T) {
	path := writeConfig(t, `
package: my-app
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_UnsupportedServerTriple(t *testing.T) {
	path := writeConfig(t, `
package: my-app
server:
  triple: sparc-sun-solaris
`)

	_, err := config.Load(path)
	require.ErrorIs(t, err, domain.ErrUnsupportedLinker)
}

func TestLoad_NonWasmLibTriple(t *testing.T) {
	path := writeConfig(t, `
package: my-app
lib:
  triple: x86_64-unknown-linux-gnu
`)

	_, err := config.Load(path)
	require.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "hotswap.yaml"))
	require.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "package: [unclosed")
	_, err := config.Load(path)
	require.Error(t, err)
}

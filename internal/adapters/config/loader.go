// Package config provides the configuration loader for hotswap.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"go.trai.ch/hotswap/internal/core/domain"
	"go.trai.ch/hotswap/internal/core/ports"
	"go.trai.ch/zerr"
	"gopkg.in/yaml.v3"
)

// DefaultFilename is the configuration file looked up in the working directory.
const DefaultFilename = "hotswap.yaml"

// DefaultAddr is the hot-reload listen address when the file names none.
const DefaultAddr = "127.0.0.1:8940"

// Loader reads hotswap.yaml into a domain.Config.
type Loader struct {
	Filename string
	logger   ports.Logger
}

// NewLoader creates a Loader for the default filename.
func NewLoader(logger ports.Logger) *Loader {
	return &Loader{
		Filename: DefaultFilename,
		logger:   logger,
	}
}

// Load reads the configuration from the given working directory.
func (l *Loader) Load(cwd string) (*domain.Config, error) {
	cfg, err := Load(filepath.Join(cwd, l.Filename))
	if err != nil {
		return nil, err
	}
	l.logger.Info("loaded " + l.Filename)
	return cfg, nil
}

// Load reads a configuration file from the given path.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by user
	if err != nil {
		return nil, zerr.Wrap(err, "failed to read config file")
	}

	var file Hotswapfile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, zerr.Wrap(err, "failed to parse config file")
	}

	if file.Package == "" {
		return nil, zerr.New("config is missing the package name")
	}
	if file.Server == nil && file.Lib == nil {
		return nil, zerr.New("config defines neither a server nor a lib role")
	}

	workspace := file.Workspace
	if workspace == "" {
		workspace = filepath.Dir(path)
	}
	workspace, err = filepath.Abs(workspace)
	if err != nil {
		return nil, zerr.Wrap(err, "failed to resolve workspace root")
	}

	profile := file.Profile
	if profile == "" {
		profile = "dev"
	}

	cfg := &domain.Config{
		Addr: file.Addr,
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}

	base := domain.BuildRequest{
		Package:           file.Package,
		Profile:           profile,
		ProfileDir:        profileDir(profile),
		Features:          file.Features,
		NoDefaultFeatures: file.NoDefaultFeatures,
		RustFlags:         file.RustFlags,
		WorkingDir:        workspace,
		CrateDir:          resolve(workspace, file.CrateDir, workspace),
		TargetDir:         resolve(workspace, file.TargetDir, filepath.Join(workspace, "target")),
		BundleDir:         resolve(workspace, file.BundleDir, filepath.Join(workspace, "target", "hotswap", "bundle")),
	}

	if file.Server != nil {
		req := base
		req.Role = domain.RoleServer
		req.Bin = file.Server.Bin
		req.Triple = domain.Triple(file.Server.Triple)
		if req.Triple == "" {
			req.Triple = hostTriple()
		}
		if req.Triple.Flavor() == domain.FlavorUnsupported {
			return nil, zerr.With(domain.ErrUnsupportedLinker, "triple", req.Triple.String())
		}
		cfg.Requests = append(cfg.Requests, &req)
	}

	if file.Lib != nil {
		req := base
		req.Role = domain.RoleLib
		req.Lib = true
		req.Triple = domain.Triple(file.Lib.Triple)
		if req.Triple == "" {
			req.Triple = "wasm32-unknown-unknown"
		}
		if !req.Triple.IsWasm() {
			return nil, zerr.With(zerr.New("lib role requires a wasm triple"), "triple", req.Triple.String())
		}
		req.SitePkgDir = resolve(workspace, file.Lib.SitePkgDir, filepath.Join(workspace, "site", "pkg"))
		cfg.Requests = append(cfg.Requests, &req)
	}

	return cfg, nil
}

// resolve makes dir absolute relative to the workspace, falling back when
// the file leaves it empty.
func resolve(workspace, dir, fallback string) string {
	if dir == "" {
		return fallback
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(workspace, dir)
}

// profileDir maps a cargo profile name to its output directory. Only "dev"
// diverges from the profile name.
func profileDir(profile string) string {
	if profile == "dev" {
		return "debug"
	}
	return profile
}

// hostTriple approximates the default cargo target for the running host.
func hostTriple() domain.Triple {
	arch := runtime.GOARCH
	switch arch {
	case "amd64":
		arch = "x86_64"
	case "arm64":
		arch = "aarch64"
	}
	switch runtime.GOOS {
	case "darwin":
		return domain.Triple(arch + "-apple-darwin")
	case "windows":
		return domain.Triple(arch + "-pc-windows-msvc")
	default:
		return domain.Triple(arch + "-unknown-linux-gnu")
	}
}

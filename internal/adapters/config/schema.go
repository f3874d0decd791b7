package config

// Hotswapfile represents the structure of the hotswap.yaml configuration file.
type Hotswapfile struct {
	Version string `yaml:"version"`
	Addr    string `yaml:"addr"`

	Package           string   `yaml:"package"`
	Workspace         string   `yaml:"workspace"`
	CrateDir          string   `yaml:"crateDir"`
	TargetDir         string   `yaml:"targetDir"`
	BundleDir         string   `yaml:"bundleDir"`
	Profile           string   `yaml:"profile"`
	Features          []string `yaml:"features"`
	NoDefaultFeatures bool     `yaml:"noDefaultFeatures"`
	RustFlags         []string `yaml:"rustflags"`

	Server *ServerDTO `yaml:"server"`
	Lib    *LibDTO    `yaml:"lib"`
}

// ServerDTO configures the native server role.
type ServerDTO struct {
	Bin    string `yaml:"bin"`
	Triple string `yaml:"triple"`
}

// LibDTO configures the browser-side wasm role.
type LibDTO struct {
	Triple     string `yaml:"triple"`
	SitePkgDir string `yaml:"sitePkgDir"`
}

package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/blang/semver"
	"gopkg.in/yaml.v3"
)

const (
	// AppName names the configuration and data subdirectories.
	AppName = "ecu"
	// ConfigFileName is looked up as $XDG_CONFIG_HOME/ecu/config.yml.
	ConfigFileName = "config.yml"

	DefaultReleaseURL = "https://github.com/onnovalkering/brane/releases/download"
	DefaultInitBinary = "brane-init"
	DefaultBackend    = "docker"

	ArchiverTar     = "tar"
	ArchiverBuiltin = "builtin"
)

// Config holds the settings of the ecu command.
type Config struct {
	// StoreDir is the root of the package store.
	StoreDir string        `yaml:"store_dir"`
	Archiver string        `yaml:"archiver"`
	Backend  BackendConfig `yaml:"backend"`
	Init     InitConfig    `yaml:"init"`
}

type BackendConfig struct {
	Binary string `yaml:"binary"`
	// TarBinary is used by the "tar" archiver.
	TarBinary string `yaml:"tar_binary"`
}

// InitConfig locates the released init launcher: <ReleaseURL>/v<Version>/<BinaryName>.
type InitConfig struct {
	ReleaseURL string `yaml:"release_url"`
	BinaryName string `yaml:"binary_name"`
	Version    string `yaml:"version"`
}

// Default returns the built-in configuration. releaseVersion is the version
// of the launcher to download; it may be empty when unknown.
func Default(releaseVersion string) Config {
	return Config{
		StoreDir: filepath.Join(xdg.DataHome, AppName, "packages"),
		Archiver: ArchiverTar,
		Backend: BackendConfig{
			Binary:    DefaultBackend,
			TarBinary: "tar",
		},
		Init: InitConfig{
			ReleaseURL: DefaultReleaseURL,
			BinaryName: DefaultInitBinary,
			Version:    releaseVersion,
		},
	}
}

// Load overlays the configuration file at path on base. An empty path searches
// the XDG config directories; a missing file there is not an error.
func Load(path string, base Config) (Config, error) {
	if path == "" {
		found, err := xdg.SearchConfigFile(filepath.Join(AppName, ConfigFileName))
		if err != nil {
			getLogger().Debug("no configuration file found", "name", filepath.Join(AppName, ConfigFileName))
			return base, nil
		}
		path = found
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return base, fmt.Errorf("configuration file %s does not exist", path)
		}
		return base, fmt.Errorf("read configuration %s: %w", path, err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parse configuration %s: %w", path, err)
	}
	getLogger().Debug("loaded configuration", "path", path)
	return cfg, cfg.Validate()
}

// Validate checks settings that cannot be defaulted.
func (c Config) Validate() error {
	if strings.TrimSpace(c.StoreDir) == "" {
		return errors.New("store_dir must not be empty")
	}
	switch c.Archiver {
	case ArchiverTar, ArchiverBuiltin:
	default:
		return fmt.Errorf("unsupported archiver %q (expected %s or %s)", c.Archiver, ArchiverTar, ArchiverBuiltin)
	}
	if c.Backend.Binary == "" {
		return errors.New("backend binary must not be empty")
	}
	return nil
}

// InitURL returns the download location of the released init launcher.
func (c Config) InitURL() (string, error) {
	if strings.TrimSpace(c.Init.Version) == "" {
		return "", errors.New("init launcher version is unknown; set a release version or provide a custom init binary")
	}
	v, err := semver.ParseTolerant(c.Init.Version)
	if err != nil {
		return "", fmt.Errorf("invalid init launcher version %q: %w", c.Init.Version, err)
	}
	if c.Init.ReleaseURL == "" || c.Init.BinaryName == "" {
		return "", errors.New("init launcher release URL and binary name must be set")
	}
	return fmt.Sprintf("%s/v%s/%s", strings.TrimSuffix(c.Init.ReleaseURL, "/"), v.String(), c.Init.BinaryName), nil
}

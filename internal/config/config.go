// Package config resolves collie's settings from built-in defaults, the user
// rc file, the project file and the environment, in increasing precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const (
	// AppName is the application name.
	AppName = "collie"
	// UserConfigName is the user rc file, relative to the home directory.
	UserConfigName = ".collierc"
	// ProjectConfigName is the project file, relative to the project directory.
	ProjectConfigName = "collie.json"
	// EnvPrefix prefixes every environment override (COLLIE_LOCAL, COLLIE_REGISTRY).
	EnvPrefix = "COLLIE"

	DefaultLocalDir     = ".collie"
	DefaultRegistry     = "http://localhost:26553"
	DefaultPackagesPath = "collie_packages"
)

const (
	keyLocal        = "local"
	keyRegistry     = "registry"
	keyPackagesPath = "packagesPath"
)

// Config is the resolved, read-only configuration of one invocation.
type Config struct {
	Home         string
	Local        string
	Registry     string
	Project      string
	PackagesPath string
}

// LocalPackagesRoot is where cached packages live: {local}/packages.
func (c *Config) LocalPackagesRoot() string {
	return filepath.Join(c.Local, "packages")
}

// ProjectPackagesRoot is where releases are extracted: {project}/{packagesPath}.
func (c *Config) ProjectPackagesRoot() string {
	if filepath.IsAbs(c.PackagesPath) {
		return c.PackagesPath
	}
	return filepath.Join(c.Project, c.PackagesPath)
}

// LoadOptions controls where Load looks for its inputs. Empty fields fall
// back to the user's home directory and the working directory.
type LoadOptions struct {
	Fs             afero.Fs
	HomeDir        string
	ProjectDir     string
	UserConfigPath string
}

// Load resolves the configuration and loads the project file. The project
// file does not need to exist.
func Load(opts LoadOptions) (*Config, *ProjectConfig, error) {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.HomeDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, nil, fmt.Errorf("getting home directory: %w", err)
		}
		opts.HomeDir = home
	}
	if opts.ProjectDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, nil, fmt.Errorf("getting working directory: %w", err)
		}
		opts.ProjectDir = wd
	}
	if opts.UserConfigPath == "" {
		opts.UserConfigPath = filepath.Join(opts.HomeDir, UserConfigName)
	}

	user, err := loadUserConfig(opts.Fs, opts.UserConfigPath)
	if err != nil {
		return nil, nil, err
	}
	project, err := LoadProjectConfig(opts.Fs, filepath.Join(opts.ProjectDir, ProjectConfigName))
	if err != nil {
		return nil, nil, err
	}

	v := viper.New()
	v.SetDefault(keyLocal, filepath.Join(opts.HomeDir, DefaultLocalDir))
	v.SetDefault(keyRegistry, DefaultRegistry)
	v.SetDefault(keyPackagesPath, DefaultPackagesPath)

	// Later merges win: user rc, then project file.
	if err := v.MergeConfigMap(nonEmpty(map[string]string{
		keyLocal:    user.local,
		keyRegistry: NormalizeRegistryURL(user.registry),
	})); err != nil {
		return nil, nil, fmt.Errorf("merging %s: %w", opts.UserConfigPath, err)
	}
	if err := v.MergeConfigMap(nonEmpty(map[string]string{
		keyLocal:        project.Local,
		keyRegistry:     NormalizeRegistryURL(project.Registry),
		keyPackagesPath: project.PackagesPath,
	})); err != nil {
		return nil, nil, fmt.Errorf("merging %s: %w", project.Path(), err)
	}

	v.SetEnvPrefix(EnvPrefix)
	if err := v.BindEnv(keyLocal); err != nil {
		return nil, nil, err
	}
	if err := v.BindEnv(keyRegistry); err != nil {
		return nil, nil, err
	}

	cfg := &Config{
		Home:         opts.HomeDir,
		Local:        v.GetString(keyLocal),
		Registry:     NormalizeRegistryURL(v.GetString(keyRegistry)),
		Project:      opts.ProjectDir,
		PackagesPath: v.GetString(keyPackagesPath),
	}
	if !filepath.IsAbs(cfg.Local) {
		cfg.Local = filepath.Join(cfg.Home, cfg.Local)
	}
	if cfg.Registry == "" {
		cfg.Registry = DefaultRegistry
	}

	return cfg, project, nil
}

// NormalizeRegistryURL adds a missing scheme and trims trailing slashes.
// Values too short to hold a host fall back to the default registry; an
// empty value stays empty.
func NormalizeRegistryURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "http://" + raw
	}
	raw = strings.TrimRight(raw, "/")
	if len(raw) < len("http://")+1 {
		return DefaultRegistry
	}
	return raw
}

type userConfig struct {
	local    string
	registry string
}

func loadUserConfig(fs afero.Fs, path string) (userConfig, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return userConfig{}, nil
		}
		return userConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}

	f, err := ini.Load(data)
	if err != nil {
		return userConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	sec := f.Section(ini.DefaultSection)
	return userConfig{
		local:    sec.Key(keyLocal).String(),
		registry: sec.Key(keyRegistry).String(),
	}, nil
}

func nonEmpty(in map[string]string) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, val := range in {
		if val != "" {
			out[k] = val
		}
	}
	return out
}

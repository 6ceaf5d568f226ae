package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"

	"github.com/frederic-klein/collie/internal/dist"
)

// ProjectConfig is the project's collie.json. It is loaded once, mutated in
// memory by install and uninstall, and written back with Save.
type ProjectConfig struct {
	fs     afero.Fs
	path   string
	exists bool

	Local        string
	Registry     string
	PackagesPath string
	Packages     map[string]string // canonical package name -> version
}

type projectFile struct {
	Local        string            `json:"local,omitempty"`
	Registry     string            `json:"registry,omitempty"`
	PackagesPath string            `json:"packagesPath,omitempty"`
	LegacyPath   string            `json:"path,omitempty"`
	Packages     map[string]string `json:"packages"`
}

// LoadProjectConfig reads path. A missing file yields an empty config.
func LoadProjectConfig(fs afero.Fs, path string) (*ProjectConfig, error) {
	pc := &ProjectConfig{fs: fs, path: path, Packages: map[string]string{}}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return pc, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var pf projectFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	pc.exists = true
	pc.Local = pf.Local
	pc.Registry = pf.Registry
	pc.PackagesPath = pf.PackagesPath
	if pc.PackagesPath == "" {
		pc.PackagesPath = pf.LegacyPath
	}
	if pf.Packages != nil {
		pc.Packages = pf.Packages
	}
	return pc, nil
}

// Path returns the file the config is read from and saved to.
func (pc *ProjectConfig) Path() string {
	return pc.path
}

// Exists reports whether the file existed when loaded or has been saved since.
func (pc *ProjectConfig) Exists() bool {
	return pc.exists
}

// PutPackage records version as the installed version of repo/name.
func (pc *ProjectConfig) PutPackage(repo, name, version string) {
	pc.Packages[dist.PackageName(repo, name)] = version
}

// RemovePackage drops repo/name under both its canonical key and the
// "_/name" form older versions wrote for bare packages.
func (pc *ProjectConfig) RemovePackage(repo, name string) {
	delete(pc.Packages, dist.PackageName(repo, name))
	delete(pc.Packages, repo+"/"+name)
}

// PackageNames returns the configured package names in sorted order.
func (pc *ProjectConfig) PackageNames() []string {
	names := make([]string, 0, len(pc.Packages))
	for name := range pc.Packages {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Save writes the whole config back to disk.
func (pc *ProjectConfig) Save() error {
	pf := projectFile{
		Local:        pc.Local,
		Registry:     pc.Registry,
		PackagesPath: pc.PackagesPath,
		Packages:     pc.Packages,
	}
	if pf.Packages == nil {
		pf.Packages = map[string]string{}
	}

	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", pc.path, err)
	}
	if err := pc.fs.MkdirAll(filepath.Dir(pc.path), 0755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", pc.path, err)
	}
	if err := afero.WriteFile(pc.fs, pc.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", pc.path, err)
	}
	pc.exists = true
	return nil
}

// Package index reads and writes package metadata for the three tiers:
// releases installed in the project, the local cache and the remote registry.
package index

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/frederic-klein/collie/internal/dist"
)

const (
	// MetadataFileName is the per-package metadata file in the local cache
	// and the registry.
	MetadataFileName = "metadata.json"
	// MarkerFileName holds the ReleaseIdentity of an installed release.
	MarkerFileName = ".release-marker"
	// ArchiveExt is the extension of cached release archives.
	ArchiveExt = ".tgz"
)

// Store is the only reader and writer of on-disk package metadata.
type Store struct {
	fs          afero.Fs
	localRoot   string
	projectRoot string
	registry    *RegistryClient
}

// NewStore creates a store. A nil registry makes the store offline: registry
// loads return nothing without touching the network.
func NewStore(fs afero.Fs, localRoot, projectRoot string, registry *RegistryClient) *Store {
	return &Store{
		fs:          fs,
		localRoot:   localRoot,
		projectRoot: projectRoot,
		registry:    registry,
	}
}

// Offline reports whether the store has no registry.
func (s *Store) Offline() bool {
	return s.registry == nil
}

// LocalRoot is the root of the local package cache.
func (s *Store) LocalRoot() string {
	return s.localRoot
}

// ProjectRoot is the root of the project's installed releases.
func (s *Store) ProjectRoot() string {
	return s.projectRoot
}

// CacheDir is the local cache directory of repo/name.
func (s *Store) CacheDir(repo, name string) string {
	return filepath.Join(s.localRoot, repo, name)
}

// CacheArchivePath is where the archive of repo/name@version is cached.
func (s *Store) CacheArchivePath(repo, name string, v dist.Version) string {
	return filepath.Join(s.CacheDir(repo, name), v.String()+ArchiveExt)
}

// ProjectDir is where repo/name is extracted. Packages without a repo live
// directly under the project root.
func (s *Store) ProjectDir(repo, name string) string {
	if repo == dist.NoRepo {
		return filepath.Join(s.projectRoot, name)
	}
	return filepath.Join(s.projectRoot, repo, name)
}

// MarkerPath is the marker file of the installed repo/name.
func (s *Store) MarkerPath(repo, name string) string {
	return filepath.Join(s.ProjectDir(repo, name), MarkerFileName)
}

// LoadLocal reads the cached metadata of repo/name. A missing file gives nil.
func (s *Store) LoadLocal(repo, name string) (*dist.PackageMetadata, error) {
	path := filepath.Join(s.CacheDir(repo, name), MetadataFileName)
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var md dist.PackageMetadata
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	fillIdentity(&md, repo, name)
	return &md, nil
}

// SaveLocal overwrites the cached metadata of repo/name with md.
func (s *Store) SaveLocal(repo, name string, md *dist.PackageMetadata) error {
	dir := s.CacheDir(repo, name)
	path := filepath.Join(dir, MetadataFileName)

	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(s.fs, dir, MetadataFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	_, err = tmp.Write(append(data, '\n'))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := s.fs.Rename(tmp.Name(), path); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// RemoveLocal deletes the cached metadata file of repo/name.
func (s *Store) RemoveLocal(repo, name string) error {
	path := filepath.Join(s.CacheDir(repo, name), MetadataFileName)
	if err := s.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", path, err)
	}
	return nil
}

// LoadRegistry fetches the registry metadata of repo/name. Offline stores and
// packages unknown to the registry give nil.
func (s *Store) LoadRegistry(ctx context.Context, repo, name string) (*dist.PackageMetadata, error) {
	if s.registry == nil {
		return nil, nil
	}
	return s.registry.Metadata(ctx, repo, name)
}

// Package returns the tier's view of repo/name, or nil when the tier has no
// metadata for it.
func (s *Store) Package(ctx context.Context, tier dist.Tier, repo, name string) (*dist.Package, error) {
	var (
		md   *dist.PackageMetadata
		base string
		err  error
	)
	switch tier {
	case dist.TierProject:
		md, err = s.LoadProject(repo, name)
		base = s.ProjectDir(repo, name)
	case dist.TierLocal:
		md, err = s.LoadLocal(repo, name)
		base = s.CacheDir(repo, name)
	case dist.TierRegistry:
		md, err = s.LoadRegistry(ctx, repo, name)
		if s.registry != nil {
			base = s.registry.PackageURL(repo, name)
		}
	default:
		return nil, fmt.Errorf("unknown tier %d", tier)
	}
	if err != nil || md == nil {
		return nil, err
	}
	return dist.NewPackage(tier, repo, name, base, md), nil
}

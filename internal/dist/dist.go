package dist

import (
	"errors"
	"time"
)

// Error kinds shared by every stage of resolution and installation.
var (
	ErrInvalidVersion   = errors.New("invalid version")
	ErrInvalidIdentity  = errors.New("invalid release identity")
	ErrReleaseNotFound  = errors.New("release not found")
	ErrAlreadyInstalled = errors.New("release already installed")
	ErrDigestMismatch   = errors.New("digest mismatch")
	ErrTransport        = errors.New("transport error")
	ErrPackageConflict  = errors.New("package directories overlap")
)

// NoRepo is the repo of packages without a namespace.
const NoRepo = "_"

// Tier is where a package's metadata was read from.
type Tier int

const (
	TierProject Tier = iota
	TierLocal
	TierRegistry
)

func (t Tier) String() string {
	switch t {
	case TierProject:
		return "project"
	case TierLocal:
		return "local"
	case TierRegistry:
		return "registry"
	default:
		return "unknown"
	}
}

// ReleaseMetadata is one entry of a package's releases list.
type ReleaseMetadata struct {
	Version  string    `json:"version"`
	Path     string    `json:"path"`
	Digest   string    `json:"digest"`
	Released time.Time `json:"released"`
}

// PackageMetadata is the content of a package's metadata.json.
type PackageMetadata struct {
	Repo        string            `json:"repo"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Homepage    string            `json:"homepage,omitempty"`
	Created     time.Time         `json:"created"`
	Updated     time.Time         `json:"updated"`
	Releases    []ReleaseMetadata `json:"releases"`
}

// PutRelease records rm, overwriting any entry with the same version.
func (m *PackageMetadata) PutRelease(rm ReleaseMetadata) {
	for i := range m.Releases {
		if m.Releases[i].Version == rm.Version {
			m.Releases[i] = rm
			return
		}
	}
	m.Releases = append(m.Releases, rm)
}

// RemoveRelease drops the entry for version and reports whether one existed.
func (m *PackageMetadata) RemoveRelease(version string) bool {
	kept := m.Releases[:0]
	removed := false
	for _, rm := range m.Releases {
		if rm.Version == version {
			removed = true
			continue
		}
		kept = append(kept, rm)
	}
	m.Releases = kept
	return removed
}

// Clone returns a deep copy of m.
func (m *PackageMetadata) Clone() *PackageMetadata {
	c := *m
	c.Releases = append([]ReleaseMetadata(nil), m.Releases...)
	return &c
}

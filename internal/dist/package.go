package dist

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"
)

// Release is one concrete release of a package as seen from one tier.
type Release struct {
	Repo        string
	Name        string
	Version     Version
	Tier        Tier
	Locator     string // raw path from metadata
	RealLocator string // Locator resolved against the tier's base
	Digest      string
	ReleasedAt  time.Time

	// Metadata is the tier's package metadata the release was read from.
	Metadata *PackageMetadata
}

// Identity returns the identity recorded in the release's marker file.
func (r *Release) Identity() ReleaseIdentity {
	return ReleaseIdentity{Repo: r.Repo, Name: r.Name, Version: r.Version, Digest: r.Digest}
}

// PackageName returns the canonical package name of the release.
func (r *Release) PackageName() string {
	return PackageName(r.Repo, r.Name)
}

func (r *Release) String() string {
	return fmt.Sprintf("%s@%s", r.PackageName(), r.Version)
}

// Package is one tier's view of a package's metadata.
type Package struct {
	Repo     string
	Name     string
	Tier     Tier
	Base     string // directory or URL relative locators are joined to
	Metadata *PackageMetadata
}

// NewPackage wraps md as the tier's view of repo/name.
func NewPackage(tier Tier, repo, name, base string, md *PackageMetadata) *Package {
	return &Package{Repo: repo, Name: name, Tier: tier, Base: base, Metadata: md}
}

// GetRelease returns the release with exactly the requested version, or nil
// when this tier does not have it.
func (p *Package) GetRelease(version string) (*Release, error) {
	v, err := ParseVersion(version)
	if err != nil {
		return nil, err
	}
	want := v.String()
	for _, rm := range p.Metadata.Releases {
		if rm.Version == want {
			return p.release(rm, v), nil
		}
	}
	return nil, nil
}

// LatestRelease returns the highest release. Equal versions resolve to the
// last one listed. An empty list gives nil.
func (p *Package) LatestRelease() (*Release, error) {
	var (
		latest   ReleaseMetadata
		latestV  Version
		hasFirst bool
	)
	for _, rm := range p.Metadata.Releases {
		v, err := ParseVersion(rm.Version)
		if err != nil {
			return nil, fmt.Errorf("%s %s release list: %w", p.Tier, PackageName(p.Repo, p.Name), err)
		}
		if !hasFirst || v.Compare(latestV) >= 0 {
			latest, latestV, hasFirst = rm, v, true
		}
	}
	if !hasFirst {
		return nil, nil
	}
	return p.release(latest, latestV), nil
}

func (p *Package) release(rm ReleaseMetadata, v Version) *Release {
	return &Release{
		Repo:        p.Repo,
		Name:        p.Name,
		Version:     v,
		Tier:        p.Tier,
		Locator:     rm.Path,
		RealLocator: ResolveLocator(p.Base, rm.Path),
		Digest:      rm.Digest,
		ReleasedAt:  rm.Released,
		Metadata:    p.Metadata,
	}
}

// ResolveLocator resolves a release path against the tier base. URLs pass
// through; absolute paths are taken from the base URL's origin when the base
// is a URL and pass through otherwise; relative paths are joined to base.
func ResolveLocator(base, locator string) string {
	switch {
	case locator == "":
		return ""
	case IsURL(locator):
		return locator
	case strings.HasPrefix(locator, "/"):
		if IsURL(base) {
			if u, err := url.Parse(base); err == nil {
				return u.Scheme + "://" + u.Host + locator
			}
		}
		return locator
	case IsURL(base):
		return strings.TrimSuffix(base, "/") + "/" + path.Clean(locator)
	default:
		return filepath.Join(base, filepath.FromSlash(locator))
	}
}

// IsURL reports whether s is an http or https URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

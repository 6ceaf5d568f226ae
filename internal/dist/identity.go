package dist

import (
	"fmt"
	"strings"

	packageurl "github.com/package-url/packageurl-go"
)

// PURLType is the package URL type accepted for collie packages.
const PURLType = "collie"

// PackageName returns the canonical name of a package: bare name when it has
// no repo, "repo/name" otherwise.
func PackageName(repo, name string) string {
	if repo == "" || repo == NoRepo {
		return name
	}
	return repo + "/" + name
}

// ReleaseIdentity is the repo/name@version:digest string stored in the marker
// file of an installed release.
type ReleaseIdentity struct {
	Repo    string
	Name    string
	Version Version
	Digest  string
}

// ParseReleaseIdentity parses "[repo/]name@version:digest".
func ParseReleaseIdentity(raw string) (ReleaseIdentity, error) {
	raw = strings.TrimSpace(raw)
	invalid := fmt.Errorf("%w: %q", ErrInvalidIdentity, raw)

	repo, rest := NoRepo, raw
	if before, after, ok := strings.Cut(rest, "/"); ok {
		repo, rest = before, after
	}
	name, rest, ok := strings.Cut(rest, "@")
	if !ok {
		return ReleaseIdentity{}, invalid
	}
	ver, digest, ok := strings.Cut(rest, ":")
	if !ok {
		return ReleaseIdentity{}, invalid
	}
	for _, tok := range []string{repo, name, ver, digest} {
		if tok == "" || strings.ContainsAny(tok, "/@:") {
			return ReleaseIdentity{}, invalid
		}
	}

	v, err := ParseVersion(ver)
	if err != nil {
		return ReleaseIdentity{}, err
	}
	return ReleaseIdentity{Repo: repo, Name: name, Version: v, Digest: digest}, nil
}

// PackageName returns the canonical package name of the identity.
func (id ReleaseIdentity) PackageName() string {
	return PackageName(id.Repo, id.Name)
}

func (id ReleaseIdentity) String() string {
	return fmt.Sprintf("%s@%s:%s", id.PackageName(), id.Version, id.Digest)
}

// ReleaseName is a package reference given on the command line:
// "[repo/]name[@version]" or "pkg:collie/[repo/]name[@version]".
type ReleaseName struct {
	Repo    string
	Name    string
	Version string // empty means latest
}

// ParseReleaseName parses a package argument.
func ParseReleaseName(raw string) (ReleaseName, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "pkg:") {
		return parsePURL(raw)
	}

	invalid := fmt.Errorf("%w: package %q", ErrInvalidIdentity, raw)
	rn := ReleaseName{Repo: NoRepo}

	rest := raw
	if before, after, ok := strings.Cut(rest, "@"); ok {
		rest, rn.Version = before, after
		if rn.Version == "" {
			return ReleaseName{}, invalid
		}
	}

	parts := strings.Split(rest, "/")
	switch len(parts) {
	case 1:
		rn.Name = parts[0]
	case 2:
		rn.Repo, rn.Name = parts[0], parts[1]
	default:
		return ReleaseName{}, invalid
	}
	if rn.Repo == "" || rn.Name == "" || strings.Contains(rn.Name, ":") {
		return ReleaseName{}, invalid
	}

	if rn.Version != "" {
		if _, err := ParseVersion(rn.Version); err != nil {
			return ReleaseName{}, err
		}
	}
	return rn, nil
}

func parsePURL(raw string) (ReleaseName, error) {
	p, err := packageurl.FromString(raw)
	if err != nil {
		return ReleaseName{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if p.Type != PURLType {
		return ReleaseName{}, fmt.Errorf("%w: unsupported package URL type %q", ErrInvalidIdentity, p.Type)
	}
	if p.Name == "" || strings.Contains(p.Namespace, "/") {
		return ReleaseName{}, fmt.Errorf("%w: package %q", ErrInvalidIdentity, raw)
	}

	rn := ReleaseName{Repo: NoRepo, Name: p.Name, Version: p.Version}
	if p.Namespace != "" {
		rn.Repo = p.Namespace
	}
	if rn.Version != "" {
		if _, err := ParseVersion(rn.Version); err != nil {
			return ReleaseName{}, err
		}
	}
	return rn, nil
}

// PackageName returns the canonical package name.
func (rn ReleaseName) PackageName() string {
	return PackageName(rn.Repo, rn.Name)
}

func (rn ReleaseName) String() string {
	if rn.Version == "" {
		return rn.PackageName()
	}
	return rn.PackageName() + "@" + rn.Version
}

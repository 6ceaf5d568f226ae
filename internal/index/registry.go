package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/downloader"
)

// RegistryClient reads package metadata from a remote registry laid out as
// {base}/packages/{repo}/{name}/metadata.json.
type RegistryClient struct {
	base       string
	downloader *downloader.Downloader
}

// NewRegistryClient creates a client for the registry at base.
func NewRegistryClient(base string, dl *downloader.Downloader) *RegistryClient {
	return &RegistryClient{
		base:       strings.TrimSuffix(base, "/"),
		downloader: dl,
	}
}

// Base returns the registry base URL.
func (c *RegistryClient) Base() string {
	return c.base
}

// PackageURL returns the URL of the package's directory in the registry.
func (c *RegistryClient) PackageURL(repo, name string) string {
	return fmt.Sprintf("%s/packages/%s/%s", c.base, repo, name)
}

// Metadata fetches the package's metadata. A package the registry does not
// know yields nil, nil.
func (c *RegistryClient) Metadata(ctx context.Context, repo, name string) (*dist.PackageMetadata, error) {
	url := c.PackageURL(repo, name) + "/" + MetadataFileName

	body, err := c.downloader.Open(ctx, url)
	if err != nil {
		if errors.Is(err, downloader.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching registry metadata for %s: %w", dist.PackageName(repo, name), err)
	}
	defer body.Close()

	var md dist.PackageMetadata
	if err := json.NewDecoder(body).Decode(&md); err != nil {
		return nil, fmt.Errorf("parsing registry metadata for %s: %w", dist.PackageName(repo, name), err)
	}
	fillIdentity(&md, repo, name)
	return &md, nil
}

func fillIdentity(md *dist.PackageMetadata, repo, name string) {
	if md.Repo == "" {
		md.Repo = repo
	}
	if md.Name == "" || md.Name == dist.PackageName(repo, name) {
		md.Name = name
	}
}

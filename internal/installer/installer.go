// Package installer materialises resolved releases into the project tree and
// removes them again.
package installer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/downloader"
	"github.com/frederic-klein/collie/internal/extractor"
	"github.com/frederic-klein/collie/internal/index"
)

// Recorder keeps the project's list of installed packages.
type Recorder interface {
	PutPackage(repo, name, version string)
	RemovePackage(repo, name string)
	Save() error
}

// Options controls one install.
type Options struct {
	// UseCache keeps downloaded archives in the local cache and records them
	// in its metadata. Without it archives are downloaded to a temp file
	// that is deleted after extraction.
	UseCache bool
	// Overwrite replaces an installed release of the same package.
	Overwrite bool
}

// Installer runs the download, verify, extract and record pipeline.
type Installer struct {
	fs         afero.Fs
	store      *index.Store
	downloader *downloader.Downloader
	extractor  *extractor.Extractor
	recorder   Recorder
	logger     *log.Logger
	now        func() time.Time
}

// New creates an installer. recorder may be nil when nothing tracks the
// project's package list.
func New(fs afero.Fs, store *index.Store, dl *downloader.Downloader, ext *extractor.Extractor, recorder Recorder, logger *log.Logger) *Installer {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Installer{
		fs:         fs,
		store:      store,
		downloader: dl,
		extractor:  ext,
		recorder:   recorder,
		logger:     logger,
		now:        time.Now,
	}
}

// Install materialises rls into the project. The archive is verified against
// rls.Digest before the project tree is touched.
func (i *Installer) Install(ctx context.Context, rls *dist.Release, opts Options) error {
	if rls.Tier == dist.TierProject {
		return fmt.Errorf("%s is already a project release", rls)
	}

	if !opts.Overwrite {
		id, ok, err := i.store.ReadMarker(rls.Repo, rls.Name)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%s (installed %s): %w", rls.PackageName(), id.Version, dist.ErrAlreadyInstalled)
		}
	}

	if err := i.checkOverlap(rls); err != nil {
		return err
	}

	archivePath, cleanup, err := i.fetch(ctx, rls, opts)
	if err != nil {
		return err
	}
	defer cleanup()

	if rls.Tier == dist.TierRegistry && opts.UseCache {
		if err := i.recordCached(rls); err != nil {
			return err
		}
	}

	dir := i.store.ProjectDir(rls.Repo, rls.Name)
	if err := i.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	if err := i.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := i.extractor.Extract(archivePath, dir); err != nil {
		_ = i.fs.RemoveAll(dir)
		return fmt.Errorf("extracting %s: %w", rls, err)
	}
	if err := i.store.WriteMarker(rls.Identity()); err != nil {
		return err
	}

	if i.recorder != nil {
		i.recorder.PutPackage(rls.Repo, rls.Name, rls.Version.String())
		if err := i.recorder.Save(); err != nil {
			return err
		}
	}

	i.logger.Info("installed", "release", rls.String(), "from", rls.Tier.String())
	return nil
}

// fetch returns a verified archive for rls and a cleanup func to call once
// the archive is no longer needed.
func (i *Installer) fetch(ctx context.Context, rls *dist.Release, opts Options) (string, func(), error) {
	noop := func() {}

	if rls.Tier == dist.TierLocal {
		path := rls.RealLocator
		if path == "" {
			path = i.store.CacheArchivePath(rls.Repo, rls.Name, rls.Version)
		}
		if err := i.verify(path, rls); err != nil {
			return "", noop, err
		}
		return path, noop, nil
	}

	if !opts.UseCache {
		tmp, err := afero.TempFile(i.fs, "", "collie-*"+index.ArchiveExt)
		if err != nil {
			return "", noop, fmt.Errorf("creating temp archive: %w", err)
		}
		path := tmp.Name()
		tmp.Close()
		cleanup := func() { _ = i.fs.Remove(path) }

		if _, err := i.downloader.Download(ctx, rls.RealLocator, path); err != nil {
			cleanup()
			return "", noop, fmt.Errorf("downloading %s: %w", rls, err)
		}
		if err := i.verify(path, rls); err != nil {
			cleanup()
			return "", noop, err
		}
		return path, cleanup, nil
	}

	path := i.store.CacheArchivePath(rls.Repo, rls.Name, rls.Version)
	if i.verify(path, rls) == nil {
		i.logger.Debug("reusing cached archive", "release", rls.String(), "path", path)
		return path, noop, nil
	}

	if _, err := i.downloader.Download(ctx, rls.RealLocator, path); err != nil {
		return "", noop, fmt.Errorf("downloading %s: %w", rls, err)
	}
	if err := i.verify(path, rls); err != nil {
		_ = i.fs.Remove(path)
		return "", noop, err
	}
	return path, noop, nil
}

func (i *Installer) verify(path string, rls *dist.Release) error {
	f, err := i.fs.Open(path)
	if err != nil {
		return fmt.Errorf("%s: opening archive: %w", rls, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("%s: reading archive: %w", rls, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != rls.Digest {
		return fmt.Errorf("%s: got sha256 %s, want %s, please retry: %w", rls, got, rls.Digest, dist.ErrDigestMismatch)
	}
	return nil
}

func (i *Installer) recordCached(rls *dist.Release) error {
	md, err := i.store.LoadLocal(rls.Repo, rls.Name)
	if err != nil {
		return err
	}
	if md == nil {
		if rls.Metadata != nil {
			md = rls.Metadata.Clone()
		} else {
			md = &dist.PackageMetadata{Repo: rls.Repo, Name: rls.Name}
		}
		md.Releases = nil
		md.Created = i.now()
	}

	md.PutRelease(dist.ReleaseMetadata{
		Version:  rls.Version.String(),
		Path:     rls.Version.String() + index.ArchiveExt,
		Digest:   rls.Digest,
		Released: rls.ReleasedAt,
	})
	md.Updated = i.now()
	return i.store.SaveLocal(rls.Repo, rls.Name, md)
}

// Uninstall removes an installed project release and drops it from the
// recorder.
func (i *Installer) Uninstall(rls *dist.Release) error {
	if rls.Tier != dist.TierProject {
		return fmt.Errorf("%s is not a project release", rls)
	}

	dir := i.store.ProjectDir(rls.Repo, rls.Name)
	exists, err := afero.DirExists(i.fs, dir)
	if err != nil {
		return fmt.Errorf("checking %s: %w", dir, err)
	}
	if !exists {
		return fmt.Errorf("%s: %w", rls, dist.ErrReleaseNotFound)
	}

	if rls.Repo == dist.NoRepo {
		if err := i.checkOverlap(rls); err != nil {
			return err
		}
	}

	// The marker inside dir is the project tier's metadata; removing the
	// directory removes the release from it.
	if err := i.fs.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing %s: %w", dir, err)
	}
	if rls.Repo != dist.NoRepo {
		i.removeIfEmpty(filepath.Dir(dir))
	}

	if i.recorder != nil {
		i.recorder.RemovePackage(rls.Repo, rls.Name)
		if err := i.recorder.Save(); err != nil {
			return err
		}
	}

	i.logger.Info("uninstalled", "release", rls.String())
	return nil
}

// Prune removes a release from the local cache: its archive and its entry in
// the cached metadata. The metadata file and empty directories go once no
// releases remain.
func (i *Installer) Prune(rls *dist.Release) error {
	if rls.Tier != dist.TierLocal {
		return fmt.Errorf("%s is not a cached release", rls)
	}

	archive := i.store.CacheArchivePath(rls.Repo, rls.Name, rls.Version)
	err := i.fs.Remove(archive)
	missing := errors.Is(err, os.ErrNotExist)
	if err != nil && !missing {
		return fmt.Errorf("removing %s: %w", archive, err)
	}

	md, err := i.store.LoadLocal(rls.Repo, rls.Name)
	if err != nil {
		return err
	}
	stripped := md != nil && md.RemoveRelease(rls.Version.String())
	if missing && !stripped {
		return fmt.Errorf("%s: %w", rls, dist.ErrReleaseNotFound)
	}
	if missing {
		i.logger.Warn("cached archive already gone, dropping metadata entry", "release", rls.String())
	}

	if md != nil {
		if len(md.Releases) == 0 {
			if err := i.store.RemoveLocal(rls.Repo, rls.Name); err != nil {
				return err
			}
			dir := i.store.CacheDir(rls.Repo, rls.Name)
			i.removeIfEmpty(dir)
			i.removeIfEmpty(filepath.Dir(dir))
		} else {
			md.Updated = i.now()
			if err := i.store.SaveLocal(rls.Repo, rls.Name, md); err != nil {
				return err
			}
		}
	}

	i.logger.Info("pruned", "release", rls.String())
	return nil
}

// checkOverlap fails when replacing or removing the project directory of rls
// would touch another installed package.
func (i *Installer) checkOverlap(rls *dist.Release) error {
	ids, err := i.store.Overlapping(rls.Repo, rls.Name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, id.PackageName())
	}
	return fmt.Errorf("%s shares its directory with installed %s: %w", rls.PackageName(), strings.Join(names, ", "), dist.ErrPackageConflict)
}

// removeIfEmpty removes dir when it has no entries. Failures are ignored.
func (i *Installer) removeIfEmpty(dir string) {
	entries, err := afero.ReadDir(i.fs, dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = i.fs.Remove(dir)
}

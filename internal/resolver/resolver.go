package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/charmbracelet/log"

	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/index"
)

// Mode selects which tiers a resolution consults.
type Mode int

const (
	// ModeInstall merges the local cache and the registry.
	ModeInstall Mode = iota
	// ModeReinstall resolves like ModeInstall; the caller overwrites.
	ModeReinstall
	// ModeUninstall looks only at what the project has installed.
	ModeUninstall
	// ModePrune looks only at the local cache.
	ModePrune
)

func (m Mode) String() string {
	switch m {
	case ModeInstall:
		return "install"
	case ModeReinstall:
		return "reinstall"
	case ModeUninstall:
		return "uninstall"
	case ModePrune:
		return "prune"
	default:
		return "unknown"
	}
}

// Resolver picks the release a command acts on.
type Resolver struct {
	store  *index.Store
	logger *log.Logger
}

// NewResolver creates a resolver over store. Whether the registry is
// consulted follows store.Offline.
func NewResolver(store *index.Store, logger *log.Logger) *Resolver {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Resolver{store: store, logger: logger}
}

// Resolve returns the release for name under mode. When nothing matches the
// error wraps dist.ErrReleaseNotFound.
func (r *Resolver) Resolve(ctx context.Context, name dist.ReleaseName, mode Mode) (*dist.Release, error) {
	var (
		rls *dist.Release
		err error
	)
	switch mode {
	case ModeInstall, ModeReinstall:
		rls, err = r.resolveInstall(ctx, name)
	case ModeUninstall:
		rls, err = r.resolveTier(ctx, dist.TierProject, name)
	case ModePrune:
		rls, err = r.resolveTier(ctx, dist.TierLocal, name)
	default:
		return nil, fmt.Errorf("unknown resolve mode %d", mode)
	}
	if err != nil {
		return nil, err
	}
	if rls == nil {
		return nil, fmt.Errorf("%s: %w", name, dist.ErrReleaseNotFound)
	}

	r.logger.Debug("resolved", "package", name.String(), "mode", mode.String(), "version", rls.Version.String(), "tier", rls.Tier.String())
	return rls, nil
}

func (r *Resolver) resolveInstall(ctx context.Context, name dist.ReleaseName) (*dist.Release, error) {
	local, err := r.resolveTier(ctx, dist.TierLocal, name)
	if err != nil {
		return nil, err
	}

	var (
		remote    *dist.Release
		remoteErr error
	)
	if r.store.Offline() {
		r.logger.Debug("offline, skipping registry", "package", name.String())
	} else {
		remote, remoteErr = r.resolveTier(ctx, dist.TierRegistry, name)
	}

	switch {
	case remoteErr != nil && (local == nil || errors.Is(remoteErr, dist.ErrInvalidVersion)):
		return nil, remoteErr
	case remoteErr != nil:
		r.logger.Warn("registry unavailable, using local cache", "package", name.String(), "err", remoteErr)
		return local, nil
	case remote == nil:
		return local, nil
	case local != nil && local.Version.Compare(remote.Version) == 0:
		// The cached copy is the same release; reuse it instead of downloading.
		return local, nil
	default:
		return remote, nil
	}
}

func (r *Resolver) resolveTier(ctx context.Context, tier dist.Tier, name dist.ReleaseName) (*dist.Release, error) {
	pkg, err := r.store.Package(ctx, tier, name.Repo, name.Name)
	if err != nil || pkg == nil {
		return nil, err
	}
	if name.Version != "" {
		return pkg.GetRelease(name.Version)
	}
	return pkg.LatestRelease()
}

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenk/backoff"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/installer"
	"github.com/frederic-klein/collie/internal/resolver"
)

type installOptions struct {
	offline bool
	noCache bool
	force   bool
	retries int
}

func (o *installOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.offline, "offline", false, "Resolve from the local cache only")
	cmd.Flags().BoolVar(&o.noCache, "no-cache", false, "Do not keep downloaded archives in the local cache")
	cmd.Flags().IntVar(&o.retries, "retries", 0, "Retry failed downloads and digest mismatches up to N times")
}

func newInstallCmd(root *rootOptions) *cobra.Command {
	opts := &installOptions{}
	cmd := &cobra.Command{
		Use:     "install [package[@version]]",
		Aliases: []string{"add", "get"},
		Short:   "Install a package, or every package listed in collie.json",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(opts.offline)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return installAll(cmd.Context(), root, a, opts)
			}
			name, err := dist.ParseReleaseName(args[0])
			if err != nil {
				return err
			}
			return installOne(cmd.Context(), root, a, name, resolver.ModeInstall, opts, opts.force)
		},
	}
	opts.addFlags(cmd)
	cmd.Flags().BoolVarP(&opts.force, "force", "f", false, "Overwrite an installed release")
	return cmd
}

func newReinstallCmd(root *rootOptions) *cobra.Command {
	opts := &installOptions{}
	cmd := &cobra.Command{
		Use:   "reinstall <package[@version]>",
		Short: "Install a package over its installed release",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(opts.offline)
			if err != nil {
				return err
			}
			name, err := dist.ParseReleaseName(args[0])
			if err != nil {
				return err
			}
			return installOne(cmd.Context(), root, a, name, resolver.ModeReinstall, opts, true)
		},
	}
	opts.addFlags(cmd)
	return cmd
}

// installAll installs every package recorded in the project config at its
// recorded version, skipping those already installed at that version.
func installAll(ctx context.Context, root *rootOptions, a *app, opts *installOptions) error {
	names := a.project.PackageNames()
	if len(names) == 0 {
		root.logger.Info("nothing to install", "config", a.project.Path())
		return nil
	}

	for _, pkg := range names {
		name, err := dist.ParseReleaseName(pkg + "@" + a.project.Packages[pkg])
		if err != nil {
			return fmt.Errorf("%s: %w", a.project.Path(), err)
		}

		id, installed, err := a.store.ReadMarker(name.Repo, name.Name)
		if err != nil {
			return err
		}
		if installed && id.Version.String() == name.Version && !opts.force {
			root.logger.Debug("already installed", "package", pkg, "version", name.Version)
			continue
		}

		if err := installOne(ctx, root, a, name, resolver.ModeInstall, opts, installed || opts.force); err != nil {
			return err
		}
	}
	return nil
}

// installOne resolves and installs name, retrying transport failures and
// digest mismatches up to opts.retries times.
func installOne(ctx context.Context, root *rootOptions, a *app, name dist.ReleaseName, mode resolver.Mode, opts *installOptions, overwrite bool) error {
	op := func() error {
		rls, err := a.resolver.Resolve(ctx, name, mode)
		if err == nil {
			err = a.installer.Install(ctx, rls, installer.Options{UseCache: !opts.noCache, Overwrite: overwrite})
		}
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(opts.retries, 0))), ctx)

	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		root.logger.Warn("install failed, retrying", "package", name.String(), "in", wait, "err", err)
	})
}

func retryable(err error) bool {
	return errors.Is(err, dist.ErrTransport) || errors.Is(err, dist.ErrDigestMismatch)
}

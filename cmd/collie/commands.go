package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/frederic-klein/collie/internal/config"
	"github.com/frederic-klein/collie/internal/dist"
	"github.com/frederic-klein/collie/internal/resolver"
	"github.com/frederic-klein/collie/internal/snapshot"
)

func newInitCmd(root *rootOptions) *cobra.Command {
	var local, registry string
	cmd := &cobra.Command{
		Use:   "init [packagesPath]",
		Short: "Create collie.json in the project directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := root.project()
			if err != nil {
				return err
			}
			pc, err := config.LoadProjectConfig(root.fs, filepath.Join(dir, config.ProjectConfigName))
			if err != nil {
				return err
			}
			if pc.Exists() {
				return fmt.Errorf("%s already exists", pc.Path())
			}

			pc.PackagesPath = config.DefaultPackagesPath
			if len(args) == 1 {
				pc.PackagesPath = args[0]
			}
			pc.Local = local
			pc.Registry = config.NormalizeRegistryURL(registry)
			if err := pc.Save(); err != nil {
				return err
			}
			root.logger.Info("created", "config", pc.Path())
			return nil
		},
	}
	cmd.Flags().StringVar(&local, "local", "", "Local cache directory for this project")
	cmd.Flags().StringVar(&registry, "registry", "", "Registry URL for this project")
	return cmd
}

func newUninstallCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "uninstall <package>",
		Aliases: []string{"remove", "rm"},
		Short:   "Remove an installed package from the project",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(true)
			if err != nil {
				return err
			}
			name, err := dist.ParseReleaseName(args[0])
			if err != nil {
				return err
			}
			rls, err := a.resolver.Resolve(cmd.Context(), name, resolver.ModeUninstall)
			if err != nil {
				return err
			}
			return a.installer.Uninstall(rls)
		},
	}
}

func newListCmd(root *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List installed packages",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := snapshot.ParseFormat(format)
			if err != nil {
				return err
			}
			a, err := root.newApp(true)
			if err != nil {
				return err
			}
			ids, err := a.store.Installed()
			if err != nil {
				return err
			}
			return snapshot.NewEmitter(cmd.OutOrStdout()).Emit(ids, f)
		},
	}
	cmd.Flags().StringVar(&format, "format", string(snapshot.FormatTable), fmt.Sprintf("Output format %v", snapshot.Formats))
	return cmd
}

func newPruneCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "prune <package[@version]>",
		Short: "Drop cached releases from the local cache",
		Long:  "prune removes one cached release, or every cached release of the package when no version is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := root.newApp(true)
			if err != nil {
				return err
			}
			name, err := dist.ParseReleaseName(args[0])
			if err != nil {
				return err
			}

			pruned := 0
			for {
				rls, err := a.resolver.Resolve(cmd.Context(), name, resolver.ModePrune)
				if errors.Is(err, dist.ErrReleaseNotFound) && pruned > 0 {
					return nil
				}
				if err != nil {
					return err
				}
				if err := a.installer.Prune(rls); err != nil {
					return err
				}
				pruned++
				if name.Version != "" {
					return nil
				}
			}
		},
	}
}

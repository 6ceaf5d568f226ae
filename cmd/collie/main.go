package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/frederic-klein/collie/internal/config"
	"github.com/frederic-klein/collie/internal/downloader"
	"github.com/frederic-klein/collie/internal/extractor"
	"github.com/frederic-klein/collie/internal/index"
	"github.com/frederic-klein/collie/internal/installer"
	"github.com/frederic-klein/collie/internal/resolver"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

type rootOptions struct {
	verbose    bool
	projectDir string
	fs         afero.Fs
	logger     *log.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &rootOptions{fs: afero.NewOsFs(), logger: newLogger(os.Stderr)}
	if err := newRootCmd(opts).ExecuteContext(ctx); err != nil {
		opts.logger.Error(err)
		stop()
		os.Exit(1)
	}
}

func newLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{Prefix: config.AppName})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           config.AppName,
		Short:         "A package manager for front-end assets",
		Long:          "collie installs versioned package archives from a registry into a project, keeping a local cache of everything it downloads.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				opts.logger.SetLevel(log.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVarP(&opts.projectDir, "project", "C", "", "Project directory (default: working directory)")

	rootCmd.AddCommand(
		newInitCmd(opts),
		newInstallCmd(opts),
		newReinstallCmd(opts),
		newUninstallCmd(opts),
		newListCmd(opts),
		newPruneCmd(opts),
		newServeCmd(opts),
	)
	return rootCmd
}

// app is the wiring one command invocation works with.
type app struct {
	cfg       *config.Config
	project   *config.ProjectConfig
	store     *index.Store
	resolver  *resolver.Resolver
	installer *installer.Installer
}

func (o *rootOptions) project() (string, error) {
	if o.projectDir != "" {
		return filepath.Abs(o.projectDir)
	}
	return os.Getwd()
}

func (o *rootOptions) newApp(offline bool) (*app, error) {
	dir, err := o.project()
	if err != nil {
		return nil, fmt.Errorf("getting project directory: %w", err)
	}
	cfg, project, err := config.Load(config.LoadOptions{Fs: o.fs, ProjectDir: dir})
	if err != nil {
		return nil, err
	}
	dl := downloader.NewDownloader(o.fs,
		downloader.WithLogger(o.logger),
		downloader.WithUserAgent(config.AppName+"/"+version),
	)
	var registry *index.RegistryClient
	if !offline {
		registry = index.NewRegistryClient(cfg.Registry, dl)
	}
	store := index.NewStore(o.fs, cfg.LocalPackagesRoot(), cfg.ProjectPackagesRoot(), registry)

	registryURL := "offline"
	if registry != nil {
		registryURL = registry.Base()
	}
	o.logger.Debug("configuration", "cache", store.LocalRoot(), "packages", store.ProjectRoot(), "registry", registryURL)

	return &app{
		cfg:       cfg,
		project:   project,
		store:     store,
		resolver:  resolver.NewResolver(store, o.logger),
		installer: installer.New(o.fs, store, dl, extractor.NewExtractor(o.fs, o.logger), project, o.logger),
	}, nil
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/frederic-klein/collie/internal/registryserver"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var dir, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve a package directory as a registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return registryserver.New(root.fs, dir, root.logger).ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&dir, "root", ".", "Directory holding packages/{repo}/{name}")
	cmd.Flags().StringVar(&addr, "addr", ":26553", "Listen address")
	return cmd
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/kb-crawler/internal/server"
)

func newServeCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the job dispatcher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := server.Build(cmd.Context(), rt.cfg, rt.logger, server.Options{})
			if err != nil {
				return fmt.Errorf("build application: %w", err)
			}
			return app.Run(cmd.Context())
		},
	}
}

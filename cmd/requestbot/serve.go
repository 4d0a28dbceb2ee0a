package main

import (
	"github.com/spf13/cobra"

	corecmd "github.com/m3rciful/requestbot/core/cmd"
	"github.com/m3rciful/requestbot/internal/app"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return corecmd.Run(cmd.Context(), corecmd.Options{
				ConfigPath: opts.resolveConfigPath(),
				LoadConfig: app.LoadConfig,
				Bootstrap:  app.Bootstrap,
			})
		},
	}
}

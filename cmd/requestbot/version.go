package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/m3rciful/requestbot/core/buildinfo"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "requestbot", buildinfo.String())
			return err
		},
	}
}

package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the session as seen by a new process",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := openKeeper(cmd.Context())
		if err != nil {
			return err
		}
		defer k.Close()

		printSnapshot(k.State(), k.Snapshot(), k.ExpiringSoon())
		return nil
	},
}

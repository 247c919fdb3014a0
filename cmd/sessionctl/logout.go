package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutAllDevices bool

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session in every sessionctl process",
	Long: `Clear the shared credentials and broadcast a logout, so that processes
holding or watching the session end it. With --all-devices, a process holding the
session also asks the service to end every session of the user.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		k, err := openKeeper(cmd.Context())
		if err != nil {
			return err
		}
		defer k.Close()

		if err := k.Logout(cmd.Context(), logoutAllDevices); err != nil {
			return err
		}
		printState(k.State())
		fmt.Println("Logout broadcast sent")
		return nil
	},
}

func init() {
	logoutCmd.Flags().BoolVar(&logoutAllDevices, "all-devices", false, "End every session of the user")
}

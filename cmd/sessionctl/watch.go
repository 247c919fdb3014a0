package main

import (
	"fmt"

	"github.com/jrsteele09/go-session-keeper/session"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow logins and logouts made by other sessionctl processes",
	Long: `Open a tab on the shared storage and print every state change and
lifecycle event. A login held by another process is adopted here, and ended when
that process logs out.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signalContext(cmd.Context())
		defer cancel()

		k, err := openKeeper(ctx)
		if err != nil {
			return err
		}
		defer k.Close()

		printState(k.State())
		unsubscribe := k.Subscribe(func(s session.State) { printState(s) })
		defer unsubscribe()
		k.Events().OnAny(printEvent)

		fmt.Println("Watching for session changes, press Ctrl+C to stop")
		<-ctx.Done()
		return nil
	},
}

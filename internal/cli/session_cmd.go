package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wolfman30/movement-intake/internal/session"
)

func newResetCmd(app *App, open func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Discard the current conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := open(cmd); err != nil {
				return err
			}
			ctx := cmd.Context()
			sess, ok := session.Lookup(ctx, app.visitor(), app.deps())
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing to reset.")
				return nil
			}
			sess.Clear(ctx)
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation cleared.")
			return nil
		},
	}
}

func newExportCmd(app *App, open func(*cobra.Command) error) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the current conversation and its analysis as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := open(cmd); err != nil {
				return err
			}
			sess, ok := session.Lookup(cmd.Context(), app.visitor(), app.deps())
			if !ok {
				return errNoConversation
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sess.Export())
		},
	}
}

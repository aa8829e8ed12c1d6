package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/flealive/flealive/store"
)

// newExportCmd exports one conversation transcript from the message store
// as a compressed archive, for hand-off or offline inspection.
func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export <conversation-id>",
		Short: "Export a conversation transcript as a compressed archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(newViper().GetString("db_path"))
			if err != nil {
				return err
			}
			defer st.Close()

			blob, err := st.ExportTranscript(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(blob)
				return err
			}
			return os.WriteFile(output, blob, 0o644)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the archive to this file instead of stdout")
	return cmd
}

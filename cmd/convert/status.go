package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Print the current status of a conversion job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := root.open()
			if err != nil {
				return err
			}
			upd, err := sess.client.Status(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("status of %s: %w", args[0], err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", upd.TaskID, upd.Status)
			if upd.FileName != "" {
				fmt.Fprintf(out, "Download: %s\n", sess.client.DownloadURL(upd.FileName))
			}
			if upd.Message != "" {
				fmt.Fprintf(out, "Message: %s\n", upd.Message)
			}
			return nil
		},
	}
}

// Package audit implements the audit subcommand.
package audit

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/biogate/biogate-go/internal/runtime"
)

// Command creates the audit command, which prints the authentication
// decisions recorded for one username, newest first.
func Command(ctx *runtime.Context) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "audit <username>",
		Short: "Show recorded authentication decisions for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := ctx.DS.AccessLogs(args[0], limit)
			if err != nil {
				return err
			}
			if len(logs) == 0 {
				fmt.Println("No records.")
				return nil
			}
			for _, l := range logs {
				fmt.Printf("%s  %-12s %s\n",
					l.Timestamp.Format(time.RFC3339), l.Method, l.Status)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum records to show, 0 for all")
	return cmd
}

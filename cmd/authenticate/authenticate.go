// Package authenticate implements the auth subcommand.
package authenticate

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/biogate/biogate-go/internal/auth"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/logging"
	"github.com/biogate/biogate-go/internal/runtime"
)

// Command creates the auth command, which runs live two-factor
// verification attempts until one is granted or the retry budget runs
// out. Denial messages stay generic so a failed attempt does not leak
// which gate rejected or whose identity was claimed.
func Command(ctx *runtime.Context) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Run a live two-factor verification attempt",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.Collab.RequireAuthentication(); err != nil {
				return err
			}

			session := auth.NewSession(
				ctx.Settings, ctx.DS, ctx.Artifacts, ctx.Collab,
				logging.ForService("auth"))

			for attempt := 0; attempt <= retries; attempt++ {
				outcome, err := session.Run(cmd.Context())
				if err != nil {
					if errors.HasCategory(err, errors.CategoryCancellation) {
						fmt.Println("Cancelled.")
						return nil
					}
					return err
				}

				if outcome.Granted {
					fmt.Printf("Access granted: %s\n", outcome.Username)
					return nil
				}
				fmt.Println("Access denied.")
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 0, "Additional attempts after a denial")
	return cmd
}

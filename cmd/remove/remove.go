// Package remove implements the remove subcommand.
package remove

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/biogate/biogate-go/internal/calibrate"
	"github.com/biogate/biogate-go/internal/errors"
	"github.com/biogate/biogate-go/internal/logging"
	"github.com/biogate/biogate-go/internal/runtime"
)

// Command creates the remove command, which deletes a user's embeddings
// and media and recalibrates the remaining population so the artifacts
// never reference a removed identity.
func Command(ctx *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <username>",
		Short: "Remove an enrolled user and recalibrate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.Collab.RequireCalibration(); err != nil {
				return err
			}

			username := args[0]
			exists, err := ctx.DS.UserExists(username)
			if err != nil {
				return err
			}
			if !exists {
				return errors.Newf("user %q is not enrolled", username).
					Component("remove").
					Category(errors.CategoryNotFound).
					Build()
			}

			if err := ctx.DS.DeleteUserData(username); err != nil {
				return err
			}
			if err := ctx.Media.PurgeUser(username); err != nil {
				return err
			}

			seed := ctx.Settings.Calibration.Seed
			rng := rand.New(rand.NewPCG(seed, seed))
			if _, err := calibrate.Refresh(
				ctx.DS, ctx.Artifacts, ctx.Collab.ClassifierFactory,
				ctx.Settings, rng, logging.ForService("remove")); err != nil {
				return err
			}

			fmt.Printf("Removed %s.\n", username)
			return nil
		},
	}
}

// Package enroll implements the enroll subcommand.
package enroll

import (
	"fmt"
	"math/rand/v2"

	"github.com/spf13/cobra"

	enrollment "github.com/biogate/biogate-go/internal/enroll"
	"github.com/biogate/biogate-go/internal/logging"
	"github.com/biogate/biogate-go/internal/runtime"
)

// Command creates the enroll command, which runs the full enrollment
// transaction for one user from the recorded samples in the media
// directory.
func Command(ctx *runtime.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enroll <username>",
		Short: "Enroll a user from recorded face and voice samples",
		Long: `Runs the enrollment transaction: denoise and augment the recorded
samples, extract embeddings, retrain the classifier and recalibrate all
thresholds. A failure at any stage rolls every store back to its
pre-enrollment state.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.Collab.RequireEnrollment(); err != nil {
				return err
			}

			username := args[0]
			seed := ctx.Settings.Calibration.Seed
			rng := rand.New(rand.NewPCG(seed, seed))

			pipeline := enrollment.NewPipeline(
				ctx.Settings, ctx.DS, ctx.Media, ctx.Artifacts, ctx.Collab,
				logging.ForService("enroll"), rng)

			res := <-pipeline.Start(cmd.Context(), username)
			if res.Err != nil {
				fmt.Println("Enrollment failed; all stores were rolled back.")
				return res.Err
			}

			fmt.Printf("Enrolled %s.\n", username)
			return nil
		},
	}

	return cmd
}

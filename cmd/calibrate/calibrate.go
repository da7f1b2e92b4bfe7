// Package calibrate implements the calibrate subcommand.
package calibrate

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/spf13/cobra"

	"github.com/biogate/biogate-go/internal/calibrate"
	"github.com/biogate/biogate-go/internal/logging"
	"github.com/biogate/biogate-go/internal/runtime"
)

// Command creates the calibrate command, which recomputes the face
// classifier and every threshold from the stored embeddings and prints
// a summary. Useful after restoring a database or changing calibration
// settings.
func Command(ctx *runtime.Context) *cobra.Command {
	return &cobra.Command{
		Use:   "calibrate",
		Short: "Recompute thresholds and the face model from stored embeddings",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := ctx.Collab.RequireCalibration(); err != nil {
				return err
			}

			seed := ctx.Settings.Calibration.Seed
			rng := rand.New(rand.NewPCG(seed, seed))

			sum, err := calibrate.Refresh(
				ctx.DS, ctx.Artifacts, ctx.Collab.ClassifierFactory,
				ctx.Settings, rng, logging.ForService("calibrate"))
			if err != nil {
				return err
			}

			printSummary(sum)
			return nil
		},
	}
}

func printSummary(sum *calibrate.Summary) {
	if sum.FaceTrained {
		fmt.Printf("Face model: %d classes, global threshold %.4f\n",
			len(sum.FaceClasses), sum.GlobalThreshold)
		for _, cls := range sum.FaceClasses {
			if thr, ok := sum.ClassThresholds[cls]; ok {
				fmt.Printf("  %-20s %.4f\n", cls, thr)
			} else {
				fmt.Printf("  %-20s (global)\n", cls)
			}
		}
	} else {
		fmt.Println("Face model: no face embeddings stored")
	}

	users := make([]string, 0, len(sum.VoiceThresholds))
	for u := range sum.VoiceThresholds {
		users = append(users, u)
	}
	sort.Strings(users)

	fmt.Printf("Voice thresholds: %d users\n", len(users))
	for _, u := range users {
		fmt.Printf("  %-20s %.4f\n", u, sum.VoiceThresholds[u])
	}
}

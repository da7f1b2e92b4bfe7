package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/biogate/biogate-go/cmd/audit"
	"github.com/biogate/biogate-go/cmd/authenticate"
	"github.com/biogate/biogate-go/cmd/calibrate"
	"github.com/biogate/biogate-go/cmd/enroll"
	"github.com/biogate/biogate-go/cmd/remove"
	"github.com/biogate/biogate-go/internal/runtime"
)

// RootCommand creates and returns the root command
func RootCommand(ctx *runtime.Context) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "biogate",
		Short:   "Two-factor biometric access control CLI",
		Version: ctx.Build.Version,
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, ctx)

	subcommands := []*cobra.Command{
		enroll.Command(ctx),
		authenticate.Command(ctx),
		calibrate.Command(ctx),
		remove.Command(ctx),
		audit.Command(ctx),
	}

	rootCmd.AddCommand(subcommands...)

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, ctx *runtime.Context) error {
	rootCmd.PersistentFlags().BoolVarP(&ctx.Settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}

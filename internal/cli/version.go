package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"macsweep/internal/config"
	"macsweep/internal/version"
)

// addVersionCommand adds the version command
func (app *App) addVersionCommand(rootCmd *cobra.Command) {
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the version of macsweep with build information.`,
		Run: func(cmd *cobra.Command, _ []string) {
			detailed, _ := cmd.Flags().GetBool("detailed")
			if detailed {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetDetailedVersion())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "macsweep %s\n", version.GetVersion())
			}
		},
	}

	versionCmd.Flags().Bool("detailed", false, "Show detailed version information")
	rootCmd.AddCommand(versionCmd)
}

// addInitCommand adds the init command
func (app *App) addInitCommand(rootCmd *cobra.Command) {
	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a harness config template",
		Long: `Write an annotated macsweep.yaml holding the default harness settings.
An existing file is left alone unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultFileName
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.Success.Render("Wrote"), path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	rootCmd.AddCommand(initCmd)
}

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss/list"
	"github.com/spf13/cobra"

	"macsweep/internal/params"
	"macsweep/internal/patcher"
	"macsweep/internal/runner"
)

// addSweepCommands adds the sweep, list and patch commands
func (app *App) addSweepCommands(rootCmd *cobra.Command) {
	var (
		sets       []string
		repeats    int
		paramsFile string
		resultsDir string
	)

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run the parameter sweep",
		Long: `Run every parameter set the configured number of times, then write
results_YYYYMMDD_HHMMSS.json to the results directory. The constants file is
restored when the sweep ends, including on Ctrl-C; results gathered so far are
still written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			if repeats > 0 {
				cfg.Repeats = repeats
			}
			if resultsDir != "" {
				cfg.ResultsDir = resultsDir
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			space, err := loadSpace(cfg, paramsFile)
			if err != nil {
				return err
			}
			if space, err = space.Select(sets...); err != nil {
				return err
			}

			r := runner.New(cfg, space)
			runErr := r.Run(cmd.Context())

			store := r.Session().Store
			if runErr != nil && store.Len() == 0 {
				return runErr
			}
			path, err := store.Persist(cfg.ResultsPath())
			if err != nil {
				return errors.Join(runErr, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", styles.Success.Render("Results written to"), path)
			renderSummary(cmd.OutOrStdout(), store.GroupByConfig())
			return runErr
		},
	}
	sweepCmd.Flags().StringSliceVar(&sets, "sets", nil, "Only run these parameter sets (comma separated)")
	sweepCmd.Flags().IntVar(&repeats, "repeats", 0, "Repeats per set (default from config)")
	sweepCmd.Flags().StringVar(&paramsFile, "params", "", "Parameter space file (.yaml, .yml or .toml)")
	sweepCmd.Flags().StringVar(&resultsDir, "results-dir", "", "Directory for the results document")

	var listParams string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the parameter sets in sweep order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			space, err := loadSpace(cfg, listParams)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderSpace(space))
			return nil
		},
	}
	listCmd.Flags().StringVar(&listParams, "params", "", "Parameter space file (.yaml, .yml or .toml)")

	var patchParams string
	patchCmd := &cobra.Command{
		Use:   "patch <set>",
		Short: "Preview the constants rewrite for one set",
		Long: `Show the lines of the constants file that the sweep would change for the
given parameter set. The file itself is not modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig()
			if err != nil {
				return err
			}
			space, err := loadSpace(cfg, patchParams)
			if err != nil {
				return err
			}
			set, ok := space.Lookup(args[0])
			if !ok {
				return fmt.Errorf("%w: %s", params.ErrUnknownSet, args[0])
			}

			preview, err := patcher.PreviewFile(cfg.ConstsPath(), set)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", styles.Title.Render(set.Name()), styles.Muted.Render(cfg.ConstsPath()))
			if preview.Diff == "" {
				fmt.Fprintln(out, styles.Muted.Render("no changes"))
			} else {
				fmt.Fprint(out, renderDiff(preview.Diff))
			}
			if len(preview.Report.Skipped) > 0 {
				fmt.Fprintf(out, "%s %s\n", styles.Warning.Render("not declared:"), strings.Join(preview.Report.Skipped, ", "))
			}
			return nil
		},
	}
	patchCmd.Flags().StringVar(&patchParams, "params", "", "Parameter space file (.yaml, .yml or .toml)")

	rootCmd.AddCommand(sweepCmd, listCmd, patchCmd)
}

// renderSpace lists every set with its constants nested underneath.
func renderSpace(space *params.Space) string {
	l := list.New().Enumerator(list.Arabic).EnumeratorStyle(styles.Muted)
	for _, set := range space.Sets() {
		values := make([]any, 0, set.Len())
		for _, k := range set.Keys() {
			v, _ := set.Get(k)
			values = append(values, fmt.Sprintf("%s = %d", k, v))
		}
		l.Item(styles.Title.Render(set.Name()))
		l.Item(list.New(values...).Enumerator(list.Dash).EnumeratorStyle(styles.Muted))
	}
	return l.String()
}

func renderDiff(diff string) string {
	var sb strings.Builder
	for _, line := range strings.SplitAfter(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "- "):
			sb.WriteString(styles.Error.Render(strings.TrimSuffix(line, "\n")) + "\n")
		case strings.HasPrefix(line, "+ "):
			sb.WriteString(styles.Success.Render(strings.TrimSuffix(line, "\n")) + "\n")
		default:
			sb.WriteString(line)
		}
	}
	return sb.String()
}

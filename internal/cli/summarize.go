package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"macsweep/internal/results"
)

// addSummarizeCommand adds the summarize command
func (app *App) addSummarizeCommand(rootCmd *cobra.Command) {
	summarizeCmd := &cobra.Command{
		Use:   "summarize <results.json>",
		Short: "Summarize a results document per parameter set",
		Long: `Group the repeats of a results document by parameter set and show the mean
and standard deviation of max_time. Repeats where no role finished are counted
as incomplete and left out of the statistics.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := results.Load(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s  %s\n", styles.Title.Render("session"), doc.SessionID,
				styles.Muted.Render(doc.Timestamp.Format("2006-01-02 15:04:05")))
			renderSummary(out, results.FromDocument(doc).GroupByConfig())
			return nil
		},
	}
	rootCmd.AddCommand(summarizeCmd)
}

// renderSummary writes one table row per configuration.
func renderSummary(w io.Writer, groups []results.GroupStats) {
	if len(groups) == 0 {
		fmt.Fprintln(w, styles.Muted.Render("no results"))
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(styles.Border).
		Headers("CONFIG", "RUNS", "INCOMPLETE", "MEAN (s)", "STD (s)", "ROLE MEANS (s)").
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			if col == 2 && groups[row].Incomplete > 0 {
				return styles.Warning.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		})

	for _, g := range groups {
		mean, std := "-", "-"
		if len(g.MaxTimes) > 0 {
			mean = fmt.Sprintf("%.3f", g.Mean)
			std = fmt.Sprintf("%.3f", g.StdDev)
		}
		t.Row(g.ConfigName, fmt.Sprint(g.Runs), fmt.Sprint(g.Incomplete), mean, std, roleMeans(g.RoleMeans))
	}
	fmt.Fprintln(w, t.Render())
}

func roleMeans(m map[string]float64) string {
	roles := make([]string, 0, len(m))
	for r := range m {
		roles = append(roles, r)
	}
	sort.Strings(roles)
	parts := make([]string, 0, len(roles))
	for _, r := range roles {
		parts = append(parts, fmt.Sprintf("%s=%.2f", r, m[r]))
	}
	return strings.Join(parts, " ")
}

package patcher

import (
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"macsweep/internal/params"
)

// Preview describes what Apply would write, without writing it.
type Preview struct {
	Report  ApplyReport
	Patched []byte
	Diff    string
}

// PreviewFile computes the patch of set against the file at path. The file is only read.
func PreviewFile(path string, set params.Set) (Preview, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Preview{}, fmt.Errorf("failed to read configuration source: %w", err)
	}
	patched, report := rewrite(data, set)
	return Preview{
		Report:  report,
		Patched: patched,
		Diff:    LineDiff(string(data), string(patched)),
	}, nil
}

// LineDiff renders a line-oriented unified-style diff: changed lines get -/+ prefixes,
// unchanged lines are omitted. An empty string means no differences.
func LineDiff(before, after string) string {
	if before == after {
		return ""
	}

	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var sb strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		default:
			continue
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			sb.WriteString(prefix)
			sb.WriteString(strings.TrimSuffix(line, "\n"))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

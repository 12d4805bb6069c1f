package feedback

import (
	"strings"
	"unicode"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/noah-isme/gema-autograder-api/internal/models"
)

// DiffOptions controls how leniently actual output is compared to expected output.
type DiffOptions struct {
	IgnoreCase              bool
	IgnoreWhitespace        bool
	IgnoreWhitespaceChanges bool
	IgnoreBlankLines        bool
}

// DiffOptionsFor reads the comparison options configured on a command.
func DiffOptionsFor(cmd models.AGTestCommand) DiffOptions {
	return DiffOptions{
		IgnoreCase:              cmd.IgnoreCase,
		IgnoreWhitespace:        cmd.IgnoreWhitespace,
		IgnoreWhitespaceChanges: cmd.IgnoreWhitespaceChanges,
		IgnoreBlankLines:        cmd.IgnoreBlankLines,
	}
}

// OutputsMatch reports whether actual equals expected under the options.
func OutputsMatch(expected, actual string, opts DiffOptions) bool {
	want := normalizeLines(expected, opts)
	got := normalizeLines(actual, opts)
	if len(want) != len(got) {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

// Diff renders a unified diff from expected to actual. Matching output yields an empty diff.
func Diff(expected, actual string, opts DiffOptions) (string, error) {
	if OutputsMatch(expected, actual, opts) {
		return "", nil
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(expected),
		B:        difflib.SplitLines(actual),
		FromFile: "expected",
		ToFile:   "actual",
		Context:  3,
	})
}

func normalizeLines(text string, opts DiffOptions) []string {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	normalized := make([]string, 0, len(lines))
	for _, line := range lines {
		if opts.IgnoreCase {
			line = strings.ToLower(line)
		}
		switch {
		case opts.IgnoreWhitespace:
			line = strings.Map(func(r rune) rune {
				if unicode.IsSpace(r) {
					return -1
				}
				return r
			}, line)
		case opts.IgnoreWhitespaceChanges:
			line = strings.Join(strings.Fields(line), " ")
		}
		if opts.IgnoreBlankLines && strings.TrimSpace(line) == "" {
			continue
		}
		normalized = append(normalized, line)
	}
	return normalized
}

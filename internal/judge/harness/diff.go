package harness

import (
	"fmt"
	"strings"
)

const (
	// MaxDiffLen bounds the diff attached to a WA case.
	MaxDiffLen = 2000

	diffTruncated = "[diff truncated]"
	noLine        = "<no line>"
)

// Diff renders the differing lines of the normalized texts. The result never
// exceeds maxLen bytes; when entries are dropped it ends with a truncation marker.
func Diff(expected, actual string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = MaxDiffLen
	}
	exp := splitLines(Normalize(expected))
	act := splitLines(Normalize(actual))

	var b strings.Builder
	n := max(len(exp), len(act))
	for i := 0; i < n; i++ {
		e, a := lineAt(exp, i), lineAt(act, i)
		if e == a && i < len(exp) && i < len(act) {
			continue
		}
		entry := fmt.Sprintf("Line %d:\n  Expected: %s\n  Actual:   %s", i+1, e, a)
		sep := ""
		if b.Len() > 0 {
			sep = "\n"
		}
		if b.Len()+len(sep)+len(entry) > maxLen-len(diffTruncated)-1 {
			return truncated(b.String(), maxLen)
		}
		b.WriteString(sep)
		b.WriteString(entry)
	}
	return b.String()
}

func truncated(s string, maxLen int) string {
	if s == "" {
		if len(diffTruncated) > maxLen {
			return ""
		}
		return diffTruncated
	}
	return s + "\n" + diffTruncated
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return noLine
}

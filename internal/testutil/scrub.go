package testutil

import (
	"regexp"
	"strings"
)

var (
	rfc3339Pattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:\d{2})`)
	minutePattern  = regexp.MustCompile(`\d{4}-\d{2}-\d{2} \d{2}:\d{2}`)
	uuidPattern    = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// ScrubOutput replaces the run-dependent parts of CLI output (timestamps,
// generated ids, the working directory) with stable placeholders and trims
// trailing whitespace so output can be compared literally.
func ScrubOutput(s, workdir string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = rfc3339Pattern.ReplaceAllString(s, "[TIME]")
	s = minutePattern.ReplaceAllString(s, "[TIME]")
	s = uuidPattern.ReplaceAllString(s, "[UUID]")
	if workdir != "" {
		s = strings.ReplaceAll(s, workdir, "[WORKDIR]")
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}

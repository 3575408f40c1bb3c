package transcript

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// ParseLines splits data on newlines and calls fn for each non-empty
// line that parses as a JSON object. A malformed line is skipped
// individually rather than aborting the scan, per spec.md §4.8.
func ParseLines(data []byte, fn func(obj map[string]any)) {
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			continue
		}
		fn(obj)
	}
}

var xmlLikeTag = regexp.MustCompile(`^\s*<[a-zA-Z][^>]*>`)

const systemMessagePlaceholder = "(system message)"

// PreviewLine truncates s to maxLen and replaces XML-like tag-leading
// content with a fixed placeholder, matching the last-message preview
// behavior described in spec.md §4.15 line 3.
func PreviewLine(s string, maxLen int) string {
	trimmed := strings.TrimSpace(s)
	if xmlLikeTag.MatchString(trimmed) {
		return systemMessagePlaceholder
	}
	if len(trimmed) <= maxLen {
		return trimmed
	}
	if maxLen <= 1 {
		return trimmed[:maxLen]
	}
	return trimmed[:maxLen-1] + "…"
}

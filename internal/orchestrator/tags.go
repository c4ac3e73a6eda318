package orchestrator

import (
	"strings"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// genderWords are dropped from extracted tags; gender styling comes from the
// prompt template, not from the vision model's phrasing.
var genderWords = map[string]bool{
	"male": true, "female": true, "man": true, "woman": true,
	"boy": true, "girl": true, "men": true, "women": true,
}

const maxTags = 12

// CleanTags turns a raw vision-model reply into a bounded, deduplicated tag
// list. Model replies arrive wrapped in code fences, quotes or prose; every
// such layer is stripped before splitting.
func CleanTags(raw string, _ model.Gender) []string {
	s := stripFences(raw)
	s = strings.Trim(s, "\"'“”")
	s = strings.NewReplacer("，", ",", "、", ",", "\n", ",").Replace(s)

	seen := make(map[string]bool)
	var tags []string
	for _, part := range strings.Split(s, ",") {
		tag := strings.ToLower(strings.Trim(strings.TrimSpace(part), ".\"'"))
		if tag == "" || genderWords[tag] || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
		if len(tags) == maxTags {
			break
		}
	}
	return tags
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop an optional language marker on the opening fence line.
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.Contains(s[:i], ",") {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// cleanCaption normalizes a generated caption to its first non-empty line,
// unquoted.
func cleanCaption(raw string) string {
	s := stripFences(raw)
	for _, line := range strings.Split(s, "\n") {
		line = strings.Trim(strings.TrimSpace(line), "\"'“”「」")
		if line != "" {
			return line
		}
	}
	return ""
}

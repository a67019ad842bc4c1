package promptctx

import (
	"sort"
	"strings"
)

// Capabilities renders the capabilities section for the active categories.
// Empty categories (or a lone "none") mean the turn will use no tools, so
// no capabilities are advertised; the command list is always appended
// because slash commands work regardless of tool selection.
func Capabilities(categories []string, descriptions map[string]string, commands string) string {
	if len(categories) == 0 || (len(categories) == 1 && categories[0] == "none") {
		return ""
	}
	var lines []string
	seen := make(map[string]bool)
	for _, cat := range categories {
		desc, ok := descriptions[cat]
		if !ok || seen[cat] {
			continue
		}
		seen[cat] = true
		lines = append(lines, "- "+cat+": "+desc)
	}
	sort.Strings(lines)
	var sb strings.Builder
	sb.WriteString(strings.Join(lines, "\n"))
	if commands != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(commands)
	}
	return sb.String()
}

package tools

// DefaultMaxTools is the regular-tool budget per LLM call.
const DefaultMaxTools = 8

// SelectTools maps categories to concrete tools under a proportional
// budget: each category contributes up to max(2, maxTools/N) tools in
// declaration order, and the overall list is truncated to maxTools. With
// a single category this degenerates to "up to maxTools from it".
func SelectTools(categories []string, bindings []CategoryBinding, all map[string]Tool, maxTools int) []Tool {
	if maxTools <= 0 {
		maxTools = DefaultMaxTools
	}
	if len(categories) == 0 {
		return nil
	}
	perCat := maxTools / len(categories)
	if perCat < 2 {
		perCat = 2
	}

	byTag := make(map[string][]string, len(bindings))
	for _, b := range bindings {
		byTag[b.Tag] = b.ToolNames
	}

	var selected []Tool
	seen := make(map[string]bool)
	for _, cat := range categories {
		taken := 0
		for _, name := range byTag[cat] {
			if taken >= perCat {
				break
			}
			tool, ok := all[name]
			if !ok || seen[name] {
				continue
			}
			seen[name] = true
			selected = append(selected, tool)
			taken++
		}
	}
	if len(selected) > maxTools {
		selected = selected[:maxTools]
	}
	return selected
}

package gatekeeper

import "regexp"

// qaRefRe matches the inline citation marker memorysync.RenderMemoryContext embeds into the
// prompt context for each injected item: [[qa:<id>]]. A run's stdout tail
// is scanned for these markers after the session completes to recover
// which qa_ids the backend actually cited in its answer.
var qaRefRe = regexp.MustCompile(`\[\[qa:([A-Za-z0-9_\-]+)\]\]`)

// ExtractQARefs returns the distinct qa_ids cited via [[qa:<id>]] markers
// in text, in order of first appearance.
func ExtractQARefs(text string) []string {
	matches := qaRefRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Package template substitutes {{var}} placeholders with execution context values.
package template

import (
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Render replaces every {{name}} in input with vars[name]. Unknown names render as "".
func Render(input string, vars map[string]string) string {
	if !strings.Contains(input, "{{") {
		return input
	}

	return placeholder.ReplaceAllStringFunc(input, func(match string) string {
		name := placeholder.FindStringSubmatch(match)[1]

		return vars[name]
	})
}

// RenderAll renders each input in order.
func RenderAll(inputs []string, vars map[string]string) []string {
	out := make([]string, len(inputs))
	for i, input := range inputs {
		out[i] = Render(input, vars)
	}

	return out
}

// Missing returns the placeholder names in input that vars does not define, in order of appearance.
func Missing(input string, vars map[string]string) []string {
	var missing []string

	for _, match := range placeholder.FindAllStringSubmatch(input, -1) {
		if _, ok := vars[match[1]]; !ok {
			missing = append(missing, match[1])
		}
	}

	return missing
}

package planner

import (
	"regexp"
	"strings"
)

var (
	// fencedObject pulls a JSON object out of a markdown code block.
	fencedObject = regexp.MustCompile("(?s)\x60\x60\x60(?:json)?\\s*(\\{.*\\})\\s*\x60\x60\x60")
	// outerObject is the span from the first '{' to the last '}'.
	outerObject = regexp.MustCompile(`(?s)\{.*\}`)
)

// extractObject finds the JSON object in a model response, tolerating a
// markdown fence or conversational text around it.
func extractObject(response string) (string, bool) {
	response = strings.TrimSpace(response)
	if m := fencedObject.FindStringSubmatch(response); len(m) > 1 {
		return m[1], true
	}
	if m := outerObject.FindString(response); m != "" {
		return m, true
	}
	return "", false
}

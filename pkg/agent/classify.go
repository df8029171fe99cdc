package agent

import (
	"strings"

	"github.com/gridmind/gridmind/pkg/domain"
)

// Marker sets for the classification fallback. These only apply when the
// reasoning service did not self-classify its final answer.
var (
	clarifyMarkers = []string{
		"please specify",
		"please provide",
		"please clarify",
		"could you clarify",
		"which column",
		"which table",
		"what condition",
		"need more information",
	}
	errorMarkers = []string{
		"error",
		"failed",
		"cannot",
		"unable to",
		"not found",
		"does not exist",
	}
	mutationKeywords = []string{
		"insert",
		"update",
		"delete",
		"alter",
		"drop",
		"replace",
	}
)

// classify derives a response type from the terminal outcome fields. Pure
// function of its inputs: identical inputs always yield the same tag.
func classify(explanation, code string, commands []domain.UICommand) domain.ResponseType {
	lower := strings.ToLower(explanation)

	if strings.HasSuffix(strings.TrimSpace(explanation), "?") || containsAny(lower, clarifyMarkers) {
		return domain.ResponseClarify
	}
	if containsAny(lower, errorMarkers) {
		return domain.ResponseError
	}
	if len(commands) > 0 && code == "" {
		return domain.ResponseUI
	}
	if code != "" && containsAny(strings.ToLower(code), mutationKeywords) {
		return domain.ResponseData
	}
	if code != "" && len(commands) > 0 {
		return domain.ResponseMixed
	}
	return domain.ResponseAnswer
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

package routing

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/magi/pkg/models"
)

var (
	codeRegex    = regexp.MustCompile(`(?i)\b(func|class|def|package|import|select|insert|update|delete)\b`)
	reasonRegex  = regexp.MustCompile(`(?i)\b(analyze|reason|think through|derive|prove|why|tradeoff)\b`)
	quickRegex   = regexp.MustCompile(`(?i)\b(what is|define|quick|brief|summary)\b`)
	markdownCode = regexp.MustCompile("```")
)

// InferClass picks a model class from the last user message's content
// when an AgentDefinition leaves ModelClass unset, grounded on the
// teacher's HeuristicClassifier content-tag rules, adapted from
// provider-routing tags to model classes directly. Falls back to
// models.ClassStandard.
func InferClass(content string) models.ModelClass {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.ClassStandard
	}
	lower := strings.ToLower(content)

	if markdownCode.MatchString(content) || codeRegex.MatchString(lower) {
		return models.ClassCode
	}
	if reasonRegex.MatchString(lower) {
		return models.ClassReasoning
	}
	if quickRegex.MatchString(lower) || len(lower) < 80 {
		return models.ClassMini
	}
	return models.ClassStandard
}

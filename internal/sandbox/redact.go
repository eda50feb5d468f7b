package sandbox

import (
	"regexp"
	"strings"
)

// secretPatterns match known API key and token formats in sandbox output.
var secretPatterns = []*regexp.Regexp{
	// Anthropic keys: sk-ant-... (before the generic sk- pattern)
	regexp.MustCompile(`sk-ant-[a-zA-Z0-9\-]{20,}`),
	// OpenAI keys: sk-...
	regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`),
	// Groq keys: gsk_...
	regexp.MustCompile(`gsk_[a-zA-Z0-9]{20,}`),
	// AWS access key IDs
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// Generic long hex tokens
	regexp.MustCompile(`\b[a-f0-9]{64,}\b`),
	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9\-_.]{20,}`),
}

const redactPlaceholder = "[REDACTED]"

var envKeyValuePattern = regexp.MustCompile(
	`(?im)^(?:declare -x |export )?` +
		`(TRUSTGATE_\w*|OPENAI_\w*|ANTHROPIC_\w*|GROQ_\w*|API_KEY|API_SECRET)` +
		`[= ].*$`,
)

// RedactOutput masks credentials in sandbox output and returns the redacted
// text and the number of matches.
func RedactOutput(output string) (string, int) {
	count := 0
	result := output
	for _, re := range secretPatterns {
		if matches := re.FindAllString(result, -1); len(matches) > 0 {
			count += len(matches)
			result = re.ReplaceAllString(result, redactPlaceholder)
		}
	}

	if envMatches := envKeyValuePattern.FindAllString(result, -1); len(envMatches) > 0 {
		count += len(envMatches)
		result = envKeyValuePattern.ReplaceAllString(result, redactPlaceholder)
	}

	for strings.Contains(result, redactPlaceholder+"\n"+redactPlaceholder) {
		result = strings.ReplaceAll(result, redactPlaceholder+"\n"+redactPlaceholder, redactPlaceholder)
	}
	return result, count
}

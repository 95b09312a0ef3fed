package policy

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: credentials go first so their digits are not taken for
// card or phone numbers, and cards go before phones for the same reason.
var redactions = []redaction{
	{
		pattern:     regexp.MustCompile(`(?i)\b((?:api[_-]?key|access[_-]?token|token|secret|password|passwd|session[_-]?id)=)[^&\s;]+`),
		replacement: "${1}[REDACTED_CREDENTIAL]",
	},
	{
		pattern:     regexp.MustCompile(`(?i)\b(?:bearer|basic|token)\s+[A-Za-z0-9._~+/\-]+=*`),
		replacement: "[REDACTED_CREDENTIAL]",
	},
	{
		pattern:     regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
		replacement: "[REDACTED_EMAIL]",
	},
	{
		pattern:     regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`),
		replacement: "[REDACTED_CARD]",
	},
	{
		pattern:     regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`),
		replacement: "[REDACTED_PHONE]",
	},
}

// Redact masks credentials and common PII in a client supplied value before
// it reaches the hit log.
func Redact(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactions {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// ScrubQuery returns a raw query string that is safe for one log line.
func ScrubQuery(rawQuery string) string {
	out, _ := Redact(FlattenLine(rawQuery))
	return out
}

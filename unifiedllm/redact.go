package unifiedllm

import "regexp"

var redactRules = []struct {
	pattern *regexp.Regexp
	repl    string
}{
	{regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`), "Bearer [REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key["\s:=]+)[^\s",}]+`), "${1}[REDACTED]"},
}

// RedactString masks credentials that may appear in provider payloads or
// error bodies before they are logged.
func RedactString(s string) string {
	for _, r := range redactRules {
		s = r.pattern.ReplaceAllString(s, r.repl)
	}
	return s
}

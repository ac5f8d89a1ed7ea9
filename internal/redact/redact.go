package redact

import "strings"

// Email keeps the first two characters of the local part.
func Email(s string) string {
	local, domain, ok := strings.Cut(s, "@")
	if !ok || domain == "" {
		return "***"
	}
	if len(local) > 2 {
		local = local[:2] + "***"
	} else {
		local = "***"
	}
	return local + "@" + domain
}

// Token shows only the last four characters so log lines can still be correlated.
func Token(tok string) string {
	if len(tok) <= 8 {
		return "[REDACTED_TOKEN]"
	}
	return "[REDACTED_TOKEN]..." + tok[len(tok)-4:]
}

func Password() string { return "[REDACTED_PASSWORD]" }

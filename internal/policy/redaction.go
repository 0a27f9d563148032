package policy

import "strings"

// RedactSecret masks a credential for logs, keeping only a short prefix so operators can tell values apart.
func RedactSecret(secret string) string {
	s := strings.TrimSpace(secret)
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "[REDACTED]"
	}
	return s[:4] + "...[REDACTED]"
}

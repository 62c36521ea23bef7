package logging

import (
	"regexp"
	"sort"
	"strings"
)

// Sanitizer redacts sensitive information from log messages. Incident text
// and agent output are logged verbatim at debug level, so credentials pasted
// into an incident must not reach the log sink.
type Sanitizer struct {
	patterns []*regexp.Regexp
	secrets  []string
	redacted string
}

var urlPassword = regexp.MustCompile(`(?i)((?:postgres|postgresql|mysql|redis|amqp)://[^:/\s@]+:)[^@\s]+@`)

// NewSanitizer creates a sanitizer with default patterns.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultPatterns(),
		redacted: "[REDACTED]",
	}
}

func defaultPatterns() []*regexp.Regexp {
	patterns := []string{
		// Model provider keys
		`sk-[A-Za-z0-9-]{20,}`,
		`AIza[a-zA-Z0-9_-]{35}`,
		// GitHub tokens
		`gh[pousr]_[A-Za-z0-9]{36}`,
		// AWS Access Key
		`AKIA[0-9A-Z]{16}`,
		`(?i)aws[_-]?secret[_-]?access[_-]?key["'\s:=]+[A-Za-z0-9/+=]{40}`,
		// Slack tokens
		`xox[baprs]-[0-9a-zA-Z-]{10,}`,
		// Generic Bearer tokens
		`(?i)bearer\s+[a-zA-Z0-9._-]{20,}`,
		// Generic API keys
		`(?i)api[_-]?key["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic secrets
		`(?i)secret["'\s:=]+[a-zA-Z0-9_-]{20,}`,
		// Generic passwords
		`(?i)password["'\s:=]+[^\s"']{8,}`,
		// Generic tokens
		`(?i)token["'\s:=]+[a-zA-Z0-9_-]{20,}`,
	}

	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		compiled = append(compiled, regexp.MustCompile(p))
	}
	return compiled
}

// minSecretLength keeps short header values such as "1" or "on" from
// redacting unrelated text.
const minSecretLength = 6

// Sanitize redacts sensitive information from a string.
func (s *Sanitizer) Sanitize(input string) string {
	result := input
	for _, secret := range s.secrets {
		result = strings.ReplaceAll(result, secret, s.redacted)
	}
	// Keep the scheme and user of connection strings, redact the password.
	result = urlPassword.ReplaceAllString(result, "${1}"+s.redacted+"@")
	for _, pattern := range s.patterns {
		result = pattern.ReplaceAllString(result, s.redacted)
	}
	return result
}

// AddSecret redacts every literal occurrence of value, such as a configured
// agent API token. Values shorter than six characters are ignored.
func (s *Sanitizer) AddSecret(value string) {
	value = strings.TrimSpace(value)
	if len(value) < minSecretLength {
		return
	}
	for _, known := range s.secrets {
		if known == value {
			return
		}
	}
	s.secrets = append(s.secrets, value)
	// Longer secrets first so a secret containing another is fully redacted.
	sort.Slice(s.secrets, func(i, j int) bool { return len(s.secrets[i]) > len(s.secrets[j]) })
}

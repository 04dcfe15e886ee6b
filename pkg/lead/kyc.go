package lead

import (
	"regexp"
	"strings"
)

// Info holds identity signals extracted from free-text customer messages.
type Info struct {
	Name  string
	Email string
	Phone string
}

// Empty reports whether no identity signal was found.
func (i Info) Empty() bool {
	return i.Name == "" && i.Email == "" && i.Phone == ""
}

var (
	emailRe = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

	// Phone numbers: optional +, 7-15 digits, tolerating spaces, dashes,
	// and parentheses between groups.
	phoneRe = regexp.MustCompile(`\+?\d[\d\s\-().]{6,18}\d`)

	// Self-introductions: "my name is X", "I'm X", "I am X", "this is X".
	nameRe = regexp.MustCompile(`(?i)\b(?:my name is|i'?m|i am|this is)\s+([A-Z][a-zA-Z'\-]+(?:\s+[A-Z][a-zA-Z'\-]+){0,2})`)
)

// Extract parses identity signals out of a customer message. This is a
// regex-based extractor; results are best-effort and a missing signal is
// never an error.
func Extract(text string) Info {
	var info Info

	if m := emailRe.FindString(text); m != "" {
		info.Email = strings.ToLower(m)
	}

	if m := phoneRe.FindString(text); m != "" {
		digits := normalizePhone(m)
		// Require enough digits to be a dialable number, not an amount
		// or policy reference.
		if n := strings.TrimPrefix(digits, "+"); len(n) >= 7 && len(n) <= 15 {
			info.Phone = digits
		}
	}

	if m := nameRe.FindStringSubmatch(text); m != nil {
		info.Name = strings.TrimSpace(m[1])
	}

	return info
}

// normalizePhone strips formatting, keeping a leading + and digits only.
func normalizePhone(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case r == '+' && i == 0:
			b.WriteRune(r)
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizePhone canonicalizes a phone number for conversation lookup:
// formatting stripped, digits and a leading + only.
func NormalizePhone(s string) string {
	return normalizePhone(strings.TrimSpace(s))
}

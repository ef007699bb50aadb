package leads

import (
	"regexp"
	"strings"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`(?:\+?1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
)

// Contact is the contact info found in free text.
type Contact struct {
	Email string
	Phone string
}

// Empty reports whether no contact info was found.
func (c Contact) Empty() bool { return c.Email == "" && c.Phone == "" }

// ExtractContact pulls the first email address and North American phone
// number out of text. Phones come back in E.164 form.
func ExtractContact(text string) Contact {
	var c Contact
	if m := emailPattern.FindString(text); m != "" {
		c.Email = strings.ToLower(strings.TrimRight(m, "."))
	}
	if m := phonePattern.FindString(text); m != "" {
		c.Phone = NormalizeE164(m)
	}
	return c
}

// NormalizeE164 keeps the digits of a US/Canada number and prefixes +1.
func NormalizeE164(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	switch {
	case len(digits) == 10:
		return "+1" + digits
	case len(digits) == 11 && digits[0] == '1':
		return "+" + digits
	default:
		return ""
	}
}

package contactsync

import (
	"errors"
	"strings"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// Reasons reported for identifiers that cannot be normalized.
var (
	ErrEmpty        = errors.New("empty identifier")
	ErrBadEmail     = errors.New("malformed email address")
	ErrBadHandle    = errors.New("malformed handle")
	ErrBadPhone     = errors.New("malformed phone number")
	ErrPhoneTooLong = errors.New("phone number exceeds 15 digits")
)

const (
	minPhoneDigits = 7
	maxPhoneDigits = 15
	minHandleLen   = 2
	maxHandleLen   = 32
)

// Normalizer canonicalizes raw phone-book identifiers into the forms the
// user directory resolves: "+<E.164 digits>", "local@domain" or "@handle".
type Normalizer struct {
	// callingCode is prefixed to national numbers, digits only.
	callingCode string
}

// NewNormalizer creates a normalizer for the given default calling code.
func NewNormalizer(defaultCallingCode string) *Normalizer {
	return &Normalizer{callingCode: strings.TrimPrefix(strings.TrimSpace(defaultCallingCode), "+")}
}

// Normalize returns the canonical identifier or one of the Err* reasons.
func (n *Normalizer) Normalize(raw string) (string, error) {
	s := strings.TrimSpace(width.Fold.String(norm.NFKC.String(raw)))
	switch {
	case s == "":
		return "", ErrEmpty
	case strings.HasPrefix(s, "@"):
		return normalizeHandle(s[1:])
	case strings.Contains(s, "@"):
		return normalizeEmail(s)
	default:
		return n.normalizePhone(s)
	}
}

func normalizeHandle(h string) (string, error) {
	h = strings.ToLower(h)
	if len(h) < minHandleLen || len(h) > maxHandleLen {
		return "", ErrBadHandle
	}
	for _, r := range h {
		if !isASCIIAlnum(r) {
			return "", ErrBadHandle
		}
	}
	return "@" + h, nil
}

func normalizeEmail(s string) (string, error) {
	s = strings.ToLower(s)
	at := strings.LastIndexByte(s, '@')
	local, domain := s[:at], s[at+1:]
	if local == "" || strings.ContainsAny(s, " \t,;<>") || strings.Contains(local, "@") {
		return "", ErrBadEmail
	}
	dot := strings.LastIndexByte(domain, '.')
	if dot <= 0 || dot == len(domain)-1 || strings.Contains(domain, "..") {
		return "", ErrBadEmail
	}
	return s, nil
}

// normalizePhone strips formatting, rewrites the international "00" prefix
// and prefixes national numbers with the default calling code.
func (n *Normalizer) normalizePhone(s string) (string, error) {
	international := false
	switch {
	case strings.HasPrefix(s, "+"):
		international = true
		s = s[1:]
	case strings.HasPrefix(s, "00"):
		international = true
		s = s[2:]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')' || r == '.' || r == '/':
		default:
			return "", ErrBadPhone
		}
	}
	digits := b.String()

	if !international {
		// National trunk prefix.
		digits = strings.TrimLeft(digits, "0")
		if n.callingCode == "" || digits == "" {
			return "", ErrBadPhone
		}
		digits = n.callingCode + digits
	}

	switch {
	case len(digits) > maxPhoneDigits:
		return "", ErrPhoneTooLong
	case len(digits) < minPhoneDigits || digits[0] == '0':
		return "", ErrBadPhone
	}
	return "+" + digits, nil
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
}

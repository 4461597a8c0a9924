package parse

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	crnRe   = regexp.MustCompile(`^\d{5}$`)
	hashRe  = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)
	spaceRe = regexp.MustCompile(`\s+`)
)

// MaxReasonLength caps the free-text drop reason, in runes.
const MaxReasonLength = 64

// CRN normalizes a course reference number. Surrounding whitespace and an
// optional "CRN" prefix are tolerated; the result is always five digits.
func CRN(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if len(s) >= 3 && strings.EqualFold(s[:3], "crn") {
		s = strings.TrimLeft(s[3:], " :#")
	}
	if !crnRe.MatchString(s) {
		return "", fmt.Errorf("malformed CRN %q: want five digits", raw)
	}
	return s, nil
}

// StudentHash checks that an identity-provider hash is a plausible opaque token.
func StudentHash(raw string) (string, error) {
	if !hashRe.MatchString(raw) {
		return "", errors.New("malformed student hash")
	}
	return raw, nil
}

// Reason trims and bounds the optional reason attached to an offer.
// Empty input yields an empty reason.
func Reason(raw string) (string, error) {
	s := strings.TrimSpace(spaceRe.ReplaceAllString(raw, " "))
	if utf8.RuneCountInString(s) > MaxReasonLength {
		return "", fmt.Errorf("reason longer than %d characters", MaxReasonLength)
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", errors.New("reason contains control characters")
		}
	}
	return s, nil
}

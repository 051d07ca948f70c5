// Package vin is the single choke point for vehicle identifier validity.
// No caller may accept an identifier that has not passed Normalize (or
// NormalizeChassis for manual short-code entry).
package vin

import (
	"strings"

	"github.com/rotisserie/eris"
)

// ErrInvalid is returned for any string that is not a structurally valid
// vehicle identifier.
var ErrInvalid = eris.New("identifier invalid")

const fullLength = 17

// VIN alphabet excludes I, O and Q.
const alphabet = "ABCDEFGHJKLMNPRSTUVWXYZ0123456789"

// Normalize canonicalizes a full 17-character identifier: uppercase, strip
// all non-alphanumerics, and validate. It rejects wrong lengths, the
// excluded letters I/O/Q, and strings with no digit at all (alphabetic
// garbage that happens to match the character class). Idempotent.
func Normalize(raw string) (string, error) {
	s := canonicalize(raw)
	if len(s) != fullLength {
		return "", eris.Wrapf(ErrInvalid, "length %d, want %d", len(s), fullLength)
	}
	if err := checkAlphabet(s); err != nil {
		return "", err
	}
	return s, nil
}

// NormalizeChassis is the lenient mode for manual entry of short chassis
// codes: 4 to 17 characters after canonicalization, same alphabet and
// digit rules as Normalize.
func NormalizeChassis(raw string) (string, error) {
	s := canonicalize(raw)
	if len(s) < 4 || len(s) > fullLength {
		return "", eris.Wrapf(ErrInvalid, "chassis length %d, want 4-17", len(s))
	}
	if err := checkAlphabet(s); err != nil {
		return "", err
	}
	return s, nil
}

// Valid reports whether raw normalizes to a full identifier.
func Valid(raw string) bool {
	_, err := Normalize(raw)
	return err == nil
}

func canonicalize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func checkAlphabet(s string) error {
	hasDigit := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 'I' || c == 'O' || c == 'Q' {
			return eris.Wrapf(ErrInvalid, "excluded letter %q", c)
		}
		if !strings.ContainsRune(alphabet, rune(c)) {
			return eris.Wrapf(ErrInvalid, "character %q outside identifier alphabet", c)
		}
		if c >= '0' && c <= '9' {
			hasDigit = true
		}
	}
	if !hasDigit {
		return eris.Wrap(ErrInvalid, "no digit present")
	}
	return nil
}

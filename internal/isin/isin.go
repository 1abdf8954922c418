// Package isin provides ISIN (ISO 6166) format and checksum validation,
// plus the synthetic placeholder identifiers used for holdings that bypass
// or exhaust identity resolution.
//
// ISIN format: 2-letter country code + 9 alphanumeric NSIN + 1 check digit.
// Example valid ISINs: US0378331005 (Apple), DE0007164600 (SAP),
// GB0002374006 (Diageo).
package isin

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Valid reports whether s is a well-formed ISIN with a correct Luhn checksum.
func Valid(s string) bool {
	s = strings.ToUpper(strings.TrimSpace(s))

	if len(s) != 12 {
		return false
	}

	// Country code: first 2 chars must be letters.
	for i := 0; i < 2; i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}

	// NSIN: next 9 chars must be alphanumeric.
	for i := 2; i < 11; i++ {
		c := s[i]
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}

	// Check digit: last char must be a digit.
	if s[11] < '0' || s[11] > '9' {
		return false
	}

	return luhnValid(s)
}

// luhnValid applies the Luhn algorithm after expanding letters to
// two-digit values (A=10 ... Z=35).
func luhnValid(s string) bool {
	var digits []int
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			digits = append(digits, int(c-'0'))
		} else {
			v := int(c-'A') + 10
			digits = append(digits, v/10, v%10)
		}
	}

	total := 0
	for i := 0; i < len(digits); i++ {
		n := digits[len(digits)-1-i]
		// Double every second digit from the right.
		if i%2 == 1 {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		total += n
	}

	return total%10 == 0
}

// CountryCode returns the 2-letter country prefix of a valid ISIN,
// or "" when the ISIN is invalid.
func CountryCode(s string) string {
	if !Valid(s) {
		return ""
	}
	return strings.ToUpper(s[:2])
}

// invalidPatterns are provider placeholder values that must never be
// treated as identifiers.
var invalidPatterns = map[string]bool{
	"":     true,
	"N/A":  true,
	"NA":   true,
	"NULL": true,
	"NONE": true,
}

// IsPlaceholder reports whether s is a known placeholder or one of the
// synthetic identifiers produced by this package.
func IsPlaceholder(s string) bool {
	upper := strings.ToUpper(strings.TrimSpace(s))

	if invalidPatterns[upper] {
		return true
	}

	switch {
	case strings.HasPrefix(upper, "FALLBACK"),
		strings.HasPrefix(upper, "UNRESOLVED"),
		strings.HasPrefix(upper, "UNKNOWN"),
		strings.HasPrefix(upper, "NON_EQUITY"),
		strings.Contains(upper, "|"):
		return true
	}

	return false
}

// GroupKey generates a deterministic synthetic identifier for an
// unresolved holding so repeated runs aggregate it consistently.
// The 10-digit FNV hash keeps collisions at roughly 1 in 10 million.
func GroupKey(ticker, name string) string {
	tickerClean := strings.ToUpper(strings.TrimSpace(ticker))
	nameClean := strings.ToUpper(strings.TrimSpace(name))
	if len(nameClean) > 50 {
		nameClean = nameClean[:50] // truncate for consistency
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(tickerClean + "|" + nameClean))
	hash := h.Sum64() % 10_000_000_000

	return fmt.Sprintf("UNRESOLVED:%s:%010d", tickerClean, hash)
}

// NonEquityKey generates the synthetic identifier for positions (cash,
// unsupported derivatives) that bypass resolution entirely.
func NonEquityKey(ticker string) string {
	return "NON_EQUITY:" + strings.ToUpper(strings.TrimSpace(ticker))
}

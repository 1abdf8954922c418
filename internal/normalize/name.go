// Package normalize provides company-name normalization and ticker parsing
// for identity resolution. Consistent normalization is what makes cache and
// alias lookups hit across data providers that render the same security
// differently.
package normalize

import (
	"regexp"
	"sort"
	"strings"
)

// nameSuffixes are legal-form and share-class suffixes stripped during
// normalization. Matching is greedy, longest first.
var nameSuffixes = []string{
	"INCORPORATED",
	"CORPORATION",
	"HOLDINGS",
	"LIMITED",
	"COMPANY",
	"ORDINARY",
	"COMMON",
	"CORP",
	"INC",
	"LTD",
	"PLC",
	"LLC",
	"LLP",
	"CO",
	"AG",
	"SA",
	"NV",
	"SE",
	"AB",
	"AS",
	"KK", // Japanese Kabushiki Kaisha
	"BV",
	"CV",
	"LP",
	"CLASS A",
	"CLASS B",
	"CLASS C",
	"CL A",
	"CL B",
	"CL C",
	"SPONSORED ADR",
	"UNSPONSORED ADR",
	"ADR",
	"ADS",
	"GDR",
	"REGISTERED",
	"REG",
}

var (
	punctuationRe = regexp.MustCompile(`[^\w\s&]`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
	andCoRe       = regexp.MustCompile(`&\s*CO\b`)
	suffixRe      = buildSuffixRe()
)

// andCoPlaceholder protects "& CO" (JPMORGAN CHASE & CO) from the CO suffix
// rule while suffixes are stripped.
const andCoPlaceholder = "___AND_CO___"

func buildSuffixRe() *regexp.Regexp {
	sorted := make([]string, len(nameSuffixes))
	copy(sorted, nameSuffixes)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i]) > len(sorted[j]) })

	escaped := make([]string, len(sorted))
	for i, s := range sorted {
		escaped[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`\b(` + strings.Join(escaped, "|") + `)\b\.?`)
}

// NormalizeName returns the canonical form of a company name:
// uppercased, punctuation removed (except & for AT&T, S&P), whitespace
// collapsed, and legal/share-class suffixes stripped.
//
//	"NVIDIA CORP"                               -> "NVIDIA"
//	"Alphabet Inc Class A"                      -> "ALPHABET"
//	"Taiwan Semiconductor Manufacturing Co Ltd" -> "TAIWAN SEMICONDUCTOR MANUFACTURING"
//
// The function is idempotent.
func NormalizeName(name string) string {
	if name == "" {
		return ""
	}

	result := strings.ToUpper(name)
	result = punctuationRe.ReplaceAllString(result, " ")
	result = strings.TrimSpace(whitespaceRe.ReplaceAllString(result, " "))

	result = andCoRe.ReplaceAllString(result, andCoPlaceholder)

	// Suffix stripping repeats until stable: "CO LTD" takes two passes.
	for {
		next := strings.TrimSpace(suffixRe.ReplaceAllString(result, ""))
		if next == result {
			break
		}
		result = next
	}

	result = strings.ReplaceAll(result, andCoPlaceholder, "& CO")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(result, " "))
}

// NameVariants generates search variants for a company name, most specific
// first: the cleaned original, the normalized form, the first word of the
// normalized form (when 3+ chars), and the normalized form without a
// leading "THE ".
func NameVariants(name string) []string {
	if name == "" {
		return nil
	}

	var variants []string
	seen := make(map[string]bool)
	add := func(v string) {
		v = strings.TrimSpace(v)
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	original := whitespaceRe.ReplaceAllString(strings.ToUpper(strings.TrimSpace(name)), " ")
	add(original)

	normalized := NormalizeName(name)
	add(normalized)

	if normalized != "" {
		first := strings.Fields(normalized)[0]
		if len(first) >= 3 {
			add(first)
		}
	}

	if strings.HasPrefix(normalized, "THE ") {
		add(normalized[4:])
	}

	return variants
}

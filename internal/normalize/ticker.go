package normalize

import (
	"regexp"
	"strings"
)

// bloombergExchanges maps Bloomberg two-letter suffixes to country/market
// hints ("NVDA US", "2330 TT").
var bloombergExchanges = map[string]string{
	"US": "US",
	"UN": "US", // NYSE
	"UQ": "US", // NASDAQ
	"TT": "TW",
	"LN": "GB",
	"GR": "DE", // Xetra
	"FP": "FR",
	"JP": "JP",
	"HK": "HK",
	"CN": "CA",
	"AU": "AU",
}

// reutersExchanges maps Reuters/Yahoo dot suffixes to exchange hints
// ("NVDA.OQ", "VOD.L", "005930.KS").
var reutersExchanges = map[string]string{
	"OQ": "NASDAQ",
	"O":  "NYSE",
	"N":  "NYSE",
	"L":  "LSE",
	"DE": "XETRA",
	"PA": "EURONEXT",
	"T":  "TSE",
	"HK": "HKEX",
	"KS": "KRX",
	"TW": "TWSE",
}

// singleLetterExchanges are the only single-letter dot suffixes treated as
// exchange codes. Anything else ("BRK.B") is a share class and stays in the
// root symbol.
var singleLetterExchanges = map[string]bool{"O": true, "N": true, "L": true, "T": true}

var (
	bloombergRe = regexp.MustCompile(`^([A-Z0-9/.\-]+)\s+([A-Z]{2})$`)
	reutersRe   = regexp.MustCompile(`^([A-Z0-9/\-]+)\.([A-Z]{1,2})$`)
	yahooDashRe = regexp.MustCompile(`^([A-Z]+)-([A-Z])$`)
)

// ParseTicker splits a raw ticker into its root symbol and an exchange hint.
// The hint is "" when the format carries none. Parsing never fails:
// unrecognized input comes back unchanged as the root.
func ParseTicker(ticker string) (root, exchange string) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return "", ""
	}

	if m := bloombergRe.FindStringSubmatch(ticker); m != nil {
		if hint, ok := bloombergExchanges[m[2]]; ok {
			return m[1], hint
		}
		return m[1], m[2]
	}

	if m := reutersRe.FindStringSubmatch(ticker); m != nil {
		suffix := m[2]
		if len(suffix) == 2 || singleLetterExchanges[suffix] {
			if hint, ok := reutersExchanges[suffix]; ok {
				return m[1], hint
			}
			return m[1], suffix
		}
		// Share class, keep whole ("BRK.B").
		return ticker, ""
	}

	if yahooDashRe.MatchString(ticker) {
		// Share class indicator, keep whole ("BRK-B").
		return ticker, ""
	}

	return ticker, ""
}

// TickerVariants generates lookup variants for a ticker, most likely first:
// the original, the parsed root, separator permutations of the root
// (/ . - and removed), and bare/US-suffixed forms for US-ish symbols.
func TickerVariants(ticker string) []string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil
	}

	root, exchange := ParseTicker(ticker)

	var variants []string
	seen := make(map[string]bool)
	add := func(v string) {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v != "" && !seen[v] {
			seen[v] = true
			variants = append(variants, v)
		}
	}

	add(ticker)
	add(root)

	for _, sep := range []string{"/", "-", "."} {
		if !strings.Contains(root, sep) {
			continue
		}
		add(strings.ReplaceAll(root, sep, ""))
		for _, alt := range []string{"/", "-", "."} {
			if alt != sep {
				add(strings.ReplaceAll(root, sep, alt))
			}
		}
	}

	if exchange == "" || exchange == "US" {
		add(root)
		add(root + ".US")
		add(root + " US")
	}

	return variants
}

// DetectFormat labels the rendering of a raw ticker for telemetry.
func DetectFormat(ticker string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	switch {
	case ticker == "":
		return "empty"
	case bloombergRe.MatchString(ticker):
		return "bloomberg"
	case reutersRe.MatchString(ticker):
		return "reuters"
	case yahooDashRe.MatchString(ticker):
		return "dash"
	default:
		return "plain"
	}
}

package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	cases := map[string]string{
		"NVIDIA CORP":            "NVIDIA",
		"NVIDIA Corporation":     "NVIDIA",
		"Alphabet Inc Class A":   "ALPHABET",
		"Alphabet Inc. Class C":  "ALPHABET",
		"Apple Inc.":             "APPLE",
		"Microsoft Corporation":  "MICROSOFT",
		"Berkshire Hathaway Inc": "BERKSHIRE HATHAWAY",
		"Taiwan Semiconductor Manufacturing Co., Ltd.": "TAIWAN SEMICONDUCTOR MANUFACTURING",
		"SAP SE":          "SAP",
		"AT&T Inc":        "AT&T",
		"Vodafone Group Plc Sponsored ADR": "VODAFONE GROUP",
		"":                "",
		"   ":             "",
	}
	for input, want := range cases {
		assert.Equal(t, want, NormalizeName(input), "input: %q", input)
	}
}

func TestNormalizeNamePreservesAndCo(t *testing.T) {
	assert.Equal(t, "JPMORGAN CHASE & CO", NormalizeName("JPMorgan Chase & Co."))
	assert.Equal(t, "TIFFANY & CO", NormalizeName("Tiffany & Co"))
}

func TestNormalizeNameIdempotent(t *testing.T) {
	inputs := []string{
		"NVIDIA Corporation",
		"Alphabet Inc Class A",
		"JPMorgan Chase & Co.",
		"The Coca-Cola Company",
		"Taiwan Semiconductor Manufacturing Co., Ltd.",
	}
	for _, input := range inputs {
		once := NormalizeName(input)
		assert.Equal(t, once, NormalizeName(once), "input: %q", input)
	}
}

func TestNameVariants(t *testing.T) {
	variants := NameVariants("NVIDIA Corporation")
	assert.Equal(t, []string{"NVIDIA CORPORATION", "NVIDIA"}, variants)

	variants = NameVariants("The Coca-Cola Company")
	assert.Contains(t, variants, "COCA COLA")
	// First variant is always the cleaned original.
	assert.Equal(t, "THE COCA-COLA COMPANY", variants[0])

	assert.Nil(t, NameVariants(""))
}

func TestNameVariantsSkipsShortFirstWord(t *testing.T) {
	variants := NameVariants("3M Company")
	assert.Equal(t, []string{"3M COMPANY", "3M"}, variants)
	// "3M" is under 3 chars so no separate first-word variant beyond the
	// normalized form itself.
	assert.Len(t, variants, 2)
}

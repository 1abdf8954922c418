package resolver

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/skeptomenos/prism/internal/isin"
)

// LoadOverrides reads the curated manual override file: a flat JSON
// object mapping tickers or normalized names to ISINs. A missing file is
// not an error, it just means no overrides. Entries with invalid ISINs
// are dropped with the rest kept, so one bad line cannot disable the
// whole table.
func LoadOverrides(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read overrides file: %w", err)
	}

	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse overrides file %s: %w", path, err)
	}

	overrides := make(map[string]string, len(raw))
	for key, value := range raw {
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if key == "" || !isin.Valid(value) {
			continue
		}
		overrides[key] = value
	}

	return overrides, nil
}

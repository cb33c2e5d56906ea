package reasoner

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadReasons reads the reason-tag table from a JSON file, supplied per
// deployment the same way as the feedback hashtag mapping.
func LoadReasons(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reason mapping: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse reason mapping: %w", err)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("reason mapping %s is empty", path)
	}
	return mapping, nil
}

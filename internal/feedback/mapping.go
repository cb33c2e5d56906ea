package feedback

import (
	"encoding/json"
	"fmt"
	"os"
)

// LoadHashtags reads the hashtag-to-category table from a JSON file. The
// table is deployment-supplied runtime input; this repo defines no canonical
// version of it.
func LoadHashtags(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hashtag mapping: %w", err)
	}
	var mapping map[string]string
	if err := json.Unmarshal(raw, &mapping); err != nil {
		return nil, fmt.Errorf("parse hashtag mapping: %w", err)
	}
	if len(mapping) == 0 {
		return nil, fmt.Errorf("hashtag mapping %s is empty", path)
	}
	return mapping, nil
}

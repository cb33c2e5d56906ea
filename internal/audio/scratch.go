package audio

import (
	"context"
	"fmt"
	"os"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Scratch tracks the temporary directories one pipeline run creates so they
// can be removed unconditionally when the run ends, success or not.
type Scratch struct {
	dirs []string
}

// Dir creates a fresh temp directory with the given prefix and registers it
// for cleanup.
func (s *Scratch) Dir(prefix string) (string, error) {
	dir, err := os.MkdirTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("create scratch dir %s: %w", prefix, err)
	}
	s.dirs = append(s.dirs, dir)
	return dir, nil
}

// Cleanup removes every registered directory. Safe to call more than once.
func (s *Scratch) Cleanup(ctx context.Context) {
	log := observability.LoggerWithTrace(ctx)
	for _, dir := range s.dirs {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("remove scratch dir")
		}
	}
	s.dirs = nil
}

package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// LogUploader returns an Upload func that ships the current log file to an
// HTTP collection endpoint. Wired into DailyTask by the worker mains.
func LogUploader(logPath, uploadURL string) func(ctx context.Context) error {
	client := observability.NewHTTPClient(nil)
	return func(ctx context.Context) error {
		f, err := os.Open(logPath)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()

		var body bytes.Buffer
		if _, err := io.Copy(&body, f); err != nil {
			return fmt.Errorf("read log file: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, &body)
		if err != nil {
			return fmt.Errorf("build upload request: %w", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		req.Header.Set("X-Log-Filename", filepath.Base(logPath))

		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("upload log file: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			return fmt.Errorf("upload log file: status %d", resp.StatusCode)
		}
		return nil
	}
}

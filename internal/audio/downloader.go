package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Downloader fetches the job's input blob into a scratch directory. Inputs
// are either HTTP(S) URLs or paths on a mounted share; both end up as a
// local file the rest of the pipeline can open.
type Downloader struct {
	Client *http.Client
	// MaxBytes bounds worst-case scratch usage; 0 disables the cap.
	MaxBytes int64
}

func NewDownloader(maxBytes int64) *Downloader {
	return &Downloader{
		Client:   observability.NewHTTPClient(nil),
		MaxBytes: maxBytes,
	}
}

// Fetch resolves source into destDir and returns the local path.
func (d *Downloader) Fetch(ctx context.Context, source, destDir string) (string, error) {
	if u, err := url.Parse(source); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return d.fetchURL(ctx, u, destDir)
	}
	return d.copyLocal(source, destDir)
}

func (d *Downloader) fetchURL(ctx context.Context, u *url.URL, destDir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := d.Client.Do(req)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", u.Host, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download %s: status %d", u.Host, resp.StatusCode)
	}

	name := filepath.Base(u.Path)
	if name == "" || name == "/" || name == "." {
		name = "input.wav"
	}
	return d.writeStream(resp.Body, filepath.Join(destDir, name))
}

func (d *Downloader) copyLocal(source, destDir string) (string, error) {
	f, err := os.Open(source)
	if err != nil {
		return "", fmt.Errorf("open input %s: %w", source, err)
	}
	defer f.Close()
	return d.writeStream(f, filepath.Join(destDir, filepath.Base(source)))
}

// writeStream streams to disk rather than buffering the blob in memory.
func (d *Downloader) writeStream(r io.Reader, dest string) (string, error) {
	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dest, err)
	}
	defer out.Close()

	if d.MaxBytes > 0 {
		limited := io.LimitReader(r, d.MaxBytes+1)
		n, err := io.Copy(out, limited)
		if err != nil {
			return "", fmt.Errorf("write %s: %w", dest, err)
		}
		if n > d.MaxBytes {
			return "", fmt.Errorf("input exceeds download cap of %d bytes", d.MaxBytes)
		}
	} else if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}

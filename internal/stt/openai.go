package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// RemoteConfig points at an OpenAI-compatible transcription endpoint
// (public OpenAI, or an Azure deployment URL).
type RemoteConfig struct {
	URL    string // full transcriptions endpoint URL
	APIKey string
	Model  string // e.g. "whisper-1" or an Azure deployment name
}

// Remote calls the audio/transcriptions endpoint with verbose_json output
// and segment timestamps.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
}

func NewRemote(cfg RemoteConfig, httpClient *http.Client) *Remote {
	if cfg.Model == "" {
		cfg.Model = "whisper-1"
	}
	if httpClient == nil {
		httpClient = observability.NewHTTPClient(nil)
	}
	return &Remote{cfg: cfg, client: httpClient}
}

func (r *Remote) Transcribe(ctx context.Context, filePath string, opts Options) (Result, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return Result{}, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	fields := map[string]string{
		"model":                      r.cfg.Model,
		"response_format":            "verbose_json",
		"timestamp_granularities[]":  "segment",
		"temperature":                strconv.FormatFloat(opts.Temperature, 'f', -1, 64),
	}
	if opts.Language != "" {
		fields["language"] = opts.Language
	}
	if opts.Prompt != "" {
		fields["prompt"] = opts.Prompt
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return Result{}, fmt.Errorf("write form field %s: %w", k, err)
		}
	}

	part, err := writer.CreateFormFile("file", filepath.Base(filePath))
	if err != nil {
		return Result{}, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return Result{}, fmt.Errorf("copy audio into request: %w", err)
	}
	if err := writer.Close(); err != nil {
		return Result{}, fmt.Errorf("finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL, body)
	if err != nil {
		return Result{}, fmt.Errorf("build transcription request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return Result{}, fmt.Errorf("transcription endpoint: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Result{}, fmt.Errorf("decode transcription response: %w", err)
	}
	return result, nil
}

var _ Backend = (*Remote)(nil)

// Package brokerclient is the in-process proxy every backend adapter uses to
// talk to the token budget broker, either embedded in the same process or
// over the broker service's HTTP API. Both implementations preserve the
// broker's denial reason strings byte-for-byte so callers can distinguish
// retryable rate-limit denials from permanently oversized requests.
package brokerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/neuralnoy/lokutor-workers/internal/broker"
	"github.com/neuralnoy/lokutor-workers/internal/observability"
)

// Client exposes the broker's lock/commit/release/status protocol.
type Client interface {
	Lock(ctx context.Context, appID string, estimatedTokens int) (broker.LockResult, error)
	Commit(ctx context.Context, appID, requestID string, promptTokens, completionTokens int) error
	Release(ctx context.Context, appID, requestID string) error
	Status(ctx context.Context) (broker.Status, error)
}

// Embedded calls directly into a broker living in the same process.
type Embedded struct {
	Broker *broker.Broker
}

func (e *Embedded) Lock(_ context.Context, appID string, estimatedTokens int) (broker.LockResult, error) {
	return e.Broker.Lock(appID, estimatedTokens), nil
}

func (e *Embedded) Commit(_ context.Context, appID, requestID string, promptTokens, completionTokens int) error {
	if !e.Broker.Commit(appID, requestID, promptTokens, completionTokens) {
		return fmt.Errorf("commit rejected for request %s (unknown, swept, or wrong app)", requestID)
	}
	return nil
}

func (e *Embedded) Release(_ context.Context, appID, requestID string) error {
	if !e.Broker.Release(appID, requestID) {
		return fmt.Errorf("release rejected for request %s (unknown, swept, or wrong app)", requestID)
	}
	return nil
}

func (e *Embedded) Status(_ context.Context) (broker.Status, error) {
	return e.Broker.Status(), nil
}

// HTTP talks to a standalone broker service.
type HTTP struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTP builds an HTTP client against the broker service at baseURL,
// instrumented with the shared otel transport.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Client:  observability.NewHTTPClient(nil),
	}
}

func (h *HTTP) post(ctx context.Context, path string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.Client.Do(req)
	if err != nil {
		return fmt.Errorf("broker %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("broker %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type lockBody struct {
	AppID           string `json:"app_id"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

type commitBody struct {
	AppID            string `json:"app_id"`
	RequestID        string `json:"request_id"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
}

type releaseBody struct {
	AppID     string `json:"app_id"`
	RequestID string `json:"request_id"`
}

type okBody struct {
	OK bool `json:"ok"`
}

func (h *HTTP) Lock(ctx context.Context, appID string, estimatedTokens int) (broker.LockResult, error) {
	var res broker.LockResult
	err := h.post(ctx, "/lock", lockBody{AppID: appID, EstimatedTokens: estimatedTokens}, &res)
	return res, err
}

func (h *HTTP) Commit(ctx context.Context, appID, requestID string, promptTokens, completionTokens int) error {
	var ok okBody
	if err := h.post(ctx, "/commit", commitBody{
		AppID: appID, RequestID: requestID,
		PromptTokens: promptTokens, CompletionTokens: completionTokens,
	}, &ok); err != nil {
		return err
	}
	if !ok.OK {
		return fmt.Errorf("commit rejected for request %s (unknown, swept, or wrong app)", requestID)
	}
	return nil
}

func (h *HTTP) Release(ctx context.Context, appID, requestID string) error {
	var ok okBody
	if err := h.post(ctx, "/release", releaseBody{AppID: appID, RequestID: requestID}, &ok); err != nil {
		return err
	}
	if !ok.OK {
		return fmt.Errorf("release rejected for request %s (unknown, swept, or wrong app)", requestID)
	}
	return nil
}

func (h *HTTP) Status(ctx context.Context) (broker.Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.BaseURL+"/status", nil)
	if err != nil {
		return broker.Status{}, fmt.Errorf("build status request: %w", err)
	}
	resp, err := h.Client.Do(req)
	if err != nil {
		return broker.Status{}, fmt.Errorf("broker status: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return broker.Status{}, fmt.Errorf("broker status: status %d", resp.StatusCode)
	}
	var st broker.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return broker.Status{}, fmt.Errorf("decode broker status: %w", err)
	}
	return st, nil
}

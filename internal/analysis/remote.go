package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dance-studio/internal/model"
)

type RemoteOptions struct {
	URL string
	// APIKey is used when the caller passes no per-user key.
	APIKey     string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Remote calls an analyze-image endpoint that answers with profile JSON.
type Remote struct {
	url        string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewRemote(opts RemoteOptions) *Remote {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Remote{
		url:        strings.TrimSpace(opts.URL),
		apiKey:     strings.TrimSpace(opts.APIKey),
		httpClient: httpClient,
		logger:     logger,
	}
}

type analyzeRequest struct {
	ImageData string `json:"imageData"`
}

type errorBody struct {
	Error string `json:"error"`
}

func (r *Remote) Analyze(ctx context.Context, imageData, apiKey string) (model.Profile, error) {
	if r.url == "" {
		return model.Profile{}, errors.New("analysis: endpoint is not configured")
	}

	body, err := json.Marshal(analyzeRequest{ImageData: imageData})
	if err != nil {
		return model.Profile{}, fmt.Errorf("analysis: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return model.Profile{}, fmt.Errorf("analysis: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := firstNonEmpty(apiKey, r.apiKey); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return model.Profile{}, fmt.Errorf("analysis: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.Profile{}, fmt.Errorf("analysis: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.Warn("analysis endpoint returned error", "status", resp.StatusCode)
		return model.Profile{}, statusError(resp.StatusCode, raw)
	}

	return Decode(raw)
}

func statusError(code int, body []byte) error {
	switch code {
	case http.StatusTooManyRequests:
		return ErrRateLimited
	case http.StatusPaymentRequired:
		return ErrQuotaExhausted
	}

	var eb errorBody
	msg := ""
	if json.Unmarshal(body, &eb) == nil {
		msg = strings.TrimSpace(eb.Error)
	}
	if msg == "" {
		msg = "failed to analyze image"
	}
	return &Error{StatusCode: code, Message: msg}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

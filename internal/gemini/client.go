package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
)

const defaultModel = "gemini-2.5-flash"

type Options struct {
	APIKey     string
	BaseURL    string
	APIVersion string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type Client struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		apiVersion: apiVersion,
		model:      model,
		httpClient: opts.HTTPClient,
		logger:     logger,
	}
}

// DescribeImage sends one image with an instruction and asks the model to
// answer with a JSON document. The raw JSON text is returned.
func (c *Client) DescribeImage(ctx context.Context, instruction string, img ImageInput) (string, error) {
	if c.apiKey == "" {
		return "", errors.New("gemini: api key is required")
	}
	if strings.TrimSpace(img.DataBase64) == "" {
		return "", errors.New("gemini: image is empty")
	}

	req := generateContentRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: strings.TrimSpace(instruction)},
				{InlineData: &blob{Data: stripDataURLPrefix(img.DataBase64), MimeType: img.MimeType}},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:      0.4,
			ResponseMimeType: "application/json",
		},
	}

	resp, err := c.generateContent(ctx, req)
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New("gemini: empty response")
	}
	return stripCodeFence(text), nil
}

func (c *Client) generateContent(ctx context.Context, payload generateContentRequest) (Response, error) {
	if c.httpClient == nil {
		return Response{}, errors.New("gemini: http client is nil")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("gemini: create request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("gemini: read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		c.logger.Warn("gemini request failed", "status", httpResp.StatusCode, "model", c.model)
		return Response{}, &StatusError{StatusCode: httpResp.StatusCode, Body: strings.TrimSpace(string(rawBody))}
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return Response{}, fmt.Errorf("gemini: decode response: %w", err)
	}

	return Response{Text: extractText(decoded)}, nil
}

func extractText(resp generateContentResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	ResponseMimeType string  `json:"responseMimeType,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content content `json:"content"`
}

var (
	dataURLRegex = regexp.MustCompile(`^data:([^;,]+)(;base64)?,`)
	fenceRegex   = regexp.MustCompile("(?s)^```(?:json)?\\s*(.*?)\\s*```$")
)

// ImageFromDataURL splits a data URI into its MIME type and base64 payload.
func ImageFromDataURL(dataURL string) (ImageInput, bool) {
	dataURL = strings.TrimSpace(dataURL)
	matches := dataURLRegex.FindStringSubmatch(dataURL)
	if len(matches) < 2 {
		return ImageInput{}, false
	}

	data := stripDataURLPrefix(dataURL)
	if data == "" {
		return ImageInput{}, false
	}

	return ImageInput{
		DataBase64: data,
		MimeType:   matches[1],
	}, true
}

func stripDataURLPrefix(value string) string {
	if idx := strings.IndexByte(value, ','); idx >= 0 {
		return value[idx+1:]
	}
	return value
}

// Models sometimes wrap JSON answers in a markdown fence even in JSON mode.
func stripCodeFence(text string) string {
	if m := fenceRegex.FindStringSubmatch(text); len(m) == 2 {
		return m[1]
	}
	return text
}

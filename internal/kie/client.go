package kie

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
)

const (
	DefaultBaseURL      = "https://api.kie.ai/api/v1"
	DefaultPollInterval = 4 * time.Second

	stateSuccess = "success"
	stateFail    = "fail"

	maxErrorBody = 4 << 10
)

// ErrMissingAPIKey is returned before any network call when no credential
// was supplied.
var ErrMissingAPIKey = errors.New("kie: api key is required")

// ErrNoResultURL means the task succeeded but its result carried no URL.
var ErrNoResultURL = errors.New("kie: task returned no result url")

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger

	// TripAfter consecutive upstream failures (transport errors and 5xx)
	// opens the createTask breaker for Cooldown. Zero disables it.
	TripAfter uint32
	Cooldown  time.Duration
}

// Client speaks the createTask / recordInfo protocol shared by every
// Kie.ai model.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	breaker    *gobreaker.CircuitBreaker[string]
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
	if opts.TripAfter > 0 {
		c.breaker = newBreaker(opts.TripAfter, opts.Cooldown, logger)
	}
	return c
}

func newBreaker(tripAfter uint32, cooldown time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker[string] {
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "kie-create-task",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= tripAfter
		},
		IsSuccessful: func(err error) bool {
			return !upstreamFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("kie breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	})
}

// upstreamFailure reports errors that say the provider itself is unwell.
// Caller mistakes such as a bad key or a rejected payload do not count.
func upstreamFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *SubmissionError
	if !errors.As(err, &se) {
		return false
	}
	if se.StatusCode >= 500 {
		return true
	}
	return se.StatusCode == 0 && se.Code == 0 && se.Err != nil
}

// Record is the task status returned by recordInfo.
type Record struct {
	TaskID     string          `json:"taskId"`
	Model      string          `json:"model"`
	State      string          `json:"state"`
	ResultJSON json.RawMessage `json:"resultJson,omitempty"`
	FailMsg    string          `json:"failMsg,omitempty"`
}

// ResultURLs extracts the result URLs from the record, if any.
func (r *Record) ResultURLs() []string {
	if r == nil {
		return []string{}
	}
	return ExtractResultURLs(r.ResultJSON)
}

type envelope[T any] struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data *T     `json:"data"`
}

type createTaskData struct {
	TaskID string `json:"taskId"`
}

type PollOptions struct {
	Interval time.Duration
	// Timeout of zero polls until the task reaches a terminal state or
	// the context ends.
	Timeout time.Duration
	// OnTick runs after every status request.
	OnTick func(state string)
}

// Submit creates a task and returns its id.
func (c *Client) Submit(ctx context.Context, apiKey string, payload any) (string, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if c.breaker == nil {
		return c.submit(ctx, apiKey, payload)
	}

	taskID, err := c.breaker.Execute(func() (string, error) {
		return c.submit(ctx, apiKey, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", &SubmissionError{Message: "provider unavailable, try again shortly", Err: err}
	}
	return taskID, err
}

func (c *Client) submit(ctx context.Context, apiKey string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &SubmissionError{Message: "encode payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs/createTask", bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &SubmissionError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: readErrorText(resp)}
	}

	var env envelope[createTaskData]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if env.Code != http.StatusOK || env.Data == nil || strings.TrimSpace(env.Data.TaskID) == "" {
		msg := env.Msg
		if msg == "" {
			msg = "unexpected createTask response"
		}
		return "", &SubmissionError{StatusCode: resp.StatusCode, Code: env.Code, Message: msg}
	}

	c.logger.Debug("kie task created", "task_id", env.Data.TaskID)
	return env.Data.TaskID, nil
}

// Poll requests the task status at a fixed interval until the task
// succeeds, fails, or the timeout elapses. The last wait is shortened to
// the remaining budget so the overrun is bounded by one request.
func (c *Client) Poll(ctx context.Context, apiKey, taskID string, opts PollOptions) (*Record, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	start := time.Now()
	for {
		rec, err := c.status(ctx, apiKey, taskID)
		if err != nil {
			return nil, err
		}
		if opts.OnTick != nil {
			opts.OnTick(rec.State)
		}

		switch strings.ToLower(strings.TrimSpace(rec.State)) {
		case stateSuccess:
			return rec, nil
		case stateFail:
			return nil, &TaskFailedError{TaskID: taskID, Message: rec.FailMsg}
		}

		wait := interval
		if opts.Timeout > 0 {
			elapsed := time.Since(start)
			if elapsed >= opts.Timeout {
				return nil, &TimeoutError{TaskID: taskID, Timeout: opts.Timeout}
			}
			if remaining := opts.Timeout - elapsed; remaining < wait {
				wait = remaining
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (c *Client) status(ctx context.Context, apiKey, taskID string) (*Record, error) {
	endpoint := c.baseURL + "/jobs/recordInfo?taskId=" + url.QueryEscape(taskID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &TransportError{TaskID: taskID, Message: "build request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{TaskID: taskID, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &TransportError{TaskID: taskID, StatusCode: resp.StatusCode, Message: readErrorText(resp)}
	}

	var env envelope[Record]
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, &TransportError{TaskID: taskID, StatusCode: resp.StatusCode, Message: "decode response", Err: err}
	}
	if env.Code != http.StatusOK || env.Data == nil {
		msg := env.Msg
		if msg == "" {
			msg = "unexpected recordInfo response"
		}
		return nil, &TransportError{TaskID: taskID, StatusCode: resp.StatusCode, Message: msg}
	}
	if env.Data.TaskID == "" {
		env.Data.TaskID = taskID
	}
	return env.Data, nil
}

// ExtractResultURLs pulls resultUrls out of a task result. The result may
// arrive as a JSON-encoded string, raw JSON, or an already decoded map.
// Anything malformed yields an empty slice.
func ExtractResultURLs(v any) []string {
	var obj map[string]any

	switch t := v.(type) {
	case nil:
		return []string{}
	case map[string]any:
		obj = t
	case string:
		return extractFromJSON([]byte(t))
	case []byte:
		return extractFromJSON(t)
	case json.RawMessage:
		return extractFromJSON(t)
	default:
		return []string{}
	}

	raw, ok := obj["resultUrls"].([]any)
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func extractFromJSON(data []byte) []string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []string{}
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return []string{}
	}
	// recordInfo usually wraps the object in a JSON string.
	if s, ok := decoded.(string); ok {
		return extractFromJSON([]byte(s))
	}
	return ExtractResultURLs(decoded)
}

func readErrorText(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return resp.Status
}

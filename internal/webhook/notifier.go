package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"dance-studio/internal/model"
	"dance-studio/internal/studio"
)

const defaultTimeout = 30 * time.Second

type Options struct {
	HTTPClient *http.Client
	Logger     *slog.Logger
	Timeout    time.Duration
}

// Notifier posts completed jobs to the n8n webhook stored with the user's
// credentials. Delivery runs in the background and errors are only logged.
// One Notifier serves every studio in the process; see For.
type Notifier struct {
	client  *http.Client
	logger  *slog.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

func New(opts Options) *Notifier {
	client := opts.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Notifier{client: client, logger: logger, timeout: timeout}
}

// For returns the observer for one studio. keys is read when a job
// completes, so credential changes apply to the next delivery.
func (n *Notifier) For(keys func() model.APIKeys) studio.Observer {
	return studio.ObserverFunc(func(e studio.Event) {
		if keys == nil {
			return
		}
		n.deliver(e, keys())
	})
}

type payload struct {
	Event               string               `json:"event"`
	Job                 *model.GenerationJob `json:"job"`
	GoogleDriveFolderID string               `json:"googleDriveFolderId,omitempty"`
	FacebookPageID      string               `json:"facebookPageId,omitempty"`
}

func (n *Notifier) deliver(e studio.Event, keys model.APIKeys) {
	if e.Kind != studio.EventJobCompleted || e.Job == nil {
		return
	}
	url := strings.TrimSpace(keys.N8NWebhook)
	if url == "" {
		return
	}

	body := payload{
		Event:               string(e.Kind),
		Job:                 e.Job,
		GoogleDriveFolderID: keys.GoogleDriveFolderID,
		FacebookPageID:      keys.FacebookPageID,
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.post(ctx, url, body); err != nil {
			n.logger.Warn("webhook delivery failed", "job_id", e.Job.ID, "error", err)
			return
		}
		n.logger.Info("webhook delivered", "job_id", e.Job.ID)
	}()
}

// Wait blocks until in-flight deliveries of every studio finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) post(ctx context.Context, url string, body payload) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}

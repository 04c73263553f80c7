package kie

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dance-studio/internal/prompt"
)

const (
	ImageModel = "bytedance/seedream-v4-text-to-image"
	VideoModel = "wan/2-5-image-to-video"

	DefaultImageSize       = "portrait_16_9"
	DefaultImageResolution = "1K"
	DefaultVideoDuration   = "5"
	DefaultVideoResolution = "720p"

	DefaultImageTimeout = 180 * time.Second
	DefaultVideoTimeout = 360 * time.Second

	imageNegativePrompt = "blurry, distorted face, extra limbs, different person, low quality"
	videoNegativePrompt = "blur, distort, low quality, deformed"

	kindImage = "image"
	kindVideo = "video"
)

// Recorder receives task-level measurements. *metrics.Metrics satisfies it.
type Recorder interface {
	TaskSubmitted(kind string, err error)
	TaskPolled(kind string)
	TaskFinished(kind, outcome string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) TaskSubmitted(string, error)                {}
func (nopRecorder) TaskPolled(string)                          {}
func (nopRecorder) TaskFinished(string, string, time.Duration) {}

type ServiceOptions struct {
	PollInterval time.Duration
	// PollTimeout of zero falls back to the per-model default; negative
	// polls without a bound.
	PollTimeout time.Duration
	Recorder    Recorder
}

type imageInput struct {
	Prompt          string `json:"prompt"`
	NegativePrompt  string `json:"negative_prompt,omitempty"`
	ImageSize       string `json:"image_size"`
	ImageResolution string `json:"image_resolution"`
	MaxImages       int    `json:"max_images"`
}

type videoInput struct {
	Prompt                string `json:"prompt"`
	ImageURL              string `json:"image_url"`
	Duration              string `json:"duration"`
	Resolution            string `json:"resolution"`
	NegativePrompt        string `json:"negative_prompt"`
	EnablePromptExpansion bool   `json:"enable_prompt_expansion"`
}

type taskRequest[T any] struct {
	Model string `json:"model"`
	Input T      `json:"input"`
}

type runner struct {
	client   *Client
	interval time.Duration
	timeout  time.Duration
	recorder Recorder
}

func newRunner(c *Client, opts ServiceOptions, defaultTimeout time.Duration) runner {
	timeout := opts.PollTimeout
	switch {
	case timeout == 0:
		timeout = defaultTimeout
	case timeout < 0:
		timeout = 0
	}
	rec := opts.Recorder
	if rec == nil {
		rec = nopRecorder{}
	}
	return runner{client: c, interval: opts.PollInterval, timeout: timeout, recorder: rec}
}

// run submits one task, waits for it and returns the first result URL.
func (r runner) run(ctx context.Context, kind, apiKey string, payload any) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingAPIKey
	}

	start := time.Now()
	taskID, err := r.client.Submit(ctx, apiKey, payload)
	r.recorder.TaskSubmitted(kind, err)
	if err != nil {
		return "", err
	}

	rec, err := r.client.Poll(ctx, apiKey, taskID, PollOptions{
		Interval: r.interval,
		Timeout:  r.timeout,
		OnTick:   func(string) { r.recorder.TaskPolled(kind) },
	})
	r.recorder.TaskFinished(kind, outcome(err), time.Since(start))
	if err != nil {
		r.client.logger.Warn("kie task did not succeed", "kind", kind, "task_id", taskID, "error", err)
		return "", err
	}

	urls := rec.ResultURLs()
	if len(urls) == 0 {
		return "", fmt.Errorf("%s task %s: %w", kind, taskID, ErrNoResultURL)
	}
	r.client.logger.Info("kie task succeeded", "kind", kind, "task_id", taskID, "elapsed", time.Since(start).Round(time.Millisecond))
	return urls[0], nil
}

func outcome(err error) string {
	var failed *TaskFailedError
	var timeout *TimeoutError
	switch {
	case err == nil:
		return "success"
	case errors.As(err, &failed):
		return "failed"
	case errors.As(err, &timeout):
		return "timeout"
	default:
		return "error"
	}
}

type ImageService struct {
	runner     runner
	size       string
	resolution string
}

func NewImageService(c *Client, opts ServiceOptions) *ImageService {
	return &ImageService{
		runner:     newRunner(c, opts, DefaultImageTimeout),
		size:       DefaultImageSize,
		resolution: DefaultImageResolution,
	}
}

// GenerateImage renders one text-to-image variant and returns its URL.
func (s *ImageService) GenerateImage(ctx context.Context, apiKey, text string) (string, error) {
	payload := taskRequest[imageInput]{
		Model: ImageModel,
		Input: imageInput{
			Prompt:          prompt.Optimize(text, prompt.ImagePromptBudget),
			NegativePrompt:  imageNegativePrompt,
			ImageSize:       s.size,
			ImageResolution: s.resolution,
			MaxImages:       1,
		},
	}
	return s.runner.run(ctx, kindImage, apiKey, payload)
}

type VideoOptions struct {
	Duration   string `json:"duration"`
	Resolution string `json:"resolution"`
}

// WithDefaults fills blank fields.
func (o VideoOptions) WithDefaults() VideoOptions {
	o.Duration = strings.TrimSpace(o.Duration)
	o.Resolution = strings.ToLower(strings.TrimSpace(o.Resolution))
	if o.Duration == "" {
		o.Duration = DefaultVideoDuration
	}
	if o.Resolution == "" {
		o.Resolution = DefaultVideoResolution
	}
	return o
}

// Validate checks duration is a whole number of seconds in 1..10 and the
// resolution is one the model accepts.
func (o VideoOptions) Validate() error {
	o = o.WithDefaults()
	n, err := strconv.Atoi(o.Duration)
	if err != nil || n < 1 || n > 10 {
		return fmt.Errorf("duration must be between 1 and 10 seconds, got %q", o.Duration)
	}
	switch o.Resolution {
	case "720p", "1080p":
	default:
		return fmt.Errorf("resolution must be 720p or 1080p, got %q", o.Resolution)
	}
	return nil
}

type VideoService struct {
	runner   runner
	defaults VideoOptions
}

func NewVideoService(c *Client, opts ServiceOptions, defaults VideoOptions) *VideoService {
	return &VideoService{
		runner:   newRunner(c, opts, DefaultVideoTimeout),
		defaults: defaults.WithDefaults(),
	}
}

// GenerateVideo animates imageURL and returns the clip URL.
func (s *VideoService) GenerateVideo(ctx context.Context, apiKey, imageURL, text string, opts VideoOptions) (string, error) {
	if opts.Duration == "" {
		opts.Duration = s.defaults.Duration
	}
	if opts.Resolution == "" {
		opts.Resolution = s.defaults.Resolution
	}
	if err := opts.Validate(); err != nil {
		return "", err
	}
	opts = opts.WithDefaults()

	payload := taskRequest[videoInput]{
		Model: VideoModel,
		Input: videoInput{
			Prompt:                prompt.Optimize(text, prompt.VideoPromptBudget),
			ImageURL:              imageURL,
			Duration:              opts.Duration,
			Resolution:            opts.Resolution,
			NegativePrompt:        videoNegativePrompt,
			EnablePromptExpansion: false,
		},
	}
	return s.runner.run(ctx, kindVideo, apiKey, payload)
}

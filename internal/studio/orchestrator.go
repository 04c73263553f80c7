package studio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"dance-studio/internal/analysis"
	"dance-studio/internal/kie"
	"dance-studio/internal/model"
	"dance-studio/internal/prompt"
	"dance-studio/internal/state"
)

const (
	DefaultCount = 4
	MaxCount     = 10
)

type ImageGenerator interface {
	GenerateImage(ctx context.Context, apiKey, prompt string) (string, error)
}

type VideoGenerator interface {
	GenerateVideo(ctx context.Context, apiKey, imageURL, prompt string, opts kie.VideoOptions) (string, error)
}

type Options struct {
	State    *state.Store
	Analyzer analysis.Analyzer
	Images   ImageGenerator
	Videos   VideoGenerator
	Observer Observer
	Logger   *slog.Logger

	ImageCount    int
	VideoDefaults kie.VideoOptions
	// ArchiveFailed also stores failed jobs in history.
	ArchiveFailed bool

	Rand  prompt.Rand
	Now   func() time.Time
	NewID func(prefix string) string
}

// Orchestrator drives one user's jobs through analysis, the image
// fan-out, selection and the video fan-out. Remote calls run one at a
// time on the caller's goroutine; a second pipeline action while one is
// running is rejected with ErrBusy.
type Orchestrator struct {
	state         *state.Store
	analyzer      analysis.Analyzer
	images        ImageGenerator
	videos        VideoGenerator
	observer      Observer
	logger        *slog.Logger
	imageCount    int
	videoDefaults kie.VideoOptions
	archiveFailed bool
	rnd           prompt.Rand
	now           func() time.Time
	newID         func(prefix string) string

	busy atomic.Bool
}

func New(opts Options) (*Orchestrator, error) {
	switch {
	case opts.State == nil:
		return nil, errors.New("studio: state store is required")
	case opts.Analyzer == nil:
		return nil, errors.New("studio: analyzer is required")
	case opts.Images == nil:
		return nil, errors.New("studio: image generator is required")
	case opts.Videos == nil:
		return nil, errors.New("studio: video generator is required")
	}

	count := opts.ImageCount
	if count <= 0 {
		count = DefaultCount
	}
	if count > MaxCount {
		count = MaxCount
	}

	observer := opts.Observer
	if observer == nil {
		observer = Observers(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	newID := opts.NewID
	if newID == nil {
		newID = func(prefix string) string { return prefix + "-" + uuid.NewString() }
	}

	return &Orchestrator{
		state:         opts.State,
		analyzer:      opts.Analyzer,
		images:        opts.Images,
		videos:        opts.Videos,
		observer:      observer,
		logger:        logger,
		imageCount:    count,
		videoDefaults: opts.VideoDefaults.WithDefaults(),
		archiveFailed: opts.ArchiveFailed,
		rnd:           opts.Rand,
		now:           now,
		newID:         newID,
	}, nil
}

// State exposes the store the orchestrator mutates.
func (o *Orchestrator) State() *state.Store { return o.state }

// Busy reports whether a pipeline action is running.
func (o *Orchestrator) Busy() bool { return o.busy.Load() }

// ImageCount is the default fan-out width.
func (o *Orchestrator) ImageCount() int { return o.imageCount }

// ImageRequest carries one upload. Either Image (raw bytes) or DataURI
// must be set. Count of zero uses the configured default.
type ImageRequest struct {
	Image    []byte
	MIMEType string
	DataURI  string
	Count    int
}

// Validate runs the checks GenerateImages performs before starting.
func (o *Orchestrator) Validate(req ImageRequest) error {
	_, err := o.prepare(req)
	return err
}

func (o *Orchestrator) prepare(req ImageRequest) (string, error) {
	if strings.TrimSpace(o.state.APIKeys().Kie) == "" {
		return "", invalid(ErrMissingAPIKey)
	}
	if req.Count < 0 || req.Count > MaxCount {
		return "", invalid(ErrInvalidCount)
	}
	dataURI, err := encodeRequest(req)
	if err != nil {
		return "", invalid(err)
	}
	return dataURI, nil
}

func encodeRequest(req ImageRequest) (string, error) {
	if req.DataURI != "" {
		if err := checkDataURI(req.DataURI); err != nil {
			return "", err
		}
		return strings.TrimSpace(req.DataURI), nil
	}
	return EncodeUpload(req.Image, req.MIMEType)
}

// Run is a pipeline step that has claimed the orchestrator and already
// published its job. Execute performs the remote work and releases the
// claim when it returns.
type Run struct {
	job     *model.GenerationJob
	execute func(ctx context.Context) (*model.GenerationJob, error)
	started atomic.Bool
}

// Job is the snapshot published when the run was started.
func (r *Run) Job() *model.GenerationJob { return r.job.Clone() }

// Execute may be called once; later calls return ErrRunStarted.
func (r *Run) Execute(ctx context.Context) (*model.GenerationJob, error) {
	if !r.started.CompareAndSwap(false, true) {
		return nil, ErrRunStarted
	}
	return r.execute(ctx)
}

func (o *Orchestrator) newRun(job *model.GenerationJob, fn func(ctx context.Context) (*model.GenerationJob, error)) *Run {
	return &Run{
		job: job.Clone(),
		execute: func(ctx context.Context) (*model.GenerationJob, error) {
			defer o.busy.Store(false)
			return fn(ctx)
		},
	}
}

// GenerateImages analyzes the upload and renders the diverse variants one
// slot at a time. A failing slot never stops the others; the step fails
// only when every slot failed.
func (o *Orchestrator) GenerateImages(ctx context.Context, req ImageRequest) (*model.GenerationJob, error) {
	run, err := o.StartImages(req)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// StartImages validates req, claims the orchestrator and publishes a new
// analyzing job without calling any remote service.
func (o *Orchestrator) StartImages(req ImageRequest) (*Run, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, invalid(ErrBusy)
	}

	dataURI, err := o.prepare(req)
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}
	keys := o.state.APIKeys()

	count := req.Count
	if count == 0 {
		count = o.imageCount
	}

	job := &model.GenerationJob{
		ID:                   o.newID("job"),
		OriginalImage:        dataURI,
		RegeneratedImageURLs: []string{},
		SelectedImageURLs:    []string{},
		Videos:               []model.GeneratedVideo{},
		Status:               model.StatusAnalyzing,
		CreatedAt:            o.now(),
	}
	o.state.SetCurrentJob(job)
	o.emit(Event{Kind: EventJobUpdated, Job: job, Index: -1})

	return o.newRun(job, func(ctx context.Context) (*model.GenerationJob, error) {
		return o.runImages(ctx, job, dataURI, keys, count)
	}), nil
}

func (o *Orchestrator) runImages(ctx context.Context, job *model.GenerationJob, dataURI string, keys model.APIKeys, count int) (*model.GenerationJob, error) {
	logger := o.logger.With("job_id", job.ID)
	logger.Info("analyzing upload", "count", count)

	profile, err := o.analyzer.Analyze(ctx, dataURI, keys.Analysis)
	if err != nil {
		return o.fail(ctx, logger, fmt.Errorf("analyze image: %w", err))
	}

	base := prompt.BuildImagePrompt(profile)
	variants := prompt.BuildDiversePrompts(base, count, profile)
	videoPrompt := prompt.BuildVideoPrompt(o.rnd)

	job, err = o.update(func(j *model.GenerationJob) {
		j.ImageAnalysis = &profile
		j.ImagePrompt = base
		j.VideoPrompt = videoPrompt
		j.Status = model.StatusGeneratingImage
		j.ImageSlots = make([]model.ImageSlot, len(variants))
		for i, p := range variants {
			j.ImageSlots[i] = model.ImageSlot{Index: i, Prompt: p, Status: model.SlotLoading}
		}
	})
	if err != nil {
		return nil, err
	}
	o.emit(Event{Kind: EventJobUpdated, Job: job, Index: -1})

	var failures []SlotFailure
	for i, variant := range variants {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, logger, err)
		}
		o.emit(Event{Kind: EventSlotStarted, Job: job, Index: i, Total: len(variants)})

		url, genErr := o.images.GenerateImage(ctx, keys.Kie, variant)
		if genErr != nil {
			logger.Warn("image slot failed", "slot", i, "error", genErr)
			failures = append(failures, SlotFailure{Index: i, Message: genErr.Error()})
			job, err = o.update(func(j *model.GenerationJob) {
				j.ImageSlots[i].Status = model.SlotFailed
				j.ImageSlots[i].Error = genErr.Error()
			})
			if err != nil {
				return nil, err
			}
			o.emit(Event{Kind: EventSlotFailed, Job: job, Index: i, Total: len(variants), Err: genErr})
			if ctxErr := ctx.Err(); ctxErr != nil {
				return o.fail(ctx, logger, ctxErr)
			}
			continue
		}

		logger.Info("image slot ready", "slot", i)
		job, err = o.update(func(j *model.GenerationJob) {
			j.ImageSlots[i].Status = model.SlotSuccess
			j.ImageSlots[i].URL = url
			j.RegeneratedImageURLs = append(j.RegeneratedImageURLs, url)
		})
		if err != nil {
			return nil, err
		}
		o.emit(Event{Kind: EventSlotSucceeded, Job: job, Index: i, Total: len(variants)})
	}

	if len(failures) == len(variants) {
		return o.fail(ctx, logger, &SlotFailuresError{Failures: failures})
	}

	job, err = o.update(func(j *model.GenerationJob) {
		j.Status = model.StatusImageReady
		j.SelectedImageURLs = []string{}
	})
	if err != nil {
		return nil, err
	}
	logger.Info("images ready", "succeeded", len(variants)-len(failures), "failed", len(failures))
	o.emit(Event{Kind: EventImagesReady, Job: job, Index: -1})
	return job, nil
}

// SelectImages replaces the selection. Every URL must be one of the
// job's generated images; duplicates are dropped.
func (o *Orchestrator) SelectImages(urls []string) (*model.GenerationJob, error) {
	if o.busy.Load() {
		return nil, invalid(ErrBusy)
	}
	job, err := o.state.UpdateCurrent(func(j *model.GenerationJob) error {
		if err := selectable(j); err != nil {
			return err
		}
		selected := make([]string, 0, len(urls))
		seen := make(map[string]struct{}, len(urls))
		for _, u := range urls {
			if !j.HasImage(u) {
				return invalid(ErrUnknownImage)
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			selected = append(selected, u)
		}
		j.SelectedImageURLs = selected
		return nil
	})
	if err != nil {
		return nil, selectionError(err)
	}
	o.emit(Event{Kind: EventJobUpdated, Job: job, Index: -1})
	return job, nil
}

// ToggleImage adds url to the selection or removes it.
func (o *Orchestrator) ToggleImage(url string) (*model.GenerationJob, error) {
	if o.busy.Load() {
		return nil, invalid(ErrBusy)
	}
	job, err := o.state.UpdateCurrent(func(j *model.GenerationJob) error {
		if err := selectable(j); err != nil {
			return err
		}
		if !j.HasImage(url) {
			return invalid(ErrUnknownImage)
		}
		if j.IsSelected(url) {
			kept := make([]string, 0, len(j.SelectedImageURLs))
			for _, u := range j.SelectedImageURLs {
				if u != url {
					kept = append(kept, u)
				}
			}
			j.SelectedImageURLs = kept
			return nil
		}
		j.SelectedImageURLs = append(j.SelectedImageURLs, url)
		return nil
	})
	if err != nil {
		return nil, selectionError(err)
	}
	o.emit(Event{Kind: EventJobUpdated, Job: job, Index: -1})
	return job, nil
}

func selectable(j *model.GenerationJob) error {
	if len(j.RegeneratedImageURLs) == 0 {
		return invalid(ErrNotReady)
	}
	switch j.Status {
	case model.StatusImageReady, model.StatusCompleted, model.StatusFailed:
		return nil
	}
	return invalid(ErrNotReady)
}

func selectionError(err error) error {
	if errors.Is(err, state.ErrNoCurrentJob) {
		return invalid(ErrNoCurrentJob)
	}
	return err
}

// GenerateVideos animates every selected image, one after another. The
// first failure aborts the run and fails the job; there is no partial
// completion. A completed job is added to the front of the history.
func (o *Orchestrator) GenerateVideos(ctx context.Context, opts kie.VideoOptions) (*model.GenerationJob, error) {
	run, err := o.StartVideos(opts)
	if err != nil {
		return nil, err
	}
	return run.Execute(ctx)
}

// StartVideos checks the guards, claims the orchestrator and publishes the
// job in generating-videos with an empty video list.
func (o *Orchestrator) StartVideos(opts kie.VideoOptions) (*Run, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, invalid(ErrBusy)
	}

	job, opts, err := o.planVideos(opts)
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}
	keys := o.state.APIKeys()
	selected := append([]string(nil), job.SelectedImageURLs...)

	job, err = o.update(func(j *model.GenerationJob) {
		j.Videos = []model.GeneratedVideo{}
		j.VideoCount = len(selected)
		j.Status = model.StatusGeneratingVideos
		j.Error = ""
		j.CompletedAt = nil
	})
	if err != nil {
		o.busy.Store(false)
		return nil, err
	}
	o.emit(Event{Kind: EventJobUpdated, Job: job, Index: -1})

	return o.newRun(job, func(ctx context.Context) (*model.GenerationJob, error) {
		return o.runVideos(ctx, job, opts, keys, selected)
	}), nil
}

// runVideos appends a processing record before each request and settles
// it as completed or failed once the provider answers.
func (o *Orchestrator) runVideos(ctx context.Context, job *model.GenerationJob, opts kie.VideoOptions, keys model.APIKeys, selected []string) (*model.GenerationJob, error) {
	caption := prompt.BuildCaption(*job.ImageAnalysis)
	videoPrompt := job.VideoPrompt

	logger := o.logger.With("job_id", job.ID)
	logger.Info("generating videos", "count", len(selected), "duration", opts.Duration, "resolution", opts.Resolution)

	var err error
	for i, imageURL := range selected {
		if err := ctx.Err(); err != nil {
			return o.fail(ctx, logger, err)
		}

		video := model.GeneratedVideo{
			ID:             o.newID("video"),
			SourceImageURL: imageURL,
			Prompt:         videoPrompt,
			Caption:        caption,
			CreatedAt:      o.now(),
			Status:         model.VideoProcessing,
		}
		job, err = o.update(func(j *model.GenerationJob) {
			j.Videos = append(j.Videos, video)
		})
		if err != nil {
			return nil, err
		}
		o.emit(Event{Kind: EventVideoStarted, Job: job, Index: i, Total: len(selected)})

		url, genErr := o.videos.GenerateVideo(ctx, keys.Kie, imageURL, videoPrompt, opts)
		if genErr != nil {
			logger.Warn("video failed, aborting run", "index", i, "error", genErr)
			job, err = o.update(func(j *model.GenerationJob) {
				j.Videos[i].Status = model.VideoFailed
			})
			if err != nil {
				return nil, errors.Join(genErr, err)
			}
			o.emit(Event{Kind: EventVideoFailed, Job: job, Index: i, Total: len(selected), Err: genErr})
			return o.fail(ctx, logger, fmt.Errorf("video %d of %d: %w", i+1, len(selected), genErr))
		}

		job, err = o.update(func(j *model.GenerationJob) {
			j.Videos[i].VideoURL = url
			j.Videos[i].Status = model.VideoCompleted
		})
		if err != nil {
			return nil, err
		}
		o.emit(Event{Kind: EventVideoCompleted, Job: job, Index: i, Total: len(selected)})
	}

	completedAt := o.now()
	job, err = o.update(func(j *model.GenerationJob) {
		j.Status = model.StatusCompleted
		j.CompletedAt = &completedAt
	})
	if err != nil {
		return nil, err
	}
	logger.Info("job completed", "videos", len(job.Videos))

	var historyErr error
	if err := o.state.AddToHistory(context.WithoutCancel(ctx), job); err != nil {
		logger.Error("failed to save history", "error", err)
		historyErr = fmt.Errorf("job completed but history was not saved: %w", err)
	}
	o.emit(Event{Kind: EventJobCompleted, Job: job, Index: -1})
	return job, historyErr
}

// ValidateVideos runs the checks GenerateVideos performs before starting.
func (o *Orchestrator) ValidateVideos(opts kie.VideoOptions) error {
	_, _, err := o.planVideos(opts)
	return err
}

func (o *Orchestrator) planVideos(opts kie.VideoOptions) (*model.GenerationJob, kie.VideoOptions, error) {
	if strings.TrimSpace(o.state.APIKeys().Kie) == "" {
		return nil, opts, invalid(ErrMissingAPIKey)
	}

	job := o.state.CurrentJob()
	switch {
	case job == nil:
		return nil, opts, invalid(ErrNoCurrentJob)
	case len(job.SelectedImageURLs) == 0:
		return nil, opts, invalid(ErrNoSelection)
	case strings.TrimSpace(job.VideoPrompt) == "":
		return nil, opts, invalid(ErrNoVideoPrompt)
	case job.ImageAnalysis == nil:
		return nil, opts, invalid(ErrNoAnalysis)
	}

	if opts.Duration == "" {
		opts.Duration = o.videoDefaults.Duration
	}
	if opts.Resolution == "" {
		opts.Resolution = o.videoDefaults.Resolution
	}
	if err := opts.Validate(); err != nil {
		return nil, opts, invalid(err)
	}
	return job, opts.WithDefaults(), nil
}

func (o *Orchestrator) update(fn func(*model.GenerationJob)) (*model.GenerationJob, error) {
	return o.state.UpdateCurrent(func(j *model.GenerationJob) error {
		fn(j)
		return nil
	})
}

// fail records cause on the current job, publishes it and returns cause.
func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, cause error) (*model.GenerationJob, error) {
	logger.Error("job failed", "error", cause)

	job, err := o.update(func(j *model.GenerationJob) {
		j.Status = model.StatusFailed
		j.Error = cause.Error()
	})
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	o.emit(Event{Kind: EventJobFailed, Job: job, Index: -1, Err: cause})

	if o.archiveFailed {
		if err := o.state.AddToHistory(context.WithoutCancel(ctx), job); err != nil {
			logger.Error("failed to archive failed job", "error", err)
		}
	}
	return job, cause
}

func (o *Orchestrator) emit(e Event) {
	if e.Job != nil {
		e.Job = e.Job.Clone()
	}
	o.observer.Notify(e)
}

package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"dance-studio/internal/kvstore"
	"dance-studio/internal/model"
)

const (
	KeyAPIKeys = "apiKeys"
	KeyHistory = "jobHistory"
)

var ErrNoCurrentJob = errors.New("state: no current job")

type Options struct {
	KV     kvstore.Store
	Logger *slog.Logger
}

// Store owns the credentials, the job history and the in-flight job.
// Credentials and history are persisted as whole JSON blobs on every
// mutation; the current job lives in memory only.
type Store struct {
	mu      sync.Mutex
	kv      kvstore.Store
	logger  *slog.Logger
	keys    model.APIKeys
	history []*model.GenerationJob
	current *model.GenerationJob
}

func New(opts Options) *Store {
	kv := opts.KV
	if kv == nil {
		kv = kvstore.NewMemory()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{kv: kv, logger: logger}
}

// Load reads both blobs. A blob that cannot be decoded is logged and
// treated as empty; only storage failures are returned.
func (s *Store) Load(ctx context.Context) error {
	var keys model.APIKeys
	ok, err := s.read(ctx, KeyAPIKeys, &keys)
	if err != nil {
		return err
	}
	if !ok {
		keys = model.APIKeys{}
	}
	var history []*model.GenerationJob
	ok, err = s.read(ctx, KeyHistory, &history)
	if err != nil {
		return err
	}
	if !ok {
		history = nil
	}

	cleaned := history[:0]
	for _, job := range history {
		if job != nil {
			cleaned = append(cleaned, job)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = keys
	s.history = cleaned
	return nil
}

// read reports false when the blob is absent or undecodable.
func (s *Store) read(ctx context.Context, key string, dst any) (bool, error) {
	data, ok, err := s.kv.Get(ctx, key)
	if err != nil {
		return false, fmt.Errorf("state: load %s: %w", key, err)
	}
	if !ok || len(data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		s.logger.Warn("discarding undecodable state", "key", key, "error", err)
		return false, nil
	}
	return true, nil
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("state: save %s: %w", key, err)
	}
	return nil
}

func (s *Store) APIKeys() model.APIKeys {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys
}

func (s *Store) SetAPIKeys(ctx context.Context, keys model.APIKeys) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(ctx, KeyAPIKeys, keys); err != nil {
		return err
	}
	s.keys = keys
	return nil
}

// ClearAPIKeys removes the persisted credentials blob.
func (s *Store) ClearAPIKeys(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyAPIKeys); err != nil {
		return fmt.Errorf("state: clear %s: %w", KeyAPIKeys, err)
	}
	s.keys = model.APIKeys{}
	return nil
}

// CurrentJob returns a copy of the in-flight job, or nil.
func (s *Store) CurrentJob() *model.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

func (s *Store) SetCurrentJob(job *model.GenerationJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = job.Clone()
}

// UpdateCurrent applies fn to the in-flight job under the lock and returns
// a copy of the result.
func (s *Store) UpdateCurrent(fn func(*model.GenerationJob) error) (*model.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoCurrentJob
	}
	next := s.current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.current = next
	return next.Clone(), nil
}

// History returns copies of the stored jobs, most recent first.
func (s *Store) History() []*model.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.GenerationJob, 0, len(s.history))
	for _, job := range s.history {
		out = append(out, job.Clone())
	}
	return out
}

// AddToHistory puts job at the front. An older entry with the same id is
// replaced so ids stay unique.
func (s *Store) AddToHistory(ctx context.Context, job *model.GenerationJob) error {
	if job == nil {
		return errors.New("state: nil job")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*model.GenerationJob, 0, len(s.history)+1)
	next = append(next, job.Clone())
	for _, existing := range s.history {
		if existing.ID != job.ID {
			next = append(next, existing)
		}
	}
	return s.replaceHistoryLocked(ctx, next)
}

func (s *Store) RemoveFromHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]*model.GenerationJob, 0, len(s.history))
	for _, existing := range s.history {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	return s.replaceHistoryLocked(ctx, next)
}

// ClearHistory removes the persisted history blob.
func (s *Store) ClearHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Delete(ctx, KeyHistory); err != nil {
		return fmt.Errorf("state: clear %s: %w", KeyHistory, err)
	}
	s.history = nil
	return nil
}

func (s *Store) replaceHistoryLocked(ctx context.Context, next []*model.GenerationJob) error {
	if err := s.write(ctx, KeyHistory, next); err != nil {
		return err
	}
	s.history = next
	return nil
}

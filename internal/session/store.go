package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"dance-studio/internal/model"
	"dance-studio/internal/studio"
)

const defaultPendingGrace = 24 * time.Hour

// UIState is the chat-side view of a user's current job.
type UIState struct {
	ChatID int64
	// PanelMessageID is the status message edited while a run progresses.
	PanelMessageID int
	// SlotMessages maps image slot index to the photo message showing it.
	SlotMessages map[int]int
	AwaitingKey  bool
	UpdatedAt    time.Time
}

// Session is one bot user's studio: a namespaced state store behind an
// orchestrator, plus UI bookkeeping.
type Session struct {
	UserID   int64
	Username string
	Studio   *studio.Orchestrator
	Progress *Relay

	ui           UIState
	lastActivity time.Time
}

// Factory builds the orchestrator for a user. progress must be attached
// as one of its observers.
type Factory func(ctx context.Context, userID int64, progress studio.Observer) (*studio.Orchestrator, error)

type Options struct {
	Factory Factory
	Now     func() time.Time
	// PendingGrace extends the idle cutoff for sessions whose current job
	// has images waiting for selection. The job lives only in memory.
	PendingGrace time.Duration
}

type Store struct {
	mu       sync.Mutex
	sessions map[int64]*Session
	factory  Factory
	now      func() time.Time
	grace    time.Duration
}

func NewStore(opts Options) *Store {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	grace := opts.PendingGrace
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	return &Store{
		sessions: make(map[int64]*Session),
		factory:  opts.Factory,
		now:      now,
		grace:    grace,
	}
}

// Get returns the user's session, creating it on first use.
func (s *Store) Get(ctx context.Context, userID int64, username string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[userID]; ok {
		if sess.Username == "" && username != "" {
			sess.Username = username
		}
		sess.lastActivity = s.now()
		return sess, nil
	}

	if s.factory == nil {
		return nil, errors.New("session: no factory configured")
	}
	relay := &Relay{}
	orch, err := s.factory(ctx, userID, relay)
	if err != nil {
		return nil, err
	}

	sess := &Session{
		UserID:       userID,
		Username:     username,
		Studio:       orch,
		Progress:     relay,
		lastActivity: s.now(),
	}
	s.sessions[userID] = sess
	return sess, nil
}

// UI returns a copy of the user's UI state.
func (s *Store) UI(userID int64) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return UIState{}
	}
	return copyUI(sess.ui)
}

// UpdateUI applies fn to the user's UI state and returns a copy.
func (s *Store) UpdateUI(userID int64, fn func(*UIState)) UIState {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[userID]
	if !ok {
		return UIState{}
	}
	if sess.ui.SlotMessages == nil {
		sess.ui.SlotMessages = make(map[int]int)
	}
	fn(&sess.ui)
	sess.ui.UpdatedAt = s.now()
	return copyUI(sess.ui)
}

// Evict drops sessions idle since before cutoff that are not running a
// pipeline. Their keys and history stay persisted and are reloaded on next
// use. A session holding an image-ready job is kept until cutoff minus the
// pending grace.
func (s *Store) Evict(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.Studio.Busy() {
			continue
		}
		limit := cutoff
		if awaitingSelection(sess.Studio) {
			limit = cutoff.Add(-s.grace)
		}
		if sess.lastActivity.Before(limit) {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

func awaitingSelection(o *studio.Orchestrator) bool {
	job := o.State().CurrentJob()
	return job != nil && job.Status == model.StatusImageReady
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func copyUI(ui UIState) UIState {
	out := ui
	out.SlotMessages = make(map[int]int, len(ui.SlotMessages))
	for k, v := range ui.SlotMessages {
		out.SlotMessages[k] = v
	}
	return out
}

// Relay forwards events to an observer that can be swapped per run.
type Relay struct {
	mu     sync.Mutex
	target studio.Observer
}

func (r *Relay) Set(o studio.Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.target = o
}

func (r *Relay) Notify(e studio.Event) {
	r.mu.Lock()
	target := r.target
	r.mu.Unlock()

	if target != nil {
		target.Notify(e)
	}
}

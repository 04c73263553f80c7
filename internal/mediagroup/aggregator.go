package mediagroup

import (
	"fmt"
	"sync"
	"time"
)

const DefaultDebounce = 1200 * time.Millisecond

// Photo is one message of a Telegram album.
type Photo struct {
	ChatID   int64
	UserID   int64
	Username string
	GroupID  string
	Caption  string
	FileID   string
}

// Album collects the photos of one media group in arrival order.
type Album struct {
	ChatID   int64
	UserID   int64
	Username string
	Caption  string
	FileIDs  []string
}

// First is the photo the pipeline runs on; the rest of an album is ignored.
func (a Album) First() string {
	if len(a.FileIDs) == 0 {
		return ""
	}
	return a.FileIDs[0]
}

type Options struct {
	Debounce time.Duration
	OnFlush  func(Album)
}

// Aggregator waits until an album stops growing for Debounce and then
// hands it to OnFlush once.
type Aggregator struct {
	mu       sync.Mutex
	debounce time.Duration
	onFlush  func(Album)
	pending  map[string]*pendingAlbum
	closed   bool
}

type pendingAlbum struct {
	album Album
	timer *time.Timer
}

func New(opts Options) *Aggregator {
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Aggregator{
		debounce: debounce,
		onFlush:  opts.OnFlush,
		pending:  make(map[string]*pendingAlbum),
	}
}

func (a *Aggregator) Add(p Photo) {
	if p.GroupID == "" || p.FileID == "" {
		return
	}

	key := fmt.Sprintf("%d:%s", p.ChatID, p.GroupID)

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	pa, ok := a.pending[key]
	if !ok {
		pa = &pendingAlbum{album: Album{
			ChatID:   p.ChatID,
			UserID:   p.UserID,
			Username: p.Username,
		}}
		a.pending[key] = pa
	}
	pa.album.FileIDs = append(pa.album.FileIDs, p.FileID)
	if p.Caption != "" {
		pa.album.Caption = p.Caption
	}

	if pa.timer != nil {
		pa.timer.Stop()
	}
	pa.timer = time.AfterFunc(a.debounce, func() { a.flush(key) })
}

// Pending reports how many albums are still collecting photos.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Close drops pending albums and ignores further photos.
func (a *Aggregator) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.closed = true
	for key, pa := range a.pending {
		if pa.timer != nil {
			pa.timer.Stop()
		}
		delete(a.pending, key)
	}
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	pa, ok := a.pending[key]
	if !ok {
		a.mu.Unlock()
		return
	}
	delete(a.pending, key)
	album := pa.album
	onFlush := a.onFlush
	a.mu.Unlock()

	if onFlush != nil {
		onFlush(album)
	}
}

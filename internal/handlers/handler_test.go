package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dance-studio/internal/kie"
	"dance-studio/internal/mediagroup"
	"dance-studio/internal/model"
	"dance-studio/internal/session"
	"dance-studio/internal/state"
	"dance-studio/internal/studio"
)

const (
	chatID int64 = 500
	userID int64 = 42
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)

type sentPhoto struct {
	url, caption string
	kb           *tgbotapi.InlineKeyboardMarkup
}

type callbackAnswer struct {
	text  string
	alert bool
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	texts     []string
	messages  []string
	edits     []string
	keyboards map[int]tgbotapi.InlineKeyboardMarkup
	deleted   []int
	answers   []callbackAnswer
	photos    []sentPhoto
	videos    []string
	downloads []string
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000, keyboards: map[int]tgbotapi.InlineKeyboardMarkup{}}
}

func (f *fakeMessenger) id() int {
	f.nextID++
	return f.nextID
}

func (f *fakeMessenger) SendTyping(int64) {}

func (f *fakeMessenger) SendText(_ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeMessenger) SendMessage(_ int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	id := f.id()
	if kb != nil {
		f.keyboards[id] = *kb
	}
	return id, nil
}

func (f *fakeMessenger) EditMessage(_ int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	if kb != nil {
		f.keyboards[messageID] = *kb
	}
	return nil
}

func (f *fakeMessenger) EditKeyboard(_ int64, messageID int, kb tgbotapi.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keyboards[messageID] = kb
	return nil
}

func (f *fakeMessenger) DeleteMessage(_ int64, messageID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeMessenger) AnswerCallback(_ string, text string, alert bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, callbackAnswer{text: text, alert: alert})
	return nil
}

func (f *fakeMessenger) SendPhotoURL(_ int64, url, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.photos = append(f.photos, sentPhoto{url: url, caption: caption, kb: kb})
	id := f.id()
	if kb != nil {
		f.keyboards[id] = *kb
	}
	return id, nil
}

func (f *fakeMessenger) SendVideoURL(_ int64, url, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.videos = append(f.videos, url)
	return nil
}

func (f *fakeMessenger) DownloadFile(_ context.Context, fileID string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads = append(f.downloads, fileID)
	return pngBytes, "image/png", nil
}

func (f *fakeMessenger) lastAnswer() callbackAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.answers) == 0 {
		return callbackAnswer{}
	}
	return f.answers[len(f.answers)-1]
}

func (f *fakeMessenger) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(context.Context, string, string) (model.Profile, error) {
	return model.Profile{DetailedPrompt: "a dancer", Clothing: "sneakers"}, nil
}

type stubImages struct {
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (s *stubImages) GenerateImage(context.Context, string, string) (string, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if s.fail[i] {
		return "", errors.New("content filtered")
	}
	return fmt.Sprintf("https://cdn.test/img-%d.png", i), nil
}

type stubVideos struct{}

func (stubVideos) GenerateVideo(_ context.Context, _, imageURL, _ string, _ kie.VideoOptions) (string, error) {
	return strings.Replace(imageURL, ".png", ".mp4", 1), nil
}

type fixture struct {
	h        *Handler
	tg       *fakeMessenger
	sessions *session.Store
	images   *stubImages
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{tg: newFakeMessenger(), images: &stubImages{fail: map[int]bool{1: true}}}
	f.sessions = session.NewStore(session.Options{
		Factory: func(_ context.Context, _ int64, progress studio.Observer) (*studio.Orchestrator, error) {
			return studio.New(studio.Options{
				State:      state.New(state.Options{}),
				Analyzer:   stubAnalyzer{},
				Images:     f.images,
				Videos:     stubVideos{},
				Observer:   progress,
				ImageCount: 3,
			})
		},
	})
	f.h = New(Options{Telegram: f.tg, Sessions: f.sessions})
	return f
}

func (f *fixture) studio(t *testing.T) *studio.Orchestrator {
	t.Helper()
	sess, err := f.sessions.Get(context.Background(), userID, "")
	require.NoError(t, err)
	return sess.Studio
}

func (f *fixture) setKey(t *testing.T) {
	t.Helper()
	require.NoError(t, f.studio(t).State().SetAPIKeys(context.Background(), model.APIKeys{Kie: "kie-key"}))
}

func textUpdate(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 77,
		From:      &tgbotapi.User{ID: userID, UserName: "dancer"},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd, _, _ := strings.Cut(text, " ")
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{Message: msg}
}

func photoUpdate(fileID, groupID string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:    78,
		From:         &tgbotapi.User{ID: userID},
		Chat:         &tgbotapi.Chat{ID: chatID},
		MediaGroupID: groupID,
		Photo: []tgbotapi.PhotoSize{
			{FileID: fileID + "-small"},
			{FileID: fileID},
		},
	}}
}

func callbackUpdate(from int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}}
}

func buttonText(kb tgbotapi.InlineKeyboardMarkup) string {
	return kb.InlineKeyboard[0][0].Text
}

func TestStartCommand(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.h.HandleUpdate(context.Background(), textUpdate("/start")))
	assert.Contains(t, f.tg.lastText(), "Dance Studio")
}

func TestPhotoWithoutKeyAsksForKey(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.h.HandleUpdate(context.Background(), photoUpdate("file-1", "")))

	assert.Equal(t, noKeyText, f.tg.lastText())
	assert.Empty(t, f.tg.downloads)
}

func TestKeyCommandSavesAndDeletesMessage(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.h.HandleUpdate(context.Background(), textUpdate("/key sk-abcdef123456")))

	assert.Equal(t, "sk-abcdef123456", f.studio(t).State().APIKeys().Kie)
	assert.Equal(t, []int{77}, f.tg.deleted)
	assert.Contains(t, f.tg.lastText(), "****3456")
}

func TestKeyPromptThenPlainText(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.h.HandleUpdate(ctx, textUpdate("/key")))
	assert.Contains(t, f.tg.lastText(), "not set")
	assert.True(t, f.sessions.UI(userID).AwaitingKey)

	require.NoError(t, f.h.HandleUpdate(ctx, textUpdate("kie-0987654321")))
	assert.Equal(t, "kie-0987654321", f.studio(t).State().APIKeys().Kie)
	assert.False(t, f.sessions.UI(userID).AwaitingKey)

	require.NoError(t, f.h.HandleUpdate(ctx, textUpdate("hello")))
	assert.Equal(t, hintText, f.tg.lastText())
}

func TestPhotoToVideosFlow(t *testing.T) {
	f := newFixture(t)
	f.setKey(t)
	ctx := context.Background()

	require.NoError(t, f.h.HandleUpdate(ctx, photoUpdate("file-1", "")))

	assert.Equal(t, []string{"file-1"}, f.tg.downloads, "largest photo size is used")
	require.Len(t, f.tg.photos, 2)
	assert.Equal(t, "https://cdn.test/img-0.png", f.tg.photos[0].url)
	assert.Equal(t, "⬜ Select #1", buttonText(*f.tg.photos[0].kb))
	assert.Equal(t, "https://cdn.test/img-2.png", f.tg.photos[1].url)
	assert.Contains(t, strings.Join(f.tg.texts, "\n"), "Image 2 failed: content filtered")
	assert.Contains(t, f.tg.messages[len(f.tg.messages)-1], "2 of 3 images ready")

	ui := f.sessions.UI(userID)
	require.Len(t, ui.SlotMessages, 2)
	slotMsg := ui.SlotMessages[2]

	require.NoError(t, f.h.HandleUpdate(ctx, callbackUpdate(userID, slotMsg, cb(userID, "t", "2"))))
	assert.Equal(t, "Selected", f.tg.lastAnswer().text)
	assert.Equal(t, "✅ Selected #3", buttonText(f.tg.keyboards[slotMsg]))
	assert.Equal(t, []string{"https://cdn.test/img-2.png"}, f.studio(t).State().CurrentJob().SelectedImageURLs)
	assert.Equal(t, "🎬 Generate videos (1)", buttonText(f.tg.keyboards[ui.PanelMessageID]))

	require.NoError(t, f.h.HandleUpdate(ctx, callbackUpdate(userID, ui.PanelMessageID, cb(userID, "v"))))
	assert.Equal(t, []string{"https://cdn.test/img-2.mp4"}, f.tg.videos)
	assert.Contains(t, f.tg.edits[len(f.tg.edits)-1], "1 video(s) ready")

	history := f.studio(t).State().History()
	require.Len(t, history, 1)
	assert.Equal(t, model.StatusCompleted, history[0].Status)

	require.NoError(t, f.h.HandleUpdate(ctx, textUpdate("/history")))
	assert.Contains(t, f.tg.lastText(), "https://cdn.test/img-2.mp4")

	require.NoError(t, f.h.HandleUpdate(ctx, textUpdate("/clear")))
	assert.Empty(t, f.studio(t).State().History())
}

func TestClearSelectionCallback(t *testing.T) {
	f := newFixture(t)
	f.setKey(t)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, photoUpdate("file-1", "")))
	slotMsg := f.sessions.UI(userID).SlotMessages[0]
	require.NoError(t, f.h.HandleUpdate(ctx, callbackUpdate(userID, slotMsg, cb(userID, "t", "0"))))

	require.NoError(t, f.h.HandleUpdate(ctx, callbackUpdate(userID, 1, cb(userID, "c"))))

	assert.Equal(t, "Selection cleared", f.tg.lastAnswer().text)
	assert.Empty(t, f.studio(t).State().CurrentJob().SelectedImageURLs)
	assert.Equal(t, "⬜ Select #1", buttonText(f.tg.keyboards[slotMsg]))
}

func TestGenerateVideosWithoutSelection(t *testing.T) {
	f := newFixture(t)
	f.setKey(t)
	ctx := context.Background()
	require.NoError(t, f.h.HandleUpdate(ctx, photoUpdate("file-1", "")))

	require.NoError(t, f.h.HandleUpdate(ctx, callbackUpdate(userID, 1, cb(userID, "v"))))

	answer := f.tg.lastAnswer()
	assert.True(t, answer.alert)
	assert.Equal(t, studio.ErrNoSelection.Error(), answer.text)
	assert.Empty(t, f.tg.videos)
}

func TestCallbackFromAnotherUser(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.h.HandleUpdate(context.Background(), callbackUpdate(userID+1, 1, cb(userID, "v"))))

	assert.Equal(t, callbackAnswer{text: "This menu is not for you.", alert: true}, f.tg.lastAnswer())
	assert.Zero(t, f.sessions.Len())
}

func TestAlbumUsesFirstPhoto(t *testing.T) {
	f := newFixture(t)
	f.setKey(t)

	f.h.HandleAlbum(context.Background(), mediagroup.Album{ChatID: chatID, UserID: userID, FileIDs: []string{"a", "b", "c"}})

	assert.Equal(t, []string{"a"}, f.tg.downloads)
	assert.Len(t, f.tg.photos, 2)
}

func TestAlbumPhotosAreAggregated(t *testing.T) {
	f := newFixture(t)
	ag := mediagroup.New(mediagroup.Options{Debounce: time.Hour})
	defer ag.Close()
	f.h.SetMediaGroupAggregator(ag)

	require.NoError(t, f.h.HandleUpdate(context.Background(), photoUpdate("a", "album-1")))
	require.NoError(t, f.h.HandleUpdate(context.Background(), photoUpdate("b", "album-1")))

	assert.Equal(t, 1, ag.Pending())
	assert.Empty(t, f.tg.downloads)
}

func TestHistoryText(t *testing.T) {
	assert.Equal(t, "📜 History is empty.", historyText(nil))

	done := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)
	text := historyText([]*model.GenerationJob{
		{ID: "job-2", Status: model.StatusFailed, Error: "video 1 of 1: boom", CreatedAt: done,
			Videos: []model.GeneratedVideo{{SourceImageURL: "https://i/1.png", Status: model.VideoFailed}}},
		{ID: "job-1", Status: model.StatusCompleted, CompletedAt: &done,
			Videos: []model.GeneratedVideo{{VideoURL: "https://v/1.mp4", Status: model.VideoCompleted}}},
	})

	assert.Contains(t, text, "History (2)")
	assert.Contains(t, text, "1. 2025-03-01 12:30 · failed · 0 video(s)")
	assert.Contains(t, text, "video 1 of 1: boom")
	assert.Contains(t, text, "https://v/1.mp4")
}

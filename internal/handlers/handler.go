package handlers

import (
	"context"
	"io"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"dance-studio/internal/mediagroup"
	"dance-studio/internal/session"
	"dance-studio/internal/studio"
)

// Messenger is the part of the Telegram client the handlers use.
type Messenger interface {
	SendTyping(chatID int64)
	SendText(chatID int64, text string) error
	SendMessage(chatID int64, text string, kb *tgbotapi.InlineKeyboardMarkup) (int, error)
	EditMessage(chatID int64, messageID int, text string, kb *tgbotapi.InlineKeyboardMarkup) error
	EditKeyboard(chatID int64, messageID int, kb tgbotapi.InlineKeyboardMarkup) error
	DeleteMessage(chatID int64, messageID int) error
	AnswerCallback(callbackID, text string, alert bool) error
	SendPhotoURL(chatID int64, url, caption string, kb *tgbotapi.InlineKeyboardMarkup) (int, error)
	SendVideoURL(chatID int64, url, caption string) error
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)
}

type Options struct {
	Telegram Messenger
	Sessions *session.Store
	Logger   *slog.Logger
}

type Handler struct {
	tg         Messenger
	sessions   *session.Store
	logger     *slog.Logger
	aggregator *mediagroup.Aggregator
}

func New(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Handler{
		tg:       opts.Telegram,
		sessions: opts.Sessions,
		logger:   logger,
	}
}

func (h *Handler) SetMediaGroupAggregator(ag *mediagroup.Aggregator) {
	h.aggregator = ag
}

func (h *Handler) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if update.CallbackQuery != nil {
		return h.handleCallback(ctx, update.CallbackQuery)
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil
	}
	chatID := msg.Chat.ID
	userID := msg.From.ID
	username := msg.From.UserName

	if msg.IsCommand() {
		return h.handleCommand(ctx, chatID, userID, username, msg)
	}

	if len(msg.Photo) > 0 {
		return h.handlePhoto(ctx, chatID, userID, username, msg)
	}

	if msg.Text != "" {
		return h.handleText(ctx, chatID, userID, username, msg)
	}

	return nil
}

// HandleAlbum runs the pipeline on the first photo of an album.
func (h *Handler) HandleAlbum(ctx context.Context, album mediagroup.Album) {
	if err := h.runImages(ctx, album.ChatID, album.UserID, album.Username, album.First()); err != nil {
		h.logger.Error("album processing failed", "err", err)
	}
}

func (h *Handler) handlePhoto(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]

	if msg.MediaGroupID != "" && h.aggregator != nil {
		h.aggregator.Add(mediagroup.Photo{
			ChatID:   chatID,
			UserID:   userID,
			Username: username,
			GroupID:  msg.MediaGroupID,
			Caption:  msg.Caption,
			FileID:   photo.FileID,
		})
		return nil
	}

	return h.runImages(ctx, chatID, userID, username, photo.FileID)
}

func (h *Handler) handleText(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	sess, err := h.session(ctx, chatID, userID, username)
	if err != nil {
		return err
	}

	if h.sessions.UI(userID).AwaitingKey {
		return h.saveKey(ctx, sess, chatID, msg.MessageID, msg.Text)
	}
	return h.tg.SendText(chatID, hintText)
}

// session loads the user's studio and points its progress at this chat.
func (h *Handler) session(ctx context.Context, chatID int64, userID int64, username string) (*session.Session, error) {
	sess, err := h.sessions.Get(ctx, userID, username)
	if err != nil {
		h.logger.Error("open session failed", "user_id", userID, "err", err)
		_ = h.tg.SendText(chatID, "❌ Could not open your studio. Please try again later.")
		return nil, err
	}
	sess.Progress.Set(h.progress(userID))
	if chatID != 0 {
		h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.ChatID = chatID })
	}
	return sess, nil
}

func (h *Handler) runImages(ctx context.Context, chatID int64, userID int64, username, fileID string) error {
	if strings.TrimSpace(fileID) == "" {
		return nil
	}
	sess, err := h.session(ctx, chatID, userID, username)
	if err != nil {
		return err
	}
	if sess.Studio.Busy() {
		return h.tg.SendText(chatID, "⏳ "+studio.ErrBusy.Error()+". Please wait for it to finish.")
	}
	if strings.TrimSpace(sess.Studio.State().APIKeys().Kie) == "" {
		return h.tg.SendText(chatID, noKeyText)
	}

	h.tg.SendTyping(chatID)
	data, mimeType, err := h.tg.DownloadFile(ctx, fileID)
	if err != nil {
		h.logger.Error("photo download failed", "user_id", userID, "err", err)
		return h.tg.SendText(chatID, "❌ Failed to download the photo.")
	}

	req := studio.ImageRequest{Image: data, MIMEType: mimeType}
	if err := sess.Studio.Validate(req); err != nil {
		return h.tg.SendText(chatID, "⚠️ "+err.Error())
	}

	panelID, err := h.tg.SendMessage(chatID, "🔍 Analyzing your photo…", nil)
	if err != nil {
		return err
	}
	h.sessions.UpdateUI(userID, func(ui *session.UIState) {
		ui.ChatID = chatID
		ui.PanelMessageID = panelID
		ui.SlotMessages = make(map[int]int)
	})

	if _, err := sess.Studio.GenerateImages(ctx, req); err != nil {
		return h.reportRunError(chatID, userID, err)
	}
	return nil
}

// reportRunError tells the user about errors that produced no job event.
// Pipeline failures were already rendered by the progress observer.
func (h *Handler) reportRunError(chatID int64, userID int64, err error) error {
	if studio.IsValidation(err) {
		return h.tg.SendText(chatID, "⚠️ "+err.Error())
	}
	h.logger.Warn("run failed", "user_id", userID, "err", err)
	return nil
}

package handlers

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"dance-studio/internal/kie"
	"dance-studio/internal/model"
	"dance-studio/internal/session"
)

const callbackPrefix = "ds"

type tgKeyboard = tgbotapi.InlineKeyboardMarkup

func (h *Handler) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) error {
	if q == nil || q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return nil
	}
	parts := strings.Split(strings.TrimSpace(q.Data), ":")
	if len(parts) < 3 || parts[0] != callbackPrefix {
		return nil
	}

	ownerID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return nil
	}
	if ownerID != q.From.ID {
		return h.tg.AnswerCallback(q.ID, "This menu is not for you.", true)
	}

	chatID := q.Message.Chat.ID
	sess, err := h.session(ctx, chatID, ownerID, q.From.UserName)
	if err != nil {
		return h.tg.AnswerCallback(q.ID, "Studio unavailable, try again.", true)
	}

	switch parts[2] {
	case "t":
		if len(parts) < 4 {
			return nil
		}
		idx, err := strconv.Atoi(parts[3])
		if err != nil {
			return nil
		}
		return h.toggle(sess, q, idx)
	case "c":
		return h.clearSelection(sess, q)
	case "v":
		return h.generateVideos(ctx, sess, q)
	}
	return h.tg.AnswerCallback(q.ID, "", false)
}

func (h *Handler) toggle(sess *session.Session, q *tgbotapi.CallbackQuery, idx int) error {
	current := sess.Studio.State().CurrentJob()
	if current == nil || idx < 0 || idx >= len(current.ImageSlots) || current.ImageSlots[idx].URL == "" {
		return h.tg.AnswerCallback(q.ID, "This image is no longer available.", true)
	}
	url := current.ImageSlots[idx].URL

	job, err := sess.Studio.ToggleImage(url)
	if err != nil {
		return h.tg.AnswerCallback(q.ID, err.Error(), true)
	}

	selected := job.IsSelected(url)
	if err := h.tg.EditKeyboard(q.Message.Chat.ID, q.Message.MessageID, slotKeyboard(sess.UserID, idx, selected)); err != nil {
		h.logger.Warn("edit slot keyboard failed", "user_id", sess.UserID, "err", err)
	}
	h.refreshPanel(sess.UserID, job)

	note := "Removed from selection"
	if selected {
		note = "Selected"
	}
	return h.tg.AnswerCallback(q.ID, note, false)
}

func (h *Handler) clearSelection(sess *session.Session, q *tgbotapi.CallbackQuery) error {
	job, err := sess.Studio.SelectImages(nil)
	if err != nil {
		return h.tg.AnswerCallback(q.ID, err.Error(), true)
	}

	ui := h.sessions.UI(sess.UserID)
	for idx, msgID := range ui.SlotMessages {
		if err := h.tg.EditKeyboard(ui.ChatID, msgID, slotKeyboard(sess.UserID, idx, false)); err != nil {
			h.logger.Warn("edit slot keyboard failed", "user_id", sess.UserID, "err", err)
		}
	}
	h.refreshPanel(sess.UserID, job)
	return h.tg.AnswerCallback(q.ID, "Selection cleared", false)
}

func (h *Handler) generateVideos(ctx context.Context, sess *session.Session, q *tgbotapi.CallbackQuery) error {
	opts := kie.VideoOptions{}
	if err := sess.Studio.ValidateVideos(opts); err != nil {
		return h.tg.AnswerCallback(q.ID, err.Error(), true)
	}
	_ = h.tg.AnswerCallback(q.ID, "🎬 Generating videos…", false)

	job := sess.Studio.State().CurrentJob()
	panelID, err := h.tg.SendMessage(q.Message.Chat.ID, fmt.Sprintf("🎬 Generating %d video(s)… this can take a few minutes.", len(job.SelectedImageURLs)), nil)
	if err == nil {
		h.sessions.UpdateUI(sess.UserID, func(ui *session.UIState) { ui.PanelMessageID = panelID })
	}

	if _, err := sess.Studio.GenerateVideos(ctx, opts); err != nil {
		return h.reportRunError(q.Message.Chat.ID, sess.UserID, err)
	}
	return nil
}

func (h *Handler) refreshPanel(userID int64, job *model.GenerationJob) {
	ui := h.sessions.UI(userID)
	if ui.PanelMessageID == 0 {
		return
	}
	kb := panelKeyboard(userID, job)
	if err := h.tg.EditMessage(ui.ChatID, ui.PanelMessageID, panelText(job), &kb); err != nil {
		h.logger.Warn("refresh panel failed", "user_id", userID, "err", err)
	}
}

func slotKeyboard(ownerID int64, idx int, selected bool) tgKeyboard {
	label := fmt.Sprintf("⬜ Select #%d", idx+1)
	if selected {
		label = fmt.Sprintf("✅ Selected #%d", idx+1)
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cb(ownerID, "t", strconv.Itoa(idx))),
		),
	)
}

func panelKeyboard(ownerID int64, job *model.GenerationJob) tgKeyboard {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("🎬 Generate videos (%d)", len(job.SelectedImageURLs)), cb(ownerID, "v")),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Clear selection", cb(ownerID, "c")),
		),
	)
}

func cb(ownerID int64, parts ...string) string {
	return fmt.Sprintf("%s:%d:%s", callbackPrefix, ownerID, strings.Join(parts, ":"))
}


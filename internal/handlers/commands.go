package handlers

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"dance-studio/internal/model"
	"dance-studio/internal/session"
)

const maxHistoryLines = 10

const (
	startText = "💃 Dance Studio\n\n" +
		"Send me a photo of a person and I will create dance-ready variations of it, " +
		"then animate the ones you pick into short dance videos.\n\n" +
		"Commands:\n" +
		"/key <kie-api-key> - save your Kie.ai API key\n" +
		"/history - list finished jobs\n" +
		"/clear - clear the history\n" +
		"/cancel - cancel key entry\n" +
		"/help - this message"

	hintText  = "📷 Send a photo of a person to start. /help lists the commands."
	noKeyText = "🔑 Add your Kie.ai API key first: /key <your-key>"
)

func (h *Handler) handleCommand(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	switch msg.Command() {
	case "start", "help":
		return h.tg.SendText(chatID, startText)
	case "key":
		return h.handleKey(ctx, chatID, userID, username, msg)
	case "cancel":
		if _, err := h.session(ctx, chatID, userID, username); err != nil {
			return err
		}
		h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.AwaitingKey = false })
		return h.tg.SendText(chatID, "Cancelled.")
	case "history":
		sess, err := h.session(ctx, chatID, userID, username)
		if err != nil {
			return err
		}
		return h.tg.SendText(chatID, historyText(sess.Studio.State().History()))
	case "clear":
		sess, err := h.session(ctx, chatID, userID, username)
		if err != nil {
			return err
		}
		if err := sess.Studio.State().ClearHistory(ctx); err != nil {
			h.logger.Error("clear history failed", "user_id", userID, "err", err)
			return h.tg.SendText(chatID, "❌ Could not clear the history.")
		}
		return h.tg.SendText(chatID, "🗑 History cleared.")
	default:
		return h.tg.SendText(chatID, "❓ Unknown command. Use /help.")
	}
}

func (h *Handler) handleKey(ctx context.Context, chatID int64, userID int64, username string, msg *tgbotapi.Message) error {
	sess, err := h.session(ctx, chatID, userID, username)
	if err != nil {
		return err
	}

	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		return h.saveKey(ctx, sess, chatID, msg.MessageID, arg)
	}

	h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.AwaitingKey = true })
	current := "not set"
	if k := sess.Studio.State().APIKeys().Masked().Kie; k != "" {
		current = k
	}
	return h.tg.SendText(chatID, fmt.Sprintf("🔑 Current Kie.ai key: %s\nSend the new key now, or /cancel.", current))
}

// saveKey stores the key and removes the message that carried it.
func (h *Handler) saveKey(ctx context.Context, sess *session.Session, chatID int64, messageID int, key string) error {
	key = strings.TrimSpace(key)
	if key == "" || strings.ContainsAny(key, " \n\t") {
		return h.tg.SendText(chatID, "⚠️ That does not look like an API key. Try again or /cancel.")
	}

	st := sess.Studio.State()
	keys := st.APIKeys()
	keys.Kie = key
	if err := st.SetAPIKeys(ctx, keys); err != nil {
		h.logger.Error("save key failed", "user_id", sess.UserID, "err", err)
		return h.tg.SendText(chatID, "❌ Could not save the key.")
	}
	h.sessions.UpdateUI(sess.UserID, func(ui *session.UIState) { ui.AwaitingKey = false })

	if messageID != 0 {
		if err := h.tg.DeleteMessage(chatID, messageID); err != nil {
			h.logger.Debug("delete key message failed", "err", err)
		}
	}
	return h.tg.SendText(chatID, fmt.Sprintf("✅ Kie.ai key saved (%s). Send a photo to start.", model.MaskSecret(key)))
}

func historyText(jobs []*model.GenerationJob) string {
	if len(jobs) == 0 {
		return "📜 History is empty."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📜 History (%d)\n", len(jobs))
	for i, job := range jobs {
		if i == maxHistoryLines {
			fmt.Fprintf(&b, "…and %d more\n", len(jobs)-maxHistoryLines)
			break
		}
		when := job.CreatedAt
		if job.CompletedAt != nil {
			when = *job.CompletedAt
		}
		var urls []string
		for _, v := range job.Videos {
			if v.Status == model.VideoCompleted && v.VideoURL != "" {
				urls = append(urls, v.VideoURL)
			}
		}
		fmt.Fprintf(&b, "\n%d. %s · %s · %d video(s)\n", i+1, when.Format("2006-01-02 15:04"), job.Status, len(urls))
		if job.Error != "" {
			fmt.Fprintf(&b, "   %s\n", job.Error)
		}
		for _, u := range urls {
			fmt.Fprintf(&b, "   %s\n", u)
		}
	}
	return strings.TrimSpace(b.String())
}

package handlers

import (
	"fmt"

	"dance-studio/internal/model"
	"dance-studio/internal/session"
	"dance-studio/internal/studio"
)

// progress renders pipeline events into the user's chat. Events arrive
// on the goroutine running the pipeline, in order.
func (h *Handler) progress(userID int64) studio.Observer {
	return studio.ObserverFunc(func(e studio.Event) {
		ui := h.sessions.UI(userID)
		if ui.ChatID == 0 || e.Job == nil {
			return
		}

		switch e.Kind {
		case studio.EventSlotStarted:
			h.editPanel(userID, ui, fmt.Sprintf("🎨 Generating image %d of %d…", e.Index+1, e.Total), nil)

		case studio.EventSlotSucceeded:
			slot := e.Job.ImageSlots[e.Index]
			kb := slotKeyboard(userID, e.Index, false)
			msgID, err := h.tg.SendPhotoURL(ui.ChatID, slot.URL, fmt.Sprintf("Variant %d", e.Index+1), &kb)
			if err != nil {
				h.logger.Warn("send image failed", "user_id", userID, "slot", e.Index, "err", err)
				return
			}
			h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.SlotMessages[e.Index] = msgID })

		case studio.EventSlotFailed:
			_ = h.tg.SendText(ui.ChatID, fmt.Sprintf("⚠️ Image %d failed: %s", e.Index+1, e.Job.ImageSlots[e.Index].Error))

		case studio.EventImagesReady:
			kb := panelKeyboard(userID, e.Job)
			msgID, err := h.tg.SendMessage(ui.ChatID, panelText(e.Job), &kb)
			if err != nil {
				h.logger.Warn("send panel failed", "user_id", userID, "err", err)
				return
			}
			h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.PanelMessageID = msgID })

		case studio.EventVideoStarted:
			h.editPanel(userID, ui, fmt.Sprintf("🎬 Rendering video %d of %d…", e.Index+1, e.Total), nil)

		case studio.EventVideoCompleted:
			if len(e.Job.Videos) == 0 {
				return
			}
			v := e.Job.Videos[len(e.Job.Videos)-1]
			if err := h.tg.SendVideoURL(ui.ChatID, v.VideoURL, v.Caption); err != nil {
				h.logger.Warn("send video failed", "user_id", userID, "err", err)
				_ = h.tg.SendText(ui.ChatID, "🎬 "+v.VideoURL)
			}

		case studio.EventJobCompleted:
			kb := panelKeyboard(userID, e.Job)
			h.editPanel(userID, ui, fmt.Sprintf("✅ %d video(s) ready and saved to /history.", len(e.Job.Videos)), &kb)

		case studio.EventJobFailed:
			var kb *tgKeyboard
			if len(e.Job.RegeneratedImageURLs) > 0 {
				k := panelKeyboard(userID, e.Job)
				kb = &k
			}
			h.editPanel(userID, ui, "❌ "+e.Job.Error, kb)
		}
	})
}

func (h *Handler) editPanel(userID int64, ui session.UIState, text string, kb *tgKeyboard) {
	if ui.PanelMessageID != 0 {
		if err := h.tg.EditMessage(ui.ChatID, ui.PanelMessageID, text, kb); err == nil {
			return
		}
	}
	msgID, err := h.tg.SendMessage(ui.ChatID, text, kb)
	if err != nil {
		h.logger.Warn("send panel failed", "user_id", userID, "err", err)
		return
	}
	h.sessions.UpdateUI(userID, func(ui *session.UIState) { ui.PanelMessageID = msgID })
}

func panelText(job *model.GenerationJob) string {
	ready := len(job.RegeneratedImageURLs)
	return fmt.Sprintf("✨ %d of %d images ready. Selected: %d.\nTap Select under the images you like, then generate videos.",
		ready, len(job.ImageSlots), len(job.SelectedImageURLs))
}

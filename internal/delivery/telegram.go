// Package delivery sends generated media back into the user's chat through
// the Telegram Bot API.
package delivery

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/TGMediaGen/internal/artifact"
	"github.com/digkill/TGMediaGen/internal/models"
)

// Telegram media upload limits for bot API uploads.
const (
	maxPhotoBytes = 10 << 20
	maxVideoBytes = 50 << 20
)

type Telegram struct {
	api *tgbotapi.BotAPI
	log *slog.Logger
}

func NewTelegram(api *tgbotapi.BotAPI, log *slog.Logger) *Telegram {
	return &Telegram{api: api, log: log}
}

func (t *Telegram) SendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send text: %w", err)
	}
	return nil
}

// SendTextSafe swallows delivery errors; used for non-essential notices.
func (t *Telegram) SendTextSafe(chatID int64, text string) {
	if err := t.SendText(chatID, text); err != nil {
		t.log.Error("safe text send failed", "chat_id", chatID, "err", err)
	}
}

func (t *Telegram) SendPhoto(chatID int64, data []byte, caption string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "result.png", Bytes: data})
	photo.Caption = caption
	if keyboard != nil {
		photo.ReplyMarkup = keyboard
	}
	if _, err := t.api.Send(photo); err != nil {
		return fmt.Errorf("send photo: %w", err)
	}
	return nil
}

func (t *Telegram) SendVideo(chatID int64, data []byte, caption string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileBytes{Name: "result.mp4", Bytes: data})
	video.Caption = caption
	if keyboard != nil {
		video.ReplyMarkup = keyboard
	}
	if _, err := t.api.Send(video); err != nil {
		return fmt.Errorf("send video: %w", err)
	}
	return nil
}

func (t *Telegram) SendDocument(chatID int64, data []byte, filename, caption string, keyboard *tgbotapi.InlineKeyboardMarkup) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	if keyboard != nil {
		doc.ReplyMarkup = keyboard
	}
	if _, err := t.api.Send(doc); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// SendArtifact routes a finished artifact by media kind: image as photo,
// video as video, audio as an octet-stream document so the client does not
// re-encode it. Over-limit payloads fall back to a plain text download link;
// a failed media send is retried once as a document.
func (t *Telegram) SendArtifact(chatID int64, kind models.MediaKind, data []byte, publicURL string) error {
	keyboard := downloadKeyboard(publicURL)

	overLimit := false
	switch kind {
	case models.KindImage:
		overLimit = len(data) > maxPhotoBytes
	case models.KindVideo:
		overLimit = len(data) > maxVideoBytes
	}
	if overLimit {
		if publicURL == "" {
			return fmt.Errorf("artifact exceeds upload limit and has no public url")
		}
		return t.SendText(chatID, "Your result is ready. Download: "+publicURL)
	}

	var err error
	switch kind {
	case models.KindImage:
		err = t.SendPhoto(chatID, data, "", keyboard)
	case models.KindVideo:
		err = t.SendVideo(chatID, data, "", keyboard)
	default:
		return t.SendDocument(chatID, data, "result"+artifact.Extension(kind), "", keyboard)
	}
	if err != nil {
		t.log.Error("media send failed, retrying as document", "chat_id", chatID, "kind", kind, "err", err)
		return t.SendDocument(chatID, data, "result"+artifact.Extension(kind), "", keyboard)
	}
	return nil
}

func downloadKeyboard(publicURL string) *tgbotapi.InlineKeyboardMarkup {
	if publicURL == "" {
		return nil
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("Download", publicURL),
		),
	)
	return &markup
}

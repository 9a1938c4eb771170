package notificator

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgModels "github.com/go-telegram/bot/models"

	"github.com/fridaybazar/bazar/pkg/logger"
)

// Photo is either a Telegram file id or a freshly rendered PNG.
type Photo struct {
	FileID string
	PNG    []byte
}

// Messenger is the outbound half of the Telegram transport.
type Messenger interface {
	SendText(ctx context.Context, chatID int64, text string, markup tgModels.ReplyMarkup) error
	SendPhoto(ctx context.Context, chatID int64, photo Photo, caption string, markup tgModels.ReplyMarkup) error
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// TelegramGateway sends messages through a go-telegram bot.
type TelegramGateway struct {
	logger *logger.Logger
	bot    *bot.Bot
}

func NewTelegramGateway(logger *logger.Logger, b *bot.Bot) *TelegramGateway {
	return &TelegramGateway{logger: logger, bot: b}
}

func (t *TelegramGateway) SendText(ctx context.Context, chatID int64, text string, markup tgModels.ReplyMarkup) error {
	params := &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	}
	if _, err := t.bot.SendMessage(ctx, params); err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

func (t *TelegramGateway) SendPhoto(ctx context.Context, chatID int64, photo Photo, caption string, markup tgModels.ReplyMarkup) error {
	var file tgModels.InputFile
	if photo.FileID != "" {
		file = &tgModels.InputFileString{Data: photo.FileID}
	} else {
		file = &tgModels.InputFileUpload{Filename: "payment_qr.png", Data: bytes.NewReader(photo.PNG)}
	}
	params := &bot.SendPhotoParams{
		ChatID:      chatID,
		Photo:       file,
		Caption:     caption,
		ReplyMarkup: markup,
	}
	if _, err := t.bot.SendPhoto(ctx, params); err != nil {
		return fmt.Errorf("failed to send photo to %d: %w", chatID, err)
	}
	return nil
}

func (t *TelegramGateway) AnswerCallback(ctx context.Context, callbackID, text string) error {
	_, err := t.bot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Messenger is the outbound Bot API surface the gateway and the calendar
// picker need. The production implementation wraps tgbotapi; tests inject a
// RecordingMessenger.
type Messenger interface {
	// SendMessage sends an HTML message and returns its message id.
	SendMessage(chatID int64, text string) (int, error)
	// SendMessageWithMarkup sends an HTML message with an inline keyboard.
	SendMessageWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error)
	// EditMessageText replaces a message's content in place.
	EditMessageText(chatID int64, messageID int, text string) error
	// EditMessageTextWithMarkup replaces content and inline keyboard in place.
	EditMessageTextWithMarkup(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error
	// DeleteMessage removes a message.
	DeleteMessage(chatID int64, messageID int) error
	// AnswerCallback acknowledges a callback query.
	AnswerCallback(callbackID string) error
}

// botMessenger is the tgbotapi-backed Messenger. Every send/edit uses HTML
// parse mode with link previews disabled, matching the production bot.
type botMessenger struct {
	bot *tgbotapi.BotAPI
}

// NewBotMessenger wraps a Bot API client in the Messenger interface.
func NewBotMessenger(bot *tgbotapi.BotAPI) Messenger {
	return &botMessenger{bot: bot}
}

func (m *botMessenger) SendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	sent, err := m.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (m *botMessenger) SendMessageWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	msg.ReplyMarkup = markup
	sent, err := m.bot.Send(msg)
	if err != nil {
		return 0, fmt.Errorf("send message to chat %d: %w", chatID, err)
	}
	return sent.MessageID, nil
}

func (m *botMessenger) EditMessageText(chatID int64, messageID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, text)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := m.bot.Send(edit); err != nil {
		return fmt.Errorf("edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

func (m *botMessenger) EditMessageTextWithMarkup(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, markup)
	edit.ParseMode = tgbotapi.ModeHTML
	edit.DisableWebPagePreview = true
	if _, err := m.bot.Send(edit); err != nil {
		return fmt.Errorf("edit message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

func (m *botMessenger) DeleteMessage(chatID int64, messageID int) error {
	if _, err := m.bot.Request(tgbotapi.NewDeleteMessage(chatID, messageID)); err != nil {
		return fmt.Errorf("delete message %d in chat %d: %w", messageID, chatID, err)
	}
	return nil
}

func (m *botMessenger) AnswerCallback(callbackID string) error {
	if _, err := m.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("answer callback %s: %w", callbackID, err)
	}
	return nil
}

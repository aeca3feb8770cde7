package telegram

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MessengerCall records a single outbound call made through a Messenger.
type MessengerCall struct {
	Method     string // "SendMessage", "EditMessageText", "DeleteMessage", "AnswerCallback"
	ChatID     int64
	MessageID  int
	Text       string
	Markup     *tgbotapi.InlineKeyboardMarkup
	CallbackID string
}

// RecordingMessenger implements Messenger by recording all outbound calls for
// later assertion in tests. It returns configurable errors.
type RecordingMessenger struct {
	mu    sync.Mutex
	calls []MessengerCall

	// NextError, when set, is returned by the next call (any method) and then cleared.
	NextError error

	nextMessageID int
}

// NewRecordingMessenger creates a RecordingMessenger issuing sequential
// message ids starting at 1000.
func NewRecordingMessenger() *RecordingMessenger {
	return &RecordingMessenger{nextMessageID: 1000}
}

func (r *RecordingMessenger) record(call MessengerCall) {
	r.calls = append(r.calls, call)
}

func (r *RecordingMessenger) popError() error {
	err := r.NextError
	r.NextError = nil
	return err
}

// Calls returns a copy of all recorded calls.
func (r *RecordingMessenger) Calls() []MessengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]MessengerCall, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsTo returns the recorded calls for one method.
func (r *RecordingMessenger) CallsTo(method string) []MessengerCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []MessengerCall
	for _, call := range r.calls {
		if call.Method == method {
			out = append(out, call)
		}
	}
	return out
}

// LastCall returns the most recent call, if any.
func (r *RecordingMessenger) LastCall() (MessengerCall, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return MessengerCall{}, false
	}
	return r.calls[len(r.calls)-1], true
}

func (r *RecordingMessenger) SendMessage(chatID int64, text string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return 0, err
	}
	r.nextMessageID++
	r.record(MessengerCall{Method: "SendMessage", ChatID: chatID, MessageID: r.nextMessageID, Text: text})
	return r.nextMessageID, nil
}

func (r *RecordingMessenger) SendMessageWithMarkup(chatID int64, text string, markup tgbotapi.InlineKeyboardMarkup) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return 0, err
	}
	r.nextMessageID++
	r.record(MessengerCall{Method: "SendMessage", ChatID: chatID, MessageID: r.nextMessageID, Text: text, Markup: &markup})
	return r.nextMessageID, nil
}

func (r *RecordingMessenger) EditMessageText(chatID int64, messageID int, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return err
	}
	r.record(MessengerCall{Method: "EditMessageText", ChatID: chatID, MessageID: messageID, Text: text})
	return nil
}

func (r *RecordingMessenger) EditMessageTextWithMarkup(chatID int64, messageID int, text string, markup tgbotapi.InlineKeyboardMarkup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return err
	}
	r.record(MessengerCall{Method: "EditMessageText", ChatID: chatID, MessageID: messageID, Text: text, Markup: &markup})
	return nil
}

func (r *RecordingMessenger) DeleteMessage(chatID int64, messageID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return err
	}
	r.record(MessengerCall{Method: "DeleteMessage", ChatID: chatID, MessageID: messageID})
	return nil
}

func (r *RecordingMessenger) AnswerCallback(callbackID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.popError(); err != nil {
		return err
	}
	r.record(MessengerCall{Method: "AnswerCallback", CallbackID: callbackID})
	return nil
}

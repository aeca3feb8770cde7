package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"meshbot/internal/logging"
)

// PickerState is the lifecycle phase of a calendar picker.
type PickerState int

const (
	// AwaitingStart: no date chosen yet; any cell is selectable.
	AwaitingStart PickerState = iota
	// AwaitingEnd: the range start is fixed; earlier cells render blank.
	AwaitingEnd
	// Resolved: both dates chosen, continuation fired. Terminal.
	Resolved
	// PickerClosed: dismissed by the user. Terminal.
	PickerClosed
)

// Callback payloads understood by the picker.
const (
	payloadIgnore   = "ignore"
	payloadCalLeft  = "cal_left"
	payloadCalRight = "cal_right"
	payloadCalClose = "cal_close"
)

const (
	promptChooseStart = "Выберите начальную дату"
	promptChooseEnd   = "Выберите конечную дату"
)

// Continuation runs the fetch-format-send flow once a picker resolves. It
// receives the picker's own message so the flow can reuse it as the loading
// placeholder.
type Continuation func(ctx context.Context, chatID int64, messageID int, start, end time.Time)

// Picker is a per-message calendar widget resolving a closed date interval.
// It renders a Monday-first month grid into its message and mutates it in
// place on every visible state change. Each day cell payload encodes the full
// date, so a press is unambiguous even if the anchor month has moved since
// the grid was rendered.
type Picker struct {
	chatID       int64
	messageID    int
	state        PickerState
	anchor       time.Time // first day of the displayed month
	rangeStart   time.Time // zero until the first selection
	prompt       string
	messenger    Messenger
	continuation Continuation
	logger       logging.Logger
	now          func() time.Time
}

// NewPicker creates a picker over an existing message and renders the
// current month into it.
func NewPicker(messenger Messenger, chatID int64, messageID int, continuation Continuation, logger logging.Logger) (*Picker, error) {
	return newPickerAt(messenger, chatID, messageID, continuation, logger, time.Now)
}

func newPickerAt(messenger Messenger, chatID int64, messageID int, continuation Continuation, logger logging.Logger, now func() time.Time) (*Picker, error) {
	if messenger == nil {
		return nil, fmt.Errorf("picker requires a messenger")
	}
	if continuation == nil {
		return nil, fmt.Errorf("picker requires a continuation")
	}
	today := now()
	p := &Picker{
		chatID:       chatID,
		messageID:    messageID,
		state:        AwaitingStart,
		anchor:       time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, time.UTC),
		prompt:       promptChooseStart,
		messenger:    messenger,
		continuation: continuation,
		logger:       logging.OrNop(logger),
		now:          now,
	}
	p.render()
	return p, nil
}

// State reports the current lifecycle phase.
func (p *Picker) State() PickerState { return p.state }

// Anchor reports the displayed year and month.
func (p *Picker) Anchor() (int, time.Month) { return p.anchor.Year(), p.anchor.Month() }

// Done reports whether the picker reached a terminal state.
func (p *Picker) Done() bool { return p.state == Resolved || p.state == PickerClosed }

// Forward shifts the displayed month one ahead. No-op once terminal.
func (p *Picker) Forward() {
	if p.Done() {
		return
	}
	p.anchor = p.anchor.AddDate(0, 1, 0)
	p.render()
}

// Backward shifts the displayed month one back. No-op once terminal.
func (p *Picker) Backward() {
	if p.Done() {
		return
	}
	p.anchor = p.anchor.AddDate(0, -1, 0)
	p.render()
}

// Close dismisses the picker and removes its message. No-op once terminal.
func (p *Picker) Close() {
	if p.Done() {
		return
	}
	p.state = PickerClosed
	if err := p.messenger.DeleteMessage(p.chatID, p.messageID); err != nil {
		p.logger.Warn("picker close for chat %d: %v", p.chatID, err)
	}
}

// OnDate handles a day-cell press carrying an absolute date. The first
// selection fixes the range start; the second, if not earlier than the start,
// resolves the picker and fires the continuation. A selection equal to the
// start is a valid single-day range. Out-of-range presses and presses on a
// terminal picker change nothing.
func (p *Picker) OnDate(ctx context.Context, d time.Time) {
	if p.Done() {
		return
	}
	d = time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	switch p.state {
	case AwaitingStart:
		p.rangeStart = d
		p.state = AwaitingEnd
		p.prompt = promptChooseEnd
		p.render()
	case AwaitingEnd:
		if d.Before(p.rangeStart) {
			return
		}
		p.state = Resolved
		p.continuation(ctx, p.chatID, p.messageID, p.rangeStart, d)
	}
}

// render replaces the picker message with the grid for the anchored month.
func (p *Picker) render() {
	markup := p.buildMarkup()
	if err := p.messenger.EditMessageTextWithMarkup(p.chatID, p.messageID, p.prompt, markup); err != nil {
		p.logger.Warn("picker render for chat %d: %v", p.chatID, err)
	}
}

var weekdayNames = []string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

func (p *Picker) buildMarkup() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData(p.anchor.Format("January 2006"), payloadIgnore),
	})
	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, name := range weekdayNames {
		header = append(header, tgbotapi.NewInlineKeyboardButtonData(name, payloadIgnore))
	}
	rows = append(rows, header)

	today := p.now()
	for _, week := range monthGrid(p.anchor.Year(), p.anchor.Month()) {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, 7)
		for _, day := range week {
			if day == 0 {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(" ", payloadIgnore))
				continue
			}
			date := time.Date(p.anchor.Year(), p.anchor.Month(), day, 0, 0, 0, 0, time.UTC)
			if p.state == AwaitingEnd && date.Before(p.rangeStart) {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(" ", payloadIgnore))
				continue
			}
			label := fmt.Sprintf("%d", day)
			if day == today.Day() && p.anchor.Month() == today.Month() && p.anchor.Year() == today.Year() {
				label = "[" + label + "]"
			}
			payload := fmt.Sprintf("date %d/%d/%d", p.anchor.Year(), int(p.anchor.Month()), day)
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(label, payload))
		}
		rows = append(rows, buttons)
	}

	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("◀️", payloadCalLeft),
		tgbotapi.NewInlineKeyboardButtonData("❌", payloadCalClose),
		tgbotapi.NewInlineKeyboardButtonData("▶️", payloadCalRight),
	})
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// monthGrid lays the month out in Monday-first weeks. Cells outside the
// month are zero.
func monthGrid(year int, month time.Month) [][7]int {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	lead := (int(first.Weekday()) + 6) % 7 // Monday -> 0
	daysInMonth := first.AddDate(0, 1, 0).AddDate(0, 0, -1).Day()

	var weeks [][7]int
	var week [7]int
	pos := lead
	for day := 1; day <= daysInMonth; day++ {
		week[pos] = day
		pos++
		if pos == 7 {
			weeks = append(weeks, week)
			week = [7]int{}
			pos = 0
		}
	}
	if pos > 0 {
		weeks = append(weeks, week)
	}
	return weeks
}

// parseDatePayload decodes a "date <year>/<month>/<day>" cell payload.
func parseDatePayload(payload string) (time.Time, bool) {
	var year, month, day int
	if _, err := fmt.Sscanf(payload, "date %d/%d/%d", &year, &month, &day); err != nil {
		return time.Time{}, false
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC), true
}

// pickerRegistry maps (chat id, message id) to the live picker rendered into
// that message. Stale ids simply miss: a button press from a dead picker is a
// no-op rather than a crash.
type pickerRegistry struct {
	mu     sync.Mutex
	byChat map[int64]map[int]*Picker
}

func newPickerRegistry() *pickerRegistry {
	return &pickerRegistry{byChat: map[int64]map[int]*Picker{}}
}

func (r *pickerRegistry) put(chatID int64, messageID int, p *Picker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byChat[chatID] == nil {
		r.byChat[chatID] = map[int]*Picker{}
	}
	r.byChat[chatID][messageID] = p
}

func (r *pickerRegistry) get(chatID int64, messageID int) (*Picker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byChat[chatID][messageID]
	return p, ok
}

func (r *pickerRegistry) remove(chatID int64, messageID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byChat[chatID], messageID)
}

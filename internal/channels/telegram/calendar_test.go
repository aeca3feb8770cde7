package telegram

import (
	"context"
	"testing"
	"time"
)

func fixedNow(year int, month time.Month, day int) func() time.Time {
	return func() time.Time {
		return time.Date(year, month, day, 12, 0, 0, 0, time.UTC)
	}
}

func discardContinuation(context.Context, int64, int, time.Time, time.Time) {}

func newTestPicker(t *testing.T, rec *RecordingMessenger, cont Continuation, now func() time.Time) *Picker {
	t.Helper()
	if cont == nil {
		cont = discardContinuation
	}
	p, err := newPickerAt(rec, 42, 100, cont, nil, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p
}

func TestPickerRequiresMessengerAndContinuation(t *testing.T) {
	if _, err := newPickerAt(nil, 1, 1, discardContinuation, nil, time.Now); err == nil {
		t.Fatal("expected error for nil messenger")
	}
	if _, err := newPickerAt(NewRecordingMessenger(), 1, 1, nil, nil, time.Now); err == nil {
		t.Fatal("expected error for nil continuation")
	}
}

func TestPickerNavigationNetSum(t *testing.T) {
	tests := []struct {
		name      string
		forward   int
		backward  int
		wantYear  int
		wantMonth time.Month
	}{
		{"no moves", 0, 0, 2024, time.March},
		{"one forward", 1, 0, 2024, time.April},
		{"one backward", 0, 1, 2024, time.February},
		{"rollover forward", 10, 0, 2025, time.January},
		{"rollover backward", 0, 14, 2023, time.January},
		{"net zero", 5, 5, 2024, time.March},
		{"multi-year", 25, 0, 2026, time.April},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPicker(t, NewRecordingMessenger(), nil, fixedNow(2024, time.March, 15))
			for i := 0; i < tt.forward; i++ {
				p.Forward()
			}
			for i := 0; i < tt.backward; i++ {
				p.Backward()
			}
			year, month := p.Anchor()
			if year != tt.wantYear || month != tt.wantMonth {
				t.Fatalf("anchor = %d-%s, want %d-%s", year, month, tt.wantYear, tt.wantMonth)
			}
		})
	}
}

func TestPickerSelectStartThenEnd(t *testing.T) {
	var gotStart, gotEnd time.Time
	fired := 0
	cont := func(_ context.Context, chatID int64, messageID int, start, end time.Time) {
		fired++
		gotStart, gotEnd = start, end
	}
	p := newTestPicker(t, NewRecordingMessenger(), cont, fixedNow(2024, time.March, 1))

	p.OnDate(context.Background(), time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))
	if p.State() != AwaitingEnd {
		t.Fatalf("state after first selection = %v, want AwaitingEnd", p.State())
	}
	if fired != 0 {
		t.Fatal("continuation fired before the end date was chosen")
	}

	p.OnDate(context.Background(), time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	if p.State() != Resolved {
		t.Fatalf("state after second selection = %v, want Resolved", p.State())
	}
	if fired != 1 {
		t.Fatalf("continuation fired %d times, want 1", fired)
	}
	if !gotStart.Equal(time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)) ||
		!gotEnd.Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("continuation got (%v, %v)", gotStart, gotEnd)
	}
}

func TestPickerRejectsEndBeforeStart(t *testing.T) {
	fired := 0
	cont := func(context.Context, int64, int, time.Time, time.Time) { fired++ }
	p := newTestPicker(t, NewRecordingMessenger(), cont, fixedNow(2024, time.March, 1))

	p.OnDate(context.Background(), time.Date(2024, time.March, 10, 0, 0, 0, 0, time.UTC))
	p.OnDate(context.Background(), time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))
	if p.State() != AwaitingEnd {
		t.Fatalf("state = %v, want AwaitingEnd after rejected end date", p.State())
	}
	if fired != 0 {
		t.Fatal("continuation fired for an end date before the start")
	}
}

func TestPickerSingleDayRange(t *testing.T) {
	var gotStart, gotEnd time.Time
	cont := func(_ context.Context, _ int64, _ int, start, end time.Time) {
		gotStart, gotEnd = start, end
	}
	p := newTestPicker(t, NewRecordingMessenger(), cont, fixedNow(2024, time.March, 1))

	day := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)
	p.OnDate(context.Background(), day)
	p.OnDate(context.Background(), day)
	if p.State() != Resolved {
		t.Fatalf("state = %v, want Resolved for a single-day range", p.State())
	}
	if !gotStart.Equal(day) || !gotEnd.Equal(day) {
		t.Fatalf("continuation got (%v, %v), want the same day twice", gotStart, gotEnd)
	}
}

func TestPickerTerminalStatesSwallowEvents(t *testing.T) {
	fired := 0
	cont := func(context.Context, int64, int, time.Time, time.Time) { fired++ }
	p := newTestPicker(t, NewRecordingMessenger(), cont, fixedNow(2024, time.March, 1))
	day := time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC)
	p.OnDate(context.Background(), day)
	p.OnDate(context.Background(), day)

	year, month := p.Anchor()
	p.Forward()
	p.Backward()
	p.OnDate(context.Background(), day.AddDate(0, 0, 1))
	p.Close()

	if fired != 1 {
		t.Fatalf("continuation fired %d times, want exactly 1", fired)
	}
	y2, m2 := p.Anchor()
	if y2 != year || m2 != month {
		t.Fatal("navigation moved the anchor of a resolved picker")
	}
	if p.State() != Resolved {
		t.Fatalf("state = %v, want Resolved to stick", p.State())
	}
}

func TestPickerCloseDeletesMessage(t *testing.T) {
	rec := NewRecordingMessenger()
	p := newTestPicker(t, rec, nil, fixedNow(2024, time.March, 1))
	p.Close()
	if p.State() != PickerClosed {
		t.Fatalf("state = %v, want PickerClosed", p.State())
	}
	deletes := rec.CallsTo("DeleteMessage")
	if len(deletes) != 1 || deletes[0].ChatID != 42 || deletes[0].MessageID != 100 {
		t.Fatalf("unexpected delete calls: %+v", deletes)
	}
	// Closing again must not delete twice.
	p.Close()
	if len(rec.CallsTo("DeleteMessage")) != 1 {
		t.Fatal("second close deleted the message again")
	}
}

func TestMonthGridLayout(t *testing.T) {
	tests := []struct {
		name      string
		year      int
		month     time.Month
		wantLead  int // blank cells before day 1 (Monday-first)
		wantWeeks int
		wantDays  int
	}{
		{"march 2024 starts friday", 2024, time.March, 4, 5, 31},
		{"february 2021 starts monday", 2021, time.February, 0, 4, 28},
		{"january 2023 starts sunday", 2023, time.January, 6, 6, 31},
		{"april 2024 starts monday", 2024, time.April, 0, 5, 30},
		{"february 2024 leap", 2024, time.February, 3, 5, 29},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			weeks := monthGrid(tt.year, tt.month)
			if len(weeks) != tt.wantWeeks {
				t.Fatalf("weeks = %d, want %d", len(weeks), tt.wantWeeks)
			}
			for i := 0; i < tt.wantLead; i++ {
				if weeks[0][i] != 0 {
					t.Fatalf("cell %d = %d, want leading blank", i, weeks[0][i])
				}
			}
			if weeks[0][tt.wantLead] != 1 {
				t.Fatalf("day 1 at cell %d = %d", tt.wantLead, weeks[0][tt.wantLead])
			}
			max := 0
			for _, week := range weeks {
				for _, day := range week {
					if day > max {
						max = day
					}
				}
			}
			if max != tt.wantDays {
				t.Fatalf("last day = %d, want %d", max, tt.wantDays)
			}
		})
	}
}

func TestPickerGridDisablesDaysBeforeRangeStart(t *testing.T) {
	rec := NewRecordingMessenger()
	p := newTestPicker(t, rec, nil, fixedNow(2024, time.March, 1))
	p.OnDate(context.Background(), time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC))

	markup := p.buildMarkup()
	for _, row := range markup.InlineKeyboard[2:] { // skip title and weekday rows
		for _, btn := range row {
			if btn.CallbackData == nil {
				continue
			}
			date, ok := parseDatePayload(*btn.CallbackData)
			if !ok {
				continue
			}
			if date.Before(time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)) {
				t.Fatalf("day %v is still selectable after the range start was fixed", date)
			}
		}
	}

	// The previous month must render entirely blank day cells too.
	p.Backward()
	markup = p.buildMarkup()
	for _, row := range markup.InlineKeyboard[2 : len(markup.InlineKeyboard)-1] {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData != payloadIgnore {
				t.Fatalf("february cell %q is selectable before the range start", *btn.CallbackData)
			}
		}
	}
}

func TestPickerCellPayloadIsAbsolute(t *testing.T) {
	p := newTestPicker(t, NewRecordingMessenger(), nil, fixedNow(2024, time.March, 1))
	markup := p.buildMarkup()
	found := false
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.CallbackData != nil && *btn.CallbackData == "date 2024/3/5" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected a cell with payload \"date 2024/3/5\"")
	}
}

func TestPickerTodayIsBracketed(t *testing.T) {
	p := newTestPicker(t, NewRecordingMessenger(), nil, fixedNow(2024, time.March, 15))
	markup := p.buildMarkup()
	found := false
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			if btn.Text == "[15]" {
				found = true
			}
		}
	}
	if !found {
		t.Fatal("expected today's cell to render as [15]")
	}
	// Other months must not bracket day 15.
	p.Forward()
	for _, row := range p.buildMarkup().InlineKeyboard {
		for _, btn := range row {
			if btn.Text == "[15]" {
				t.Fatal("april grid bracketed day 15")
			}
		}
	}
}

func TestParseDatePayload(t *testing.T) {
	tests := []struct {
		payload string
		ok      bool
		want    time.Time
	}{
		{"date 2024/3/5", true, time.Date(2024, time.March, 5, 0, 0, 0, 0, time.UTC)},
		{"date 2023/12/31", true, time.Date(2023, time.December, 31, 0, 0, 0, 0, time.UTC)},
		{"date 2024/13/1", false, time.Time{}},
		{"date 2024/0/1", false, time.Time{}},
		{"schedule", false, time.Time{}},
		{"ignore", false, time.Time{}},
		{"", false, time.Time{}},
	}
	for _, tt := range tests {
		got, ok := parseDatePayload(tt.payload)
		if ok != tt.ok {
			t.Fatalf("parseDatePayload(%q) ok = %v, want %v", tt.payload, ok, tt.ok)
		}
		if ok && !got.Equal(tt.want) {
			t.Fatalf("parseDatePayload(%q) = %v, want %v", tt.payload, got, tt.want)
		}
	}
}

func TestPickerRendersInPlace(t *testing.T) {
	rec := NewRecordingMessenger()
	p := newTestPicker(t, rec, nil, fixedNow(2024, time.March, 1))
	p.Forward()
	p.Backward()

	edits := rec.CallsTo("EditMessageText")
	if len(edits) != 3 { // initial render + two navigations
		t.Fatalf("edits = %d, want 3", len(edits))
	}
	for _, call := range edits {
		if call.ChatID != 42 || call.MessageID != 100 {
			t.Fatalf("render went to %d/%d, want 42/100", call.ChatID, call.MessageID)
		}
		if call.Markup == nil {
			t.Fatal("render without keyboard markup")
		}
	}
	if edits[0].Text != promptChooseStart {
		t.Fatalf("initial prompt = %q", edits[0].Text)
	}
}

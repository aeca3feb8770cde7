// Package telegram bridges Telegram chats into the portal client: command
// and button dispatch, the calendar picker lifecycle, and the token refresh
// conversation.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	lru "github.com/hashicorp/golang-lru/v2"

	"meshbot/internal/format"
	"meshbot/internal/logging"
	"meshbot/internal/mesh"
	"meshbot/internal/metrics"
)

// callbackDedupSize bounds the cache of already-answered callback ids.
// Telegram re-delivers callback queries that were not answered in time.
const callbackDedupSize = 2048

const (
	textLoading     = "Загрузка..."
	textChooseWait  = "Пожалуйста, подождите..."
	textMenu        = "Выберите действие"
	textFetchFailed = "Не удалось получить данные. Попробуйте обновить токен или попробуйте ещё раз позже"
	textTokenFailed = "Не получилось проверить токен, пожалуйста, попробуйте ещё раз (отвечайте на предыдущее сообщение)"
	textTokenOK     = "Токен успешно изменён!"
	textNoAnswers   = "Получение ответов из теста МЭШ пока не поддерживается!"

	textRefreshToken = `Пожалуйста, перейдите по <a href="https://school.mos.ru/?backUrl=https%3A%2F%2Fschool.mos.ru%2Fv2%2Ftoken%2Frefresh%3FroleId%3D1%26subsystem%3D4">этой ссылке</a>, войдите в аккаунт, скопируйте весь текст и ответьте на это сообщение скопированным текстом`
)

// PortalClient is the portal surface the gateway depends on. Implemented by
// *mesh.Client; stubbed in tests.
type PortalClient interface {
	Profile(ctx context.Context, chatID string) (*mesh.Profile, error)
	Schedule(ctx context.Context, chatID string, from, to time.Time) ([]mesh.ScheduleDay, error)
	Homework(ctx context.Context, chatID string, from, to time.Time) ([]mesh.HomeworkDay, error)
	MarksByDate(ctx context.Context, chatID string, from, to time.Time) ([]mesh.DayMarks, error)
	AllMarks(ctx context.Context, chatID string) ([]mesh.SubjectProgress, error)
	Notifications(ctx context.Context, chatID string) ([]mesh.Notification, error)
	ValidateToken(ctx context.Context, rawToken, chatID string) error
}

// Config captures Telegram gateway behavior.
type Config struct {
	Token string
	// UpdateTimeout is the long-poll timeout in seconds.
	UpdateTimeout int
	// ReplyTimeout bounds one update's fetch-format-send flow. Zero disables.
	ReplyTimeout time.Duration
}

// Gateway runs the bot: it consumes updates, keeps the per-chat registries
// (pickers, pending token refreshes) and drives the portal client.
type Gateway struct {
	cfg       Config
	portal    PortalClient
	logger    logging.Logger
	messenger Messenger
	bot       *tgbotapi.BotAPI

	pickers *pickerRegistry

	authMu      sync.Mutex
	pendingAuth map[int64]int // chat id -> instruction message id

	chatLocks sync.Map // chat id -> *sync.Mutex
	dedup     *lru.Cache[string, struct{}]
}

// NewGateway constructs a Telegram gateway instance.
func NewGateway(cfg Config, portal PortalClient, logger logging.Logger) (*Gateway, error) {
	if portal == nil {
		return nil, fmt.Errorf("telegram gateway requires a portal client")
	}
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = 30
	}
	dedup, err := lru.New[string, struct{}](callbackDedupSize)
	if err != nil {
		return nil, fmt.Errorf("callback dedup cache init: %w", err)
	}
	return &Gateway{
		cfg:         cfg,
		portal:      portal,
		logger:      logging.OrNop(logger),
		pickers:     newPickerRegistry(),
		pendingAuth: map[int64]int{},
		dedup:       dedup,
	}, nil
}

// SetMessenger replaces the default Bot API messenger. This is the primary
// injection point for testing.
func (g *Gateway) SetMessenger(m Messenger) {
	g.messenger = m
}

// chatLock returns or creates the per-chat mutex serializing that chat's
// update handling.
func (g *Gateway) chatLock(chatID int64) *sync.Mutex {
	value, _ := g.chatLocks.LoadOrStore(chatID, &sync.Mutex{})
	return value.(*sync.Mutex)
}

func chatKey(chatID int64) string {
	return strconv.FormatInt(chatID, 10)
}

// Run connects to the Bot API and blocks consuming updates until ctx is done.
func (g *Gateway) Run(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(g.cfg.Token)
	if err != nil {
		return fmt.Errorf("telegram connect: %w", err)
	}
	g.bot = bot
	if g.messenger == nil {
		g.messenger = NewBotMessenger(bot)
	}
	g.logger.Info("telegram gateway ready: @%s", bot.Self.UserName)

	if err := g.registerCommands(); err != nil {
		g.logger.Warn("command registration failed: %v", err)
	}

	updateCfg := tgbotapi.NewUpdate(0)
	updateCfg.Timeout = g.cfg.UpdateTimeout
	updates := bot.GetUpdatesChan(updateCfg)

	go func() {
		<-ctx.Done()
		bot.StopReceivingUpdates()
	}()

	for update := range updates {
		go g.Dispatch(ctx, update)
	}
	return nil
}

// Dispatch routes one update under the owning chat's lock.
func (g *Gateway) Dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID, ok := updateChatID(update)
	if !ok {
		return
	}
	lock := g.chatLock(chatID)
	lock.Lock()
	defer lock.Unlock()

	if g.cfg.ReplyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.ReplyTimeout)
		defer cancel()
	}

	switch {
	case update.CallbackQuery != nil:
		metrics.UpdateHandled("callback")
		g.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		metrics.UpdateHandled("command")
		g.handleCommand(ctx, update.Message)
	case update.Message != nil && update.Message.ReplyToMessage != nil:
		metrics.UpdateHandled("reply")
		g.handleReply(ctx, update.Message)
	}
}

func updateChatID(update tgbotapi.Update) (int64, bool) {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		return update.CallbackQuery.Message.Chat.ID, true
	case update.Message != nil:
		return update.Message.Chat.ID, true
	}
	return 0, false
}

func (g *Gateway) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		if _, err := g.messenger.SendMessageWithMarkup(chatID, textMenu, buildMenu()); err != nil {
			g.logger.Warn("start menu for chat %d: %v", chatID, err)
		}
	case "profile":
		g.sendThenRun(ctx, chatID, g.runProfile)
	case "marks":
		g.sendThenRun(ctx, chatID, g.runAllMarks)
	case "notifications":
		g.sendThenRun(ctx, chatID, g.runNotifications)
	case "schedule":
		g.openPickerOnNewMessage(chatID, g.scheduleFlow)
	case "homework":
		g.openPickerOnNewMessage(chatID, g.homeworkFlow)
	case "marksdate":
		g.openPickerOnNewMessage(chatID, g.marksdateFlow)
	case "refreshtoken":
		messageID, err := g.messenger.SendMessage(chatID, textRefreshToken)
		if err != nil {
			g.logger.Warn("refresh prompt for chat %d: %v", chatID, err)
			return
		}
		g.setPendingAuth(chatID, messageID)
	case "testanswers":
		if _, err := g.messenger.SendMessage(chatID, textNoAnswers); err != nil {
			g.logger.Warn("testanswers reply for chat %d: %v", chatID, err)
		}
	}
}

// sendThenRun posts the loading placeholder and runs a no-range fetch flow
// against it.
func (g *Gateway) sendThenRun(ctx context.Context, chatID int64, run func(ctx context.Context, chatID int64, messageID int)) {
	messageID, err := g.messenger.SendMessage(chatID, textLoading)
	if err != nil {
		g.logger.Warn("placeholder for chat %d: %v", chatID, err)
		return
	}
	run(ctx, chatID, messageID)
}

// openPickerOnNewMessage posts the prompt message and mounts a calendar
// picker on it.
func (g *Gateway) openPickerOnNewMessage(chatID int64, continuation Continuation) {
	messageID, err := g.messenger.SendMessage(chatID, promptChooseStart)
	if err != nil {
		g.logger.Warn("picker prompt for chat %d: %v", chatID, err)
		return
	}
	g.mountPicker(chatID, messageID, continuation)
}

// mountPicker creates a picker over an existing message and registers it.
func (g *Gateway) mountPicker(chatID int64, messageID int, continuation Continuation) {
	picker, err := NewPicker(g.messenger, chatID, messageID, continuation, g.logger)
	if err != nil {
		g.logger.Error("picker mount for chat %d: %v", chatID, err)
		return
	}
	g.pickers.put(chatID, messageID, picker)
}

func (g *Gateway) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if seen, _ := g.dedup.ContainsOrAdd(cb.ID, struct{}{}); seen {
		return
	}
	if err := g.messenger.AnswerCallback(cb.ID); err != nil {
		g.logger.Debug("answer callback: %v", err)
	}
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	messageID := cb.Message.MessageID

	switch cb.Data {
	case "schedule":
		g.mountPicker(chatID, messageID, g.scheduleFlow)
	case "homework":
		g.mountPicker(chatID, messageID, g.homeworkFlow)
	case "marksdate":
		g.mountPicker(chatID, messageID, g.marksdateFlow)
	case "profile":
		g.editThenRun(ctx, chatID, messageID, g.runProfile)
	case "marks":
		g.editThenRun(ctx, chatID, messageID, g.runAllMarks)
	case "notifications":
		g.editThenRun(ctx, chatID, messageID, g.runNotifications)
	case "refreshtoken":
		if err := g.messenger.EditMessageText(chatID, messageID, textRefreshToken); err != nil {
			g.logger.Warn("refresh prompt for chat %d: %v", chatID, err)
			return
		}
		g.setPendingAuth(chatID, messageID)
	case "testanswers":
		if _, err := g.messenger.SendMessage(chatID, textNoAnswers); err != nil {
			g.logger.Warn("testanswers reply for chat %d: %v", chatID, err)
		}
	case payloadCalLeft:
		if picker, ok := g.pickers.get(chatID, messageID); ok {
			picker.Backward()
		}
	case payloadCalRight:
		if picker, ok := g.pickers.get(chatID, messageID); ok {
			picker.Forward()
		}
	case payloadCalClose:
		if picker, ok := g.pickers.get(chatID, messageID); ok {
			picker.Close()
			g.pickers.remove(chatID, messageID)
		}
	case payloadIgnore:
		// header, weekday and padding cells
	default:
		date, ok := parseDatePayload(cb.Data)
		if !ok {
			return
		}
		picker, ok := g.pickers.get(chatID, messageID)
		if !ok {
			return
		}
		picker.OnDate(ctx, date)
		if picker.Done() {
			g.pickers.remove(chatID, messageID)
		}
	}
}

// editThenRun repaints an existing message as the loading placeholder and
// runs a no-range fetch flow against it.
func (g *Gateway) editThenRun(ctx context.Context, chatID int64, messageID int, run func(ctx context.Context, chatID int64, messageID int)) {
	if err := g.messenger.EditMessageText(chatID, messageID, textLoading); err != nil {
		g.logger.Warn("placeholder for chat %d: %v", chatID, err)
		return
	}
	run(ctx, chatID, messageID)
}

func (g *Gateway) setPendingAuth(chatID int64, messageID int) {
	g.authMu.Lock()
	defer g.authMu.Unlock()
	g.pendingAuth[chatID] = messageID
}

// PendingAuth reports whether a token refresh conversation is open for the chat.
func (g *Gateway) PendingAuth(chatID int64) bool {
	g.authMu.Lock()
	defer g.authMu.Unlock()
	_, ok := g.pendingAuth[chatID]
	return ok
}

// handleReply treats a reply to the bot as the raw token text when a refresh
// conversation is pending for the chat. The pending entry survives a failed
// validation so the user can retry, and clears only on success.
func (g *Gateway) handleReply(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !g.PendingAuth(chatID) {
		return
	}
	messageID, err := g.messenger.SendMessage(chatID, textChooseWait)
	if err != nil {
		g.logger.Warn("token wait message for chat %d: %v", chatID, err)
		return
	}
	if err := g.portal.ValidateToken(ctx, msg.Text, chatKey(chatID)); err != nil {
		if editErr := g.messenger.EditMessageText(chatID, messageID, textTokenFailed); editErr != nil {
			g.logger.Warn("token failure notice for chat %d: %v", chatID, editErr)
		}
		return
	}
	if err := g.messenger.EditMessageText(chatID, messageID, textTokenOK); err != nil {
		g.logger.Warn("token success notice for chat %d: %v", chatID, err)
	}
	g.authMu.Lock()
	delete(g.pendingAuth, chatID)
	g.authMu.Unlock()
}

// sendDays renders a ranged result: the first day replaces the placeholder,
// each following day goes out as a new message, in date order.
func (g *Gateway) sendDays(chatID int64, messageID int, texts []string) {
	if len(texts) == 0 {
		// The portal answered with nothing for the range; the production
		// bot shows the generic failure text here as well.
		if err := g.messenger.EditMessageText(chatID, messageID, textFetchFailed); err != nil {
			g.logger.Warn("empty-result notice for chat %d: %v", chatID, err)
		}
		return
	}
	for i, text := range texts {
		var err error
		if i == 0 {
			err = g.messenger.EditMessageText(chatID, messageID, text)
		} else {
			_, err = g.messenger.SendMessage(chatID, text)
		}
		if err != nil {
			g.logger.Warn("render day %d for chat %d: %v", i, chatID, err)
		}
	}
}

func (g *Gateway) scheduleFlow(ctx context.Context, chatID int64, messageID int, start, end time.Time) {
	if err := g.messenger.EditMessageText(chatID, messageID, textLoading); err != nil {
		g.logger.Warn("placeholder for chat %d: %v", chatID, err)
	}
	days, err := g.portal.Schedule(ctx, chatKey(chatID), start, end)
	if err != nil {
		g.failFetch(chatID, messageID)
		return
	}
	texts := make([]string, 0, len(days))
	for _, day := range days {
		texts = append(texts, format.ScheduleDay(day))
	}
	g.sendDays(chatID, messageID, texts)
}

func (g *Gateway) homeworkFlow(ctx context.Context, chatID int64, messageID int, start, end time.Time) {
	if err := g.messenger.EditMessageText(chatID, messageID, textLoading); err != nil {
		g.logger.Warn("placeholder for chat %d: %v", chatID, err)
	}
	days, err := g.portal.Homework(ctx, chatKey(chatID), start, end)
	if err != nil {
		g.failFetch(chatID, messageID)
		return
	}
	texts := make([]string, 0, len(days))
	for _, day := range days {
		texts = append(texts, format.HomeworkDay(day))
	}
	g.sendDays(chatID, messageID, texts)
}

func (g *Gateway) marksdateFlow(ctx context.Context, chatID int64, messageID int, start, end time.Time) {
	if err := g.messenger.EditMessageText(chatID, messageID, textLoading); err != nil {
		g.logger.Warn("placeholder for chat %d: %v", chatID, err)
	}
	days, err := g.portal.MarksByDate(ctx, chatKey(chatID), start, end)
	if err != nil {
		g.failFetch(chatID, messageID)
		return
	}
	texts := make([]string, 0, len(days))
	for _, day := range days {
		texts = append(texts, format.DayMarks(day))
	}
	g.sendDays(chatID, messageID, texts)
}

func (g *Gateway) runProfile(ctx context.Context, chatID int64, messageID int) {
	profile, err := g.portal.Profile(ctx, chatKey(chatID))
	if err != nil {
		g.failFetch(chatID, messageID)
		return
	}
	if err := g.messenger.EditMessageText(chatID, messageID, format.Profile(profile)); err != nil {
		g.logger.Warn("profile render for chat %d: %v", chatID, err)
	}
}

func (g *Gateway) runAllMarks(ctx context.Context, chatID int64, messageID int) {
	subjects, err := g.portal.AllMarks(ctx, chatKey(chatID))
	if err != nil || len(subjects) == 0 {
		g.failFetch(chatID, messageID)
		return
	}
	if err := g.messenger.EditMessageText(chatID, messageID, format.AllMarks(subjects)); err != nil {
		g.logger.Warn("marks render for chat %d: %v", chatID, err)
	}
}

func (g *Gateway) runNotifications(ctx context.Context, chatID int64, messageID int) {
	feed, err := g.portal.Notifications(ctx, chatKey(chatID))
	if err != nil || len(feed) == 0 {
		g.failFetch(chatID, messageID)
		return
	}
	g.sendDays(chatID, messageID, format.Notifications(feed))
}

func (g *Gateway) failFetch(chatID int64, messageID int) {
	if err := g.messenger.EditMessageText(chatID, messageID, textFetchFailed); err != nil {
		g.logger.Warn("failure notice for chat %d: %v", chatID, err)
	}
}

// buildMenu is the /start inline button menu.
func buildMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Расписание", "schedule"),
			tgbotapi.NewInlineKeyboardButtonData("ДЗ", "homework"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Оценки по дате", "marksdate"),
			tgbotapi.NewInlineKeyboardButtonData("Все оценки", "marks"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Ответы на тест МЭШ", "testanswers"),
			tgbotapi.NewInlineKeyboardButtonData("Уведомления", "notifications"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Профиль", "profile"),
			tgbotapi.NewInlineKeyboardButtonData("Обновить токен", "refreshtoken"),
		),
	)
}

// registerCommands publishes the command menu in English and Russian.
func (g *Gateway) registerCommands() error {
	if g.bot == nil {
		return nil
	}
	english := []tgbotapi.BotCommand{
		{Command: "start", Description: "Start working with the bot"},
		{Command: "profile", Description: "Get your Mesh profile info"},
		{Command: "schedule", Description: "Get your schedule for date(s)"},
		{Command: "homework", Description: "Get your homework for date(s)"},
		{Command: "marksdate", Description: "Get your marks for date(s)"},
		{Command: "marks", Description: "Get all your marks"},
		{Command: "refreshtoken", Description: "Refresh/change your Mesh token"},
		{Command: "testanswers", Description: "Get answers for a Mesh test"},
		{Command: "notifications", Description: "Get latest notifications"},
	}
	russian := []tgbotapi.BotCommand{
		{Command: "start", Description: "Начать работать с ботом"},
		{Command: "profile", Description: "Получить информацию о профиле МЭШ"},
		{Command: "schedule", Description: "Получить расписание на дату (даты)"},
		{Command: "homework", Description: "Получить домашнее задание к дате (датам)"},
		{Command: "marksdate", Description: "Получить оценки за дату (даты)"},
		{Command: "marks", Description: "Получить все оценки"},
		{Command: "refreshtoken", Description: "Обновить/изменить свой токен МЭШ"},
		{Command: "testanswers", Description: "Получить ответы на тест МЭШ"},
		{Command: "notifications", Description: "Получить последние уведомления"},
	}
	scope := tgbotapi.NewBotCommandScopeAllPrivateChats()
	if _, err := g.bot.Request(tgbotapi.NewSetMyCommandsWithScopeAndLanguage(scope, "", english...)); err != nil {
		return fmt.Errorf("set commands (en): %w", err)
	}
	if _, err := g.bot.Request(tgbotapi.NewSetMyCommandsWithScopeAndLanguage(scope, "ru", russian...)); err != nil {
		return fmt.Errorf("set commands (ru): %w", err)
	}
	return nil
}

package channels

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/taskpilot/internal/audit"
	"github.com/basket/taskpilot/internal/bus"
	"github.com/basket/taskpilot/internal/persistence"
	"github.com/basket/taskpilot/internal/state"
	"github.com/basket/taskpilot/internal/supervisor"
)

// TelegramChannel implements the Channel interface for Telegram. It is the
// single command surface: one allowed operator, slash commands in, status
// snapshots out (edited in place on the pinned status message).
type TelegramChannel struct {
	token     string
	allowedID int64
	sup       TaskSupervisor
	history   *persistence.Store
	eventBus  *bus.Bus
	logger    *slog.Logger
	bot       *tgbotapi.BotAPI

	renderMaxChars int
}

// NewTelegramChannel creates a new Telegram channel. history may be nil.
func NewTelegramChannel(token string, allowedID int64, sup TaskSupervisor, history *persistence.Store, eventBus *bus.Bus, renderMaxChars int, logger *slog.Logger) *TelegramChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:          token,
		allowedID:      allowedID,
		sup:            sup,
		history:        history,
		eventBus:       eventBus,
		logger:         logger,
		renderMaxChars: renderMaxChars,
	}
}

func (t *TelegramChannel) Name() string {
	return "telegram"
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	// Push status snapshots on every transition and heartbeat.
	go t.monitorEvents(ctx)

	// Reconnection loop with exponential backoff.
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall detection).
// Returns nil on context cancellation, or an error to trigger reconnection.
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5 minutes,
	// the connection is likely dead (the library blocks rather than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update (including empty long-poll returns).
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				if update.Message.From.ID != t.allowedID {
					t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
					audit.Record("deny", "message", "unknown_operator", strconv.FormatInt(update.Message.From.ID, 10))
					continue
				}
				t.handleMessage(ctx, update.Message)
				continue
			}

			if update.CallbackQuery != nil {
				if update.CallbackQuery.From.ID != t.allowedID {
					t.logger.Warn("telegram callback access denied", "user_id", update.CallbackQuery.From.ID)
					continue
				}
				t.handleCallbackQuery(ctx, update.CallbackQuery)
				continue
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	cmd := msg.Command()
	arg := strings.TrimSpace(msg.CommandArguments())

	switch cmd {
	case "start", "help":
		t.reply(msg.Chat.ID, helpText)
	case "task":
		t.doStart(msg.Chat.ID, arg)
	case "continue":
		t.doContinue(msg.Chat.ID)
	case "pause":
		t.doPause(msg.Chat.ID)
	case "stop":
		t.doStop(msg.Chat.ID)
	case "cancel":
		t.doCancel(msg.Chat.ID)
	case "status":
		t.doStatus(msg.Chat.ID)
	case "unlock":
		t.doUnlock(msg.Chat.ID, arg)
	case "lock":
		audit.Record("allow", "lock", "operator", "")
		t.sup.Lock()
		t.reply(msg.Chat.ID, "🔒 Locked.")
	case "history":
		t.doHistory(ctx, msg.Chat.ID, arg)
	case "":
		// Bare text starts a task, matching the chat-first interaction model.
		t.doStart(msg.Chat.ID, content)
	default:
		t.reply(msg.Chat.ID, fmt.Sprintf("Unknown command /%s. Try /help.", cmd))
	}
}

// handleCallbackQuery handles inline button presses on the status message.
func (t *TelegramChannel) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	action, ok := strings.CutPrefix(query.Data, "ctl:")
	if !ok {
		return
	}

	ack := tgbotapi.NewCallback(query.ID, action)
	if _, err := t.bot.Request(ack); err != nil {
		t.logger.Warn("failed to ack callback", "error", err)
	}

	chatID := query.Message.Chat.ID
	switch action {
	case "continue":
		t.doContinue(chatID)
	case "pause":
		t.doPause(chatID)
	case "stop":
		t.doStop(chatID)
	case "cancel":
		t.doCancel(chatID)
	case "status":
		t.doStatus(chatID)
	}
}

// --- command handlers ---

func (t *TelegramChannel) doStart(chatID int64, description string) {
	snap, err := t.sup.Start(description, state.RenderTarget{ChatID: chatID})
	if err != nil {
		audit.Record("deny", "task", err.Error(), description)
		t.reply(chatID, rejectionText(err))
		return
	}
	audit.Record("allow", "task", "started", snap.TaskID)
	t.pushSnapshot(snap)
}

func (t *TelegramChannel) doContinue(chatID int64) {
	snap, err := t.sup.Continue()
	if err != nil {
		audit.Record("deny", "continue", err.Error(), "")
		t.reply(chatID, rejectionText(err))
		return
	}
	audit.Record("allow", "continue", "resumed", snap.TaskID)
	t.pushSnapshot(snap)
}

func (t *TelegramChannel) doPause(chatID int64) {
	snap, err := t.sup.Pause()
	if err != nil {
		t.reply(chatID, rejectionText(err))
		return
	}
	audit.Record("allow", "pause", "operator", snap.TaskID)
	t.pushSnapshot(snap)
}

func (t *TelegramChannel) doStop(chatID int64) {
	snap, err := t.sup.Stop()
	if err != nil {
		t.reply(chatID, rejectionText(err))
		return
	}
	audit.Record("allow", "stop", "operator", snap.TaskID)
	t.pushSnapshot(snap)
}

func (t *TelegramChannel) doCancel(chatID int64) {
	if err := t.sup.Cancel(); err != nil {
		t.reply(chatID, rejectionText(err))
		return
	}
	audit.Record("allow", "cancel", "operator", "")
	t.reply(chatID, "Task canceled.")
}

func (t *TelegramChannel) doStatus(chatID int64) {
	snap, ok := t.sup.Status()
	if !ok {
		t.reply(chatID, "Idle. Send a task description or /task <description> to begin.")
		return
	}
	// Rebind in case the operator asked from a fresh chat context.
	if snap.Render.ChatID == 0 {
		snap.Render.ChatID = chatID
	}
	t.pushSnapshot(snap)
}

func (t *TelegramChannel) doUnlock(chatID int64, secret string) {
	if err := t.sup.Unlock(secret); err != nil {
		audit.Record("deny", "unlock", "wrong_secret", "")
		t.reply(chatID, "❌ Wrong secret.")
		return
	}
	audit.Record("allow", "unlock", "granted", "")
	t.reply(chatID, "🔓 Unlocked.")
}

func (t *TelegramChannel) doHistory(ctx context.Context, chatID int64, arg string) {
	if t.history == nil {
		t.reply(chatID, "History is not enabled.")
		return
	}
	n := 10
	if arg != "" {
		if v, err := strconv.Atoi(arg); err == nil && v > 0 {
			n = v
		}
	}
	recs, err := t.history.ListRecent(ctx, n)
	if err != nil {
		t.logger.Warn("history query failed", "error", err)
		t.reply(chatID, "Could not read history.")
		return
	}
	if len(recs) == 0 {
		t.reply(chatID, "No finished tasks yet.")
		return
	}
	var b strings.Builder
	b.WriteString("Recent tasks:\n")
	for _, rec := range recs {
		desc := rec.Description
		if len(desc) > 60 {
			desc = desc[:57] + "..."
		}
		fmt.Fprintf(&b, "• [%s] %s (%s, +%d)\n", rec.FinalStatus, desc,
			rec.FinishedAt.Local().Format("Jan 2 15:04"), rec.ContinuationCount)
	}
	t.reply(chatID, b.String())
}

// --- status push ---

// monitorEvents pushes a snapshot on every state transition and heartbeat.
func (t *TelegramChannel) monitorEvents(ctx context.Context) {
	sub := t.eventBus.Subscribe("task.")
	defer t.eventBus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch ev.Topic {
			case bus.TopicTaskHeartbeat:
				if snap, ok := ev.Payload.(supervisor.Snapshot); ok {
					t.pushSnapshot(snap)
				}
			case bus.TopicTaskStateChanged:
				if snap, ok := t.sup.Status(); ok {
					t.pushSnapshot(snap)
				}
			}
		}
	}
}

// pushSnapshot renders the snapshot into the task's status message, editing
// in place when one exists. Edit failure falls back to a fresh message once;
// further failure is logged and swallowed.
func (t *TelegramChannel) pushSnapshot(snap supervisor.Snapshot) {
	if snap.Render.ChatID == 0 {
		return
	}
	text := snap.Text(t.renderMaxChars)
	keyboard := controlsKeyboard(snap.Controls())

	if snap.Render.MessageID != 0 {
		edit := tgbotapi.NewEditMessageText(snap.Render.ChatID, snap.Render.MessageID, text)
		edit.ReplyMarkup = &keyboard
		if _, err := t.bot.Send(edit); err == nil {
			return
		} else if strings.Contains(err.Error(), "message is not modified") {
			return
		} else {
			t.logger.Warn("status edit failed, sending fresh message", "error", err)
		}
	}

	msg := tgbotapi.NewMessage(snap.Render.ChatID, text)
	msg.ReplyMarkup = keyboard
	sent, err := t.bot.Send(msg)
	if err != nil {
		t.logger.Error("status push failed", "error", err)
		return
	}
	t.sup.BindRender(state.RenderTarget{ChatID: snap.Render.ChatID, MessageID: sent.MessageID})
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

func controlsKeyboard(c supervisor.Controls) tgbotapi.InlineKeyboardMarkup {
	switch c {
	case supervisor.ControlsResume:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("▶ Continue", "ctl:continue"),
				tgbotapi.NewInlineKeyboardButtonData("⏹ Stop", "ctl:stop"),
			),
		)
	case supervisor.ControlsNormal:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⏸ Pause", "ctl:pause"),
				tgbotapi.NewInlineKeyboardButtonData("⏹ Stop", "ctl:stop"),
				tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", "ctl:cancel"),
			),
		)
	default:
		return tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("🔄 Status", "ctl:status"),
			),
		)
	}
}

func rejectionText(err error) string {
	switch {
	case errors.Is(err, supervisor.ErrLocked):
		return "🔒 Locked. Use /unlock <secret> first."
	case errors.Is(err, supervisor.ErrTaskActive):
		return "A task is already active. /stop or /cancel it first."
	case errors.Is(err, supervisor.ErrNoPausedTask):
		return "Nothing to continue — no paused task."
	case errors.Is(err, supervisor.ErrNoRunningTask):
		return "Nothing to pause — no running task."
	case errors.Is(err, supervisor.ErrNoActiveTask):
		return "No active task."
	case errors.Is(err, supervisor.ErrEmptyDescription):
		return "Task description is empty. /task <description>"
	default:
		return fmt.Sprintf("Rejected: %v", err)
	}
}

const helpText = `taskpilot — remote agent control

/task <description> — start a new task (bare text works too)
/continue — resume a paused task
/pause — pause the running burst
/stop — stop and clear the task
/cancel — kill and discard the task
/status — show the current snapshot
/history [n] — recent finished tasks
/unlock <secret> — open the gate
/lock — close the gate`

package notify

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"bookingsync/internal/metrics"
	"bookingsync/internal/models"
	"bookingsync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
)

const retriesShown = 20

// Updater is the part of the Bot API the command loop uses.
type Updater interface {
	Sender
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Operator exposes the sync controls available from chat.
type Operator interface {
	Status(ctx context.Context) (*models.SyncStatus, error)
	RunSync(ctx context.Context, source string, since *time.Time) (*worker.RunResult, error)
}

type RetryLister interface {
	List(ctx context.Context, f models.RetryFilter) ([]models.RetryEntry, error)
}

type ReportBuilder interface {
	Build(ctx context.Context) (*excelize.File, error)
}

// CommandBot answers operator commands sent from the alert chat.
type CommandBot struct {
	bot      Updater
	chatID   int64
	operator Operator
	retries  RetryLister
	reports  ReportBuilder
	location *time.Location
	syncing  atomic.Bool
	logger   zerolog.Logger
}

func NewCommandBot(bot Updater, chatID int64, operator Operator, retries RetryLister, reports ReportBuilder, loc *time.Location, logger *zerolog.Logger) *CommandBot {
	if loc == nil {
		loc = time.UTC
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_commands").Logger()
	}
	return &CommandBot{
		bot:      bot,
		chatID:   chatID,
		operator: operator,
		retries:  retries,
		reports:  reports,
		location: loc,
		logger:   l,
	}
}

// Start polls for updates until ctx is done.
func (b *CommandBot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.bot.GetUpdatesChan(u)

	b.logger.Info().Int64("chat_id", b.chatID).Msg("listening for operator commands")
	for {
		select {
		case <-ctx.Done():
			b.bot.StopReceivingUpdates()
			b.logger.Info().Msg("command bot stopping")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

func (b *CommandBot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || !msg.IsCommand() || msg.Chat == nil {
		return
	}

	// Создаем контекст для обработки каждого обновления
	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.NewString()).Str("command", msg.Command()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(&l, func() {
		if msg.Chat.ID != b.chatID {
			metrics.IncBotCommand(msg.Command(), "denied")
			l.Warn().Int64("chat_id", msg.Chat.ID).Msg("command from unknown chat ignored")
			return
		}
		b.handleCommand(ctx, updateCtx, msg)
	})
}

func (b *CommandBot) withRecovery(l *zerolog.Logger, handler func()) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IncBotCommand("panic", "error")
			l.Error().Interface("panic", r).Msg("recovered from panic in update handler")
		}
	}()
	handler()
}

// handleCommand dispatches a command. Long-running syncs use the bot context
// rather than the per-update timeout.
func (b *CommandBot) handleCommand(botCtx, ctx context.Context, msg *tgbotapi.Message) {
	var err error
	switch cmd := msg.Command(); cmd {
	case "status":
		err = b.handleStatus(ctx)
	case "retries":
		err = b.handleRetries(ctx)
	case "sync":
		b.handleSync(botCtx)
	case "report":
		err = b.handleReport(ctx)
	case "start", "help":
		err = b.reply(helpText)
	default:
		err = b.reply(fmt.Sprintf("Unknown command /%s\n\n%s", cmd, helpText))
	}

	result := "ok"
	if err != nil {
		result = "error"
		zerolog.Ctx(ctx).Error().Err(err).Msg("command failed")
		_ = b.reply("Command failed: " + err.Error())
	}
	metrics.IncBotCommand(msg.Command(), result)
}

const helpText = `/status - sync health and checkpoint
/retries - orders waiting for retry
/sync - run a sync now
/report - Excel report of the retry queue and processed orders`

func (b *CommandBot) handleStatus(ctx context.Context) error {
	st, err := b.operator.Status(ctx)
	if err != nil {
		return err
	}
	return b.reply(FormatStatus(st, b.location))
}

func (b *CommandBot) handleRetries(ctx context.Context) error {
	entries, err := b.retries.List(ctx, models.RetryFilter{Limit: retriesShown})
	if err != nil {
		return err
	}
	return b.reply(FormatRetries(entries))
}

// handleSync starts one run unless a chat-triggered run is still going.
func (b *CommandBot) handleSync(ctx context.Context) {
	if !b.syncing.CompareAndSwap(false, true) {
		_ = b.reply("A sync started from chat is still running")
		return
	}
	_ = b.reply("Sync started")

	go func() {
		defer b.syncing.Store(false)
		res, err := b.operator.RunSync(ctx, models.SyncSourceManual, nil)
		switch {
		case err != nil:
			_ = b.reply("Sync failed: " + err.Error())
		case res.Skipped:
			_ = b.reply("Sync skipped: another run holds the lock")
		default:
			text := fmt.Sprintf("Sync %s %s", shortID(res.Run.ID), res.Run.Status)
			if res.Stats != nil {
				text += "\n" + res.Stats.Summary()
			}
			_ = b.reply(text)
		}
	}()
}

func (b *CommandBot) handleReport(ctx context.Context) error {
	f, err := b.reports.Build(ctx)
	if err != nil {
		return err
	}
	defer f.Close()

	buf, err := f.WriteToBuffer()
	if err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	name := fmt.Sprintf("sync_report_%s.xlsx", time.Now().In(b.location).Format("20060102_1504"))
	doc := tgbotapi.NewDocument(b.chatID, tgbotapi.FileBytes{Name: name, Bytes: buf.Bytes()})
	if _, err := b.bot.Send(doc); err != nil {
		return fmt.Errorf("send report: %w", err)
	}
	return nil
}

func (b *CommandBot) reply(text string) error {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.bot.Send(msg); err != nil {
		b.logger.Error().Err(err).Msg("failed to send reply")
		return err
	}
	return nil
}

func FormatStatus(st *models.SyncStatus, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Health: %s", st.Health)
	if st.SuccessRate >= 0 {
		fmt.Fprintf(&sb, " (%.0f%% of runs ok)", st.SuccessRate)
	}
	sb.WriteString("\n")
	if st.Running {
		sb.WriteString("A sync is running\n")
	}
	if st.State != nil && st.State.LastSyncTime != nil {
		fmt.Fprintf(&sb, "Checkpoint: %s\n", st.State.LastSyncTime.In(loc).Format("2006-01-02 15:04"))
	}
	if st.LastRun != nil {
		fmt.Fprintf(&sb, "Last run: %s %s, %d processed, %d failed\n",
			shortID(st.LastRun.ID), st.LastRun.Status, st.LastRun.OrdersProcessed, st.LastRun.OrdersFailed)
	}
	fmt.Fprintf(&sb, "Pending retries: %d", st.PendingRetries)
	if st.NextRunAt != nil {
		fmt.Fprintf(&sb, "\nNext run: %s", st.NextRunAt.In(loc).Format("15:04"))
	}
	return sb.String()
}

func FormatRetries(entries []models.RetryEntry) string {
	if len(entries) == 0 {
		return "Retry queue is empty"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d order(s) waiting:", len(entries))
	for _, e := range entries {
		fmt.Fprintf(&sb, "\n#%s (%s) %d/%d %s", e.OrderNumber, e.FailureCategory, e.RetryCount, e.MaxRetries, e.FailureReason)
	}
	return sb.String()
}

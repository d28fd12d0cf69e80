package services

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"github.com/dbutler-a11y/tradewatch/internal/config"
	"github.com/dbutler-a11y/tradewatch/internal/models"
)

// NotificationService posts trade-close and channel-live alerts to a
// Telegram chat. Delivery failures are logged and swallowed: alerting is
// best-effort and must never disturb the pipeline that triggered it.
type NotificationService struct {
	bot    *bot.Bot
	chatID int64
	logger *logrus.Logger
}

// NewNotificationService creates the notifier. With an empty bot token it
// stays disabled and every notify call is a no-op.
func NewNotificationService(cfg config.TelegramConfig, logger *logrus.Logger) *NotificationService {
	var telegramBot *bot.Bot
	if cfg.BotToken != "" {
		var err error
		telegramBot, err = bot.New(cfg.BotToken)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize Telegram bot, notifications disabled")
		}
	}

	return &NotificationService{
		bot:    telegramBot,
		chatID: cfg.ChatID,
		logger: logger,
	}
}

// Enabled reports whether the notifier can deliver messages.
func (ns *NotificationService) Enabled() bool {
	return ns.bot != nil && ns.chatID != 0
}

// NotifyTradeClosed posts a summary of a finalized trade.
func (ns *NotificationService) NotifyTradeClosed(ctx context.Context, trade *models.TradeRecord) {
	if !ns.Enabled() || trade == nil || trade.Pnl == nil || trade.ExitPrice == nil {
		return
	}

	emoji := "⚖️"
	switch trade.Result {
	case models.ResultWin:
		emoji = "✅"
	case models.ResultLoss:
		emoji = "❌"
	}

	message := fmt.Sprintf("%s *%s* %s %s\nEntry: %s → Exit: %s\nP\\&L: %s",
		emoji, trade.ChannelName, trade.Symbol, trade.Direction,
		trade.EntryPrice.String(), trade.ExitPrice.String(), trade.Pnl.String(),
	)
	ns.send(ctx, message)
}

// NotifyChannelLive posts an alert for a channel that just went live.
func (ns *NotificationService) NotifyChannelLive(ctx context.Context, state models.ChannelLiveState) {
	if !ns.Enabled() {
		return
	}

	name := state.Handle
	if name == "" {
		name = state.ChannelID
	}
	message := fmt.Sprintf("🔴 *%s* is live: %s (%d watching)", name, state.Title, state.ViewerCount)
	ns.send(ctx, message)
}

func (ns *NotificationService) send(ctx context.Context, text string) {
	_, err := ns.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    ns.chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeMarkdown,
	})
	if err != nil {
		ns.logger.WithError(err).Warn("Failed to send Telegram notification")
	}
}

// Package hook sends operator alerts for events that need human
// attention, such as a rotation that left a position behind.
package hook

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"gridbot/logger"
)

// Alerter delivers notifications over Telegram. A nil or unconfigured
// Alerter is safe to use; messages are only logged.
type Alerter struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewAlerter connects the Telegram bot. Empty token returns a log-only
// alerter rather than an error; alerting is optional.
func NewAlerter(token string, chatID int64) *Alerter {
	if token == "" || chatID == 0 {
		logger.Info("🔕 Telegram alerting not configured, alerts go to the log only")
		return &Alerter{}
	}

	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		logger.Warnf("⚠️ Telegram bot init failed, falling back to log-only alerts: %v", err)
		return &Alerter{}
	}

	logger.Infof("🔔 Telegram alerting enabled (bot @%s)", bot.Self.UserName)
	return &Alerter{bot: bot, chatID: chatID}
}

// Send delivers one alert message.
func (a *Alerter) Send(text string) {
	logger.Infof("🔔 ALERT: %s", text)
	if a == nil || a.bot == nil {
		return
	}
	msg := tgbotapi.NewMessage(a.chatID, text)
	if _, err := a.bot.Send(msg); err != nil {
		logger.Warnf("⚠️ Failed to send Telegram alert: %v", err)
	}
}

// Alertf formats and delivers one alert message.
func (a *Alerter) Alertf(format string, args ...interface{}) {
	a.Send(fmt.Sprintf(format, args...))
}

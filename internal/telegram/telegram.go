package telegram

import (
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
	"github.com/rs/zerolog"

	"sai/internal/ledger"
	"sai/internal/worker"
)

// Bot sends operator alerts to a Telegram chat. Messages go through the worker pool so
// the ledger never waits on Telegram.
type Bot struct {
	Api    *gotgbot.Bot
	chatId int64
	pool   *worker.Pool
	log    zerolog.Logger
}

var _ ledger.Alerter = (*Bot)(nil)

func NewBot(token string, chatId int64, pool *worker.Pool, log zerolog.Logger) (*Bot, error) {
	api, err := gotgbot.NewBot(token, nil)
	if err != nil {
		return nil, err
	}

	return &Bot{
		Api:    api,
		chatId: chatId,
		pool:   pool,
		log:    log.With().Str("component", "telegram").Logger(),
	}, nil
}

func EscapeMarkdownV2(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	for _, char := range specialChars {
		text = strings.ReplaceAll(text, char, "\\"+char)
	}
	return text
}

func SignUpMessage(identityId string) string {
	return fmt.Sprintf("*New node operator*\n`%s`", EscapeMarkdownV2(identityId))
}

func ReferralMessage(referrerId, refereeId string, bonus int64) string {
	return fmt.Sprintf("*Referral credited* \\+%d\n`%s` invited `%s`",
		bonus, EscapeMarkdownV2(referrerId), EscapeMarkdownV2(refereeId))
}

func (b *Bot) SignedUp(identityId string) {
	b.send(SignUpMessage(identityId))
}

func (b *Bot) ReferralCredited(referrerId, refereeId string, bonus int64) {
	b.send(ReferralMessage(referrerId, refereeId, bonus))
}

// SendNow sends a MarkdownV2 message synchronously.
func (b *Bot) SendNow(msg string) error {
	_, err := b.Api.SendMessage(b.chatId, msg, &gotgbot.SendMessageOpts{
		ParseMode: "MarkdownV2",
		LinkPreviewOptions: &gotgbot.LinkPreviewOptions{
			IsDisabled: true,
		},
	})
	return err
}

func (b *Bot) send(msg string) {
	ok := b.pool.TrySubmit(worker.TaskFunc(func() {
		if err := b.SendNow(msg); err != nil {
			b.log.Warn().Err(err).Msg("send alert")
		}
	}))
	if !ok {
		b.log.Warn().Msg("alert queue full, dropping alert")
	}
}

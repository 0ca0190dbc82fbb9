package bot

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	tele "gopkg.in/telebot.v4"

	"nuclight.org/opinions/internal/poll"
)

type Options struct {
	Token string
	// WebhookURL switches the bot from long polling to a webhook served by
	// WebhookHandler. Empty means long polling.
	WebhookURL string
	// WebhookSecret must accompany every webhook request; others are dropped.
	WebhookSecret string
	PollTimeout   time.Duration
}

type Bot struct {
	bot         *tele.Bot
	webhook     *tele.Webhook
	display     *Display
	pollService *poll.Service
	logger      *slog.Logger
	ctx         context.Context
}

func New(opts Options, logger *slog.Logger) (*Bot, error) {
	if opts.PollTimeout == 0 {
		opts.PollTimeout = 10 * time.Second
	}

	var (
		poller  tele.Poller = &tele.LongPoller{Timeout: opts.PollTimeout}
		webhook *tele.Webhook
	)
	if opts.WebhookURL != "" {
		webhook = newWebhook(opts)
		poller = webhook
	}

	pref := tele.Settings{
		Token:  opts.Token,
		Poller: poller,
		OnError: func(err error, c tele.Context) {
			logger.Error("telegram update failed", "error", err)
		},
	}

	b, err := tele.NewBot(pref)
	if err != nil {
		return nil, err
	}

	display, err := NewDisplay(b, logger)
	if err != nil {
		return nil, err
	}

	return &Bot{
		bot:     b,
		webhook: webhook,
		display: display,
		logger:  logger,
		ctx:     context.Background(),
	}, nil
}

func newWebhook(opts Options) *tele.Webhook {
	return &tele.Webhook{
		Endpoint:       &tele.WebhookEndpoint{PublicURL: opts.WebhookURL},
		SecretToken:    opts.WebhookSecret,
		AllowedUpdates: []string{"message", "callback_query"},
	}
}

// Start blocks receiving updates until Stop. Handlers run with ctx.
func (b *Bot) Start(ctx context.Context) {
	b.ctx = ctx
	transport := "long_polling"
	if b.webhook != nil {
		transport = "webhook"
	}
	b.logger.Info("bot started", "username", b.bot.Me.Username, "transport", transport)
	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
}

func (b *Bot) Bot() *tele.Bot {
	return b.bot
}

// Display is the Telegram surface polls are rendered to.
func (b *Bot) Display() *Display {
	return b.display
}

// WebhookHandler returns the handler Telegram posts updates to, or nil when
// the bot uses long polling.
func (b *Bot) WebhookHandler() http.Handler {
	if b.webhook == nil {
		return nil
	}
	return b.webhook
}

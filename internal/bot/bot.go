package bot

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"instarelay/internal/config"
	"instarelay/internal/engine"
	"instarelay/internal/model"
	"instarelay/internal/provider"
)

type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Relay is the core service the bot drives. Subscriber ids are private chat
// ids.
type Relay interface {
	EnsureSubscriber(ctx context.Context, id int64) (model.Subscriber, error)
	Subscriber(id int64) (model.Subscriber, bool)
	TriggerSync(ctx context.Context, subscriberID int64) ([]engine.Outcome, error)
	TriggerLinkFetch(ctx context.Context, subscriberID int64, raw string) (engine.LinkOutcome, error)
	RegisterAccount(ctx context.Context, subscriberID int64, name string) (string, error)
	RemoveAccount(ctx context.Context, subscriberID int64, name string) (string, error)
	Accounts(subscriberID int64) []string
	Watermark(subscriberID int64, account string) (model.Watermark, bool)
	Block(ctx context.Context, actorID, targetID int64) error
	Unblock(ctx context.Context, actorID, targetID int64) error
	Login(ctx context.Context, actorID int64, creds provider.Credentials) error
	Authenticated() bool
}

// Bot is the Telegram front end: it handles commands and sends reports.
type Bot struct {
	api   telegramAPI
	relay Relay
	cfg   *config.Config
	log   *slog.Logger

	mu       sync.Mutex
	awaiting map[int64]bool

	// long running requests (checks, link fetches) run off the update loop
	jobs sync.WaitGroup
}

// New creates a Bot on top of an authorized Telegram API client.
func New(api telegramAPI, relay Relay, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		relay:    relay,
		cfg:      cfg,
		log:      log,
		awaiting: make(map[int64]bool),
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled
// and running requests have finished.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	defer b.jobs.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update := <-updates:
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if cb := update.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.From == nil {
			return
		}
		if !b.allowed(cb.From.ID, cb.Message.Chat.ID) {
			b.reply(cb.Message.Chat.ID, "Access denied.")
			return
		}
		b.handleCallback(ctx, cb)
		return
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.allowed(msg.From.ID, msg.Chat.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}
	// first contact registers the chat as a subscriber
	if _, err := b.relay.EnsureSubscriber(ctx, msg.Chat.ID); err != nil {
		b.log.Error("register subscriber", "chat_id", msg.Chat.ID, "error", err)
	}
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}
	b.handleText(ctx, msg.Chat.ID, msg.Text)
}

func (b *Bot) allowed(userID, chatID int64) bool {
	if !b.cfg.IsUserAllowed(userID) {
		return false
	}
	sub, ok := b.relay.Subscriber(chatID)
	return !ok || !sub.Blocked
}

// SendMessage sends a text message to the given chat.
func (b *Bot) SendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send message", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.SendMessage(chatID, text)
}

// background runs fn off the update loop.
func (b *Bot) background(fn func()) {
	b.jobs.Add(1)
	go func() {
		defer b.jobs.Done()
		fn()
	}()
}

func (b *Bot) setAwaiting(chatID int64, v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if v {
		b.awaiting[chatID] = true
		return
	}
	delete(b.awaiting, chatID)
}

// takeAwaiting reports whether chatID was asked for an account name and
// clears the flag.
func (b *Bot) takeAwaiting(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	v := b.awaiting[chatID]
	delete(b.awaiting, chatID)
	return v
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	if cmd == "login" {
		b.log.Debug("command", "cmd", cmd, "chat_id", chatID)
	} else {
		b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)
	}
	b.setAwaiting(chatID, false)

	switch cmd {
	case "start":
		b.handleStart(ctx, chatID)
	case "help":
		b.handleHelp(chatID)
	case cmdAdd:
		b.handleAdd(ctx, chatID, args)
	case cmdList:
		b.handleList(chatID)
	case "remove":
		// waits for a running pass of the account
		b.background(func() { b.handleRemove(ctx, chatID, args) })
	case cmdCheck:
		b.background(func() { b.handleCheck(ctx, chatID) })
	case "status":
		b.handleStatus(chatID, args)
	case "login":
		b.handleLogin(ctx, msg, args)
	case "block":
		b.handleBlock(ctx, chatID, args, true)
	case "unblock":
		b.handleBlock(ctx, chatID, args, false)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) handleText(ctx context.Context, chatID int64, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if b.takeAwaiting(chatID) {
		b.handleAdd(ctx, chatID, text)
		return
	}
	if LooksLikeLink(text) {
		b.background(func() { b.handleLink(ctx, chatID, text) })
		return
	}
	b.reply(chatID, "Send an Instagram link, or use /help for commands.")
}

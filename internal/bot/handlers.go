package bot

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"instarelay/internal/relay"
	"instarelay/internal/storage"
)

func (b *Bot) handleStart(ctx context.Context, chatID int64) {
	if _, err := b.relay.EnsureSubscriber(ctx, chatID); err != nil {
		b.log.Error("register subscriber", "chat_id", chatID, "error", err)
	}

	msg := tgbotapi.NewMessage(chatID, `Welcome to Insta Relay!

I watch Instagram accounts for you and forward their new posts and stories here.
You can also paste a post, reel or story link to get its media right away.

Use the buttons below, or /help for the full command reference.`)
	msg.ReplyMarkup = mainMenu()
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send start menu", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Accounts:
/add <account> - watch an account
/list - show watched accounts
/remove <account> - stop watching an account
/check - fetch new posts and stories now
/status <account> - last synced post and story

Links:
paste a post, reel or story link to receive its media

Admin:
/login <username> <sessionid> - set the Instagram session
/block <user_id> - deny access
/unblock <user_id> - restore access`)
}

func (b *Bot) handleAdd(ctx context.Context, chatID int64, args string) {
	if args == "" {
		b.setAwaiting(chatID, true)
		b.reply(chatID, "Send the account name to watch, for example: natgeo")
		return
	}
	if _, err := b.relay.EnsureSubscriber(ctx, chatID); err != nil {
		b.log.Error("register subscriber", "chat_id", chatID, "error", err)
	}

	account, err := b.relay.RegisterAccount(ctx, chatID, ParseAccountArg(args))
	switch {
	case errors.Is(err, storage.ErrInvalidAccount):
		b.reply(chatID, fmt.Sprintf("%q is not a valid account name.", args))
	case errors.Is(err, storage.ErrDuplicateAccount):
		b.reply(chatID, fmt.Sprintf("You already watch @%s.", ParseAccountArg(args)))
	case err != nil && account == "":
		b.reply(chatID, fmt.Sprintf("Failed to add account: %v", err))
	default:
		if err != nil {
			b.log.Error("register account", "chat_id", chatID, "account", account, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Now watching @%s. New posts arrive with the next check, or use /check.", account))
	}
}

func (b *Bot) handleList(chatID int64) {
	accounts := b.relay.Accounts(chatID)
	msg := tgbotapi.NewMessage(chatID, FormatAccountList(accounts))
	if len(accounts) > 0 {
		msg.ReplyMarkup = removeButtons(accounts)
	}
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send account list", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) handleRemove(ctx context.Context, chatID int64, args string) {
	name := ParseAccountArg(args)
	if name == "" {
		b.reply(chatID, "Usage: /remove <account>")
		return
	}

	account, err := b.relay.RemoveAccount(ctx, chatID, name)
	switch {
	case errors.Is(err, storage.ErrUnknownAccount), errors.Is(err, storage.ErrInvalidAccount):
		b.reply(chatID, fmt.Sprintf("@%s is not in your list.", name))
	case err != nil && account == "":
		b.reply(chatID, fmt.Sprintf("Error removing account: %v", err))
	default:
		if err != nil {
			b.log.Error("remove account", "chat_id", chatID, "account", account, "error", err)
		}
		b.reply(chatID, fmt.Sprintf("Stopped watching @%s.", account))
	}
}

func (b *Bot) handleCheck(ctx context.Context, chatID int64) {
	accounts := b.relay.Accounts(chatID)
	if len(accounts) == 0 {
		b.reply(chatID, "You have no accounts yet. Use /add <account> to add one.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Checking %d account(s)...", len(accounts)))

	outcomes, err := b.relay.TriggerSync(ctx, chatID)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Check failed: %v", err))
		return
	}
	for _, o := range outcomes {
		b.reply(chatID, FormatOutcome(o))
	}
	b.reply(chatID, FormatSummary(outcomes))
}

func (b *Bot) handleLink(ctx context.Context, chatID int64, link string) {
	b.reply(chatID, "Fetching...")
	out, err := b.relay.TriggerLinkFetch(ctx, chatID, link)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Fetch failed: %v", err))
		return
	}
	b.reply(chatID, FormatLinkOutcome(out))
}

func (b *Bot) handleStatus(chatID int64, args string) {
	name := ParseAccountArg(args)
	if name == "" {
		b.reply(chatID, "Usage: /status <account>")
		return
	}
	wm, ok := b.relay.Watermark(chatID, name)
	b.reply(chatID, FormatWatermark(name, wm, ok, b.relay.Authenticated()))
}

func (b *Bot) handleLogin(ctx context.Context, msg *tgbotapi.Message, args string) {
	chatID := msg.Chat.ID

	// the message carries a session secret
	if _, err := b.api.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
		b.log.Warn("delete login message", "chat_id", chatID, "error", err)
	}

	creds, err := ParseLoginArgs(args)
	if err != nil {
		b.reply(chatID, err.Error())
		return
	}
	switch err := b.relay.Login(ctx, chatID, creds); {
	case errors.Is(err, relay.ErrForbidden):
		b.reply(chatID, "Only admins can change the Instagram session.")
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Login failed, previous session kept: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("Logged in as %s. Stories are enabled.", creds.Username))
	}
}

func (b *Bot) handleBlock(ctx context.Context, chatID int64, args string, block bool) {
	verb := "unblock"
	if block {
		verb = "block"
	}
	id, err := ParseIDArg(args)
	if err != nil {
		b.reply(chatID, fmt.Sprintf("Usage: /%s <user_id>", verb))
		return
	}

	if block {
		err = b.relay.Block(ctx, chatID, id)
	} else {
		err = b.relay.Unblock(ctx, chatID, id)
	}
	switch {
	case errors.Is(err, relay.ErrForbidden):
		b.reply(chatID, fmt.Sprintf("You cannot %s user %d.", verb, id))
	case errors.Is(err, storage.ErrUnknownSubscriber):
		b.reply(chatID, fmt.Sprintf("User %d not found.", id))
	case err != nil:
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.reply(chatID, fmt.Sprintf("User %d %sed.", id, verb))
	}
}

package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cmdAdd   = "add"
	cmdList  = "list"
	cmdCheck = "check"
)

func mainMenu() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Add account", cmdAdd),
			tgbotapi.NewInlineKeyboardButtonData("My accounts", cmdList),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Check now", cmdCheck),
		),
	)
}

func removeButtons(accounts []string) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(accounts))
	for _, a := range accounts {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Remove @"+a, "remove_confirm:"+a),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	data := cb.Data
	chatID := cb.Message.Chat.ID

	callback := tgbotapi.NewCallback(cb.ID, "")
	if _, err := b.api.Request(callback); err != nil {
		b.log.Error("send callback ack", "error", err)
	}

	action, arg, _ := strings.Cut(data, ":")

	b.log.Info("callback",
		"action", action,
		"chat_id", chatID,
		"user_id", cb.From.ID,
		"username", cb.From.UserName,
	)

	switch action {
	case cmdAdd:
		b.handleAdd(ctx, chatID, "")
	case cmdList:
		b.handleList(chatID)
	case cmdCheck:
		b.background(func() { b.handleCheck(ctx, chatID) })
	case "remove_confirm":
		if arg == "" {
			return
		}
		msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("Stop watching @%s? Its sync progress is dropped too.", arg))
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Yes, remove", "remove:"+arg),
				tgbotapi.NewInlineKeyboardButtonData("Cancel", "noop"),
			),
		)
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send remove confirmation", "error", err)
		}
	case "remove":
		b.background(func() { b.handleRemove(ctx, chatID, arg) })
	}
}

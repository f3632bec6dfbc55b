// Package dispatch delivers staged files to Telegram chats.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"instarelay/internal/model"
)

// Sender is the part of the Telegram API used for delivery.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Result is the outcome of one dispatch attempt. A nil Err means the file
// was sent.
type Result struct {
	Path string
	Err  error
}

// Sent reports whether the file reached the destination.
func (r Result) Sent() bool {
	return r.Err == nil
}

// Dispatcher sends staged files and releases them.
type Dispatcher struct {
	api Sender
	log *slog.Logger
}

// New creates a Dispatcher.
func New(api Sender, log *slog.Logger) *Dispatcher {
	return &Dispatcher{api: api, log: log}
}

// Dispatch sends the staged file to chatID as a document and then removes
// the local file, whether or not the send succeeded.
func (d *Dispatcher) Dispatch(ctx context.Context, item model.StagedItem, chatID int64) Result {
	defer func() {
		if err := os.Remove(item.LocalPath); err != nil && !os.IsNotExist(err) {
			d.log.Error("remove staged file", "path", item.LocalPath, "error", err)
		}
	}()

	res := Result{Path: item.LocalPath}
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("send cancelled: %w", err)
		return res
	}

	doc := tgbotapi.NewDocument(chatID, tgbotapi.FilePath(item.LocalPath))
	if _, err := d.api.Send(doc); err != nil {
		res.Err = fmt.Errorf("send document: %w", err)
		d.log.Warn("dispatch failed",
			"chat_id", chatID,
			"file", filepath.Base(item.LocalPath),
			"item_id", item.SourceItemID,
			"error", err,
		)
		return res
	}

	d.log.Debug("dispatched", "chat_id", chatID, "file", filepath.Base(item.LocalPath), "bytes", item.SizeBytes)
	return res
}

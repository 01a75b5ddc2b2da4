// Package telegram is the chat surface: it turns /download commands into
// requests and sends their replies back to the chat they came from.
package telegram

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"seekbot/internal/logger"
	"seekbot/internal/worker"
)

const (
	CommandDownload = "download"
	Usage           = "Usage: /download Artist - Title"
)

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	StopReceivingUpdates()
}

// Submitter starts a request in the background.
type Submitter interface {
	Submit(text string, reply worker.ReplyFunc) string
}

type Bot struct {
	api       API
	username  string
	submitter Submitter
	allowed   map[int64]bool
}

// Connect logs in with token and returns a bot serving submitter.
func Connect(token string, submitter Submitter, allowedChats []int64) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	api.Debug = logger.IsDebugMode()
	logger.Info("Authorized on telegram as @%s", api.Self.UserName)
	return New(api, api.Self.UserName, submitter, allowedChats), nil
}

// New builds a bot on api. An empty allowedChats accepts every chat.
func New(api API, username string, submitter Submitter, allowedChats []int64) *Bot {
	b := &Bot{
		api:       api,
		username:  username,
		submitter: submitter,
	}
	if len(allowedChats) > 0 {
		b.allowed = make(map[int64]bool, len(allowedChats))
		for _, id := range allowedChats {
			b.allowed[id] = true
		}
	}
	return b
}

// Run long-polls for updates until ctx is done. Requests already submitted
// keep running after Run returns.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}
	if !b.addressedToUs(msg) || msg.Command() != CommandDownload {
		return
	}

	chatID := msg.Chat.ID
	if b.allowed != nil && !b.allowed[chatID] {
		logger.Warn("Ignoring /%s from unauthorized chat %d", CommandDownload, chatID)
		return
	}

	reply := b.replier(chatID)
	query := strings.TrimSpace(msg.CommandArguments())
	if query == "" {
		reply(Usage)
		return
	}

	id := b.submitter.Submit(query, reply)
	logger.With("request_id", id, "chat_id", chatID).Infof("Received /%s %s", CommandDownload, query)
}

// addressedToUs rejects /command@otherbot in group chats.
func (b *Bot) addressedToUs(msg *tgbotapi.Message) bool {
	_, target, found := strings.Cut(msg.CommandWithAt(), "@")
	return !found || b.username == "" || strings.EqualFold(target, b.username)
}

func (b *Bot) replier(chatID int64) worker.ReplyFunc {
	return func(text string) {
		if _, err := b.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			logger.Error("Failed to send reply to chat %d: %v", chatID, err)
		}
	}
}

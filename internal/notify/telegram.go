package notify

import (
	"fmt"
	"log"
	"sync"

	"privacydesk/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramDispatcher delivers alerts as Telegram pushes for users who linked
// a chat id to their account.
type TelegramDispatcher struct {
	BotAPI *tgbotapi.BotAPI

	mu      sync.RWMutex
	chatIDs map[string]int64 // user id -> telegram chat id
}

// NewTelegramDispatcher authorizes the bot with the given token.
func NewTelegramDispatcher(token string) (*TelegramDispatcher, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Printf("Telegram notifier authorized on account %s", bot.Self.UserName)

	return &TelegramDispatcher{
		BotAPI:  bot,
		chatIDs: make(map[string]int64),
	}, nil
}

// LinkChat associates a user with their Telegram chat.
func (d *TelegramDispatcher) LinkChat(userID string, chatID int64) {
	d.mu.Lock()
	d.chatIDs[userID] = chatID
	d.mu.Unlock()
}

func (d *TelegramDispatcher) Channel() string { return "telegram" }

func (d *TelegramDispatcher) Dispatch(recipient *models.User, title, body, category string) error {
	d.mu.RLock()
	chatID, ok := d.chatIDs[recipient.ID]
	d.mu.RUnlock()
	if !ok {
		// Not linked; nothing to deliver, not an error.
		return nil
	}

	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("%s\n%s", title, body))
	_, err := d.BotAPI.Send(msg)
	return err
}

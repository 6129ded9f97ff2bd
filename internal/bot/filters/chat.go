// Package filters решает, какие апдейты бот вообще обрабатывает.
package filters

import (
	"github.com/mymmrac/telego"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только личные сообщения от пользователей.
type ChatFilter struct {
	allowedTypes map[string]struct{}
}

func NewChatFilter() *ChatFilter {
	return &ChatFilter{
		allowedTypes: map[string]struct{}{telego.ChatTypePrivate: {}},
	}
}

func (f *ChatFilter) CheckAccess(message *telego.Message) bool {
	if message == nil {
		log.WithField("component", "ChatFilter").Warn("nil message")
		return false
	}
	if message.From == nil || message.From.IsBot {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Debug("deny: no user (service/channel message?)")
		return false
	}

	if _, ok := f.allowedTypes[message.Chat.Type]; !ok {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
			"user_id":   message.From.ID,
		}).Debug("deny: not a private chat")
		return false
	}
	return true
}

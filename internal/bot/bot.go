// Package bot — Telegram-интерфейс движка: приём апдейтов, фильтрация,
// rate-limiting и маршрутизация команд.
package bot

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	log "github.com/sirupsen/logrus"

	"bintex.app/engine/internal/bot/filters"
	"bintex.app/engine/internal/features/accounts"
	"bintex.app/engine/internal/features/bonus"
	"bintex.app/engine/internal/features/catalog"
	"bintex.app/engine/internal/features/purchase"
	"bintex.app/engine/internal/features/rewards"
	"bintex.app/engine/internal/features/wheel"
	"bintex.app/engine/internal/middleware"
)

// Sender — часть Telegram API, которая нужна боту. *telego.Bot её реализует.
type Sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Services — операции движка, доступные из бота. Bonuses и Wheel могут быть nil.
type Services struct {
	Accounts  *accounts.Service
	Catalog   *catalog.Catalog
	Purchases *purchase.Service
	Rewards   *rewards.Service
	Bonuses   *bonus.Service
	Wheel     *wheel.Service
}

// Bot — главная структура бота.
type Bot struct {
	api Sender
	svc Services

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser
	loc         *time.Location

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
	wg       sync.WaitGroup
}

// New создаёт бота. rateLimiter может быть nil.
func New(api Sender, svc Services, rateLimiter *middleware.RateLimiter, maxInFlight int, loc *time.Location) *Bot {
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Bot{
		api:         api,
		svc:         svc,
		chatFilter:  filters.NewChatFilter(),
		rateLimiter: rateLimiter,
		parser:      NewCommandParser(),
		loc:         loc,
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start читает апдейты до отмены ctx или закрытия канала
// и дожидается обработчиков, которые уже запущены.
func (b *Bot) Start(ctx context.Context, updates <-chan telego.Update) {
	log.WithField("max_inflight", cap(b.inflight)).Info("Бот запущен и ожидает сообщения...")
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			select {
			case b.inflight <- struct{}{}:
			case <-ctx.Done():
				return
			}
			b.wg.Add(1)
			go func(upd telego.Update) {
				defer func() {
					<-b.inflight
					b.wg.Done()
				}()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update telego.Update) {
	defer middleware.RecoverFromPanic()

	message := update.Message
	if message == nil || message.Text == "" {
		return
	}
	if !b.chatFilter.CheckAccess(message) {
		return
	}

	user := message.From
	middleware.LogMessage(user.ID, message.Chat.ID, user.Username, message.Text)

	if b.rateLimiter != nil && !b.rateLimiter.Allow("tg:"+strconv.FormatInt(user.ID, 10)) {
		log.WithField("user_id", user.ID).Debug("rate limited")
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		b.sendMessage(ctx, message.Chat.ID, helpText)
		return
	}

	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")
	b.routeCommand(ctx, message.Chat.ID, user, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID int64, user *telego.User, cmd string, args []string) {
	switch cmd {
	case "start":
		b.handleStart(ctx, chatID, user, args)
	case "aide", "help":
		b.sendMessage(ctx, chatID, helpText)
	case "solde":
		b.handleBalance(ctx, chatID, user.ID)
	case "packs":
		b.handlePacks(ctx, chatID)
	case "acheter":
		b.handleBuy(ctx, chatID, user.ID, args)
	case "gains":
		b.handleGains(ctx, chatID, user.ID)
	case "bonus":
		if b.svc.Bonuses == nil {
			b.sendMessage(ctx, chatID, "🏆 Les bonus sont temporairement désactivés.")
			return
		}
		b.handleBonus(ctx, chatID, user.ID)
	case "roue":
		if b.svc.Wheel == nil {
			b.sendMessage(ctx, chatID, "🎡 La roue est temporairement désactivée.")
			return
		}
		b.handleWheel(ctx, chatID, user.ID)
	case "historique":
		b.handleHistory(ctx, chatID, user.ID)
	case "parrainage":
		b.handleReferral(ctx, chatID, user.ID)
	case "retrait":
		b.handleWithdrawal(ctx, chatID, user.ID, args)
	default:
		b.sendMessage(ctx, chatID, "❓ Commande inconnue.\n\n"+helpText)
	}
}

// sendMessage — утилита для отправки сообщений.
func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, tu.Message(tu.ID(chatID), text)); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

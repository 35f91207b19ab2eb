// Package telegram is the ZholDa bot: the /start menu and new-order notifications.
package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"zholda/matching"
	"zholda/models"
)

const welcome = "🚚 Добро пожаловать в ZholDa!\n\n" +
	"Выберите действие:\n" +
	"• Регистрация водителей - для тех, кто хочет предоставлять услуги доставки\n" +
	"• Заказать доставку - для тех, кто хочет отправить груз"

var truckEmojis = map[string]string{
	"small":        "🚐",
	"medium":       "🚚",
	"large":        "🚛",
	"refrigerator": "❄️",
	"tow":          "🚗",
}

// Sender sends a chat message. *bot.Bot implements it.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*tgmodels.Message, error)
}

// ClickStore records users who pressed /start.
type ClickStore interface {
	SaveJustClicked(ctx context.Context, telegramID int64) error
}

// DriverFinder finds drivers around a pickup point.
type DriverFinder interface {
	DriversNear(ctx context.Context, c models.Coordinate, radiusKm float64) ([]matching.NearDriver, error)
}

type Bot struct {
	send    Sender
	clicks  ClickStore
	drivers DriverFinder
	baseURL string
	log     *zap.Logger
}

func New(send Sender, clicks ClickStore, drivers DriverFinder, baseURL string, log *zap.Logger) *Bot {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bot{
		send:    send,
		clicks:  clicks,
		drivers: drivers,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log,
	}
}

// Register installs the command handlers on tb.
func (b *Bot) Register(tb *bot.Bot) {
	tb.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix,
		func(ctx context.Context, _ *bot.Bot, update *tgmodels.Update) {
			b.HandleStart(ctx, update)
		})
}

// HandleStart records the click and replies with the two Mini App buttons.
func (b *Bot) HandleStart(ctx context.Context, update *tgmodels.Update) {
	if update == nil || update.Message == nil {
		return
	}
	if update.Message.From != nil && b.clicks != nil {
		if err := b.clicks.SaveJustClicked(ctx, update.Message.From.ID); err != nil {
			b.log.Warn("failed to save just clicked user", zap.Error(err))
		}
	}

	_, err := b.send.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        welcome,
		ReplyMarkup: b.startKeyboard(),
	})
	if err != nil {
		b.log.Warn("failed to send start message", zap.Error(err))
	}
}

func (b *Bot) startKeyboard() *tgmodels.ReplyKeyboardMarkup {
	return &tgmodels.ReplyKeyboardMarkup{
		Keyboard: [][]tgmodels.KeyboardButton{
			{{Text: "🚚 Регистрация водитель", WebApp: &tgmodels.WebAppInfo{URL: b.baseURL + "/driver-register"}}},
			{{Text: "📦 Заказать доставку", WebApp: &tgmodels.WebAppInfo{URL: b.baseURL + "/client"}}},
		},
		ResizeKeyboard: true,
	}
}

// FormatOrder renders the new-order notification for drivers.
func FormatOrder(req models.ClientRequest) string {
	emoji := truckEmojis[req.TruckType]
	if emoji == "" {
		emoji = "🚚"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "🆕 Новый заказ!\n\n"+
		"📍 Откуда: %s\n"+
		"🎯 Куда: %s\n"+
		"💰 Цена: %d ₸\n"+
		"%s Тип транспорта: %s\n",
		req.FromAddress, req.ToAddress, req.Price, emoji, req.TruckType)
	if req.Comment != "" {
		fmt.Fprintf(&sb, "💬 Комментарий: %s\n", req.Comment)
	}
	fmt.Fprintf(&sb, "\n📱 Контакт: %s", req.Contact)
	return sb.String()
}

// NotifyNearbyDrivers messages every driver within NotifyRadiusKm of the pickup point
// and returns how many were reached.
func (b *Bot) NotifyNearbyDrivers(ctx context.Context, req models.ClientRequest) int {
	near, err := b.drivers.DriversNear(ctx, models.Coordinate{Lon: req.FromLon, Lat: req.FromLat}, matching.NotifyRadiusKm)
	if err != nil {
		b.log.Error("error getting nearby drivers", zap.Error(err))
		return 0
	}

	text := FormatOrder(req)
	sent := 0
	for _, n := range near {
		_, err := b.send.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: n.Driver.TelegramID,
			Text:   text,
		})
		if err != nil {
			b.log.Warn("failed to notify driver",
				zap.Int64("driver_id", n.Driver.TelegramID), zap.Error(err))
			continue
		}
		sent++
	}
	b.log.Info("drivers notified", zap.Int64("request_id", req.ID), zap.Int("sent", sent), zap.Int("nearby", len(near)))
	return sent
}

// NotifyRegistered congratulates a newly registered driver.
func (b *Bot) NotifyRegistered(ctx context.Context, telegramID int64) {
	_, err := b.send.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: telegramID,
		Text: "✅ Поздравляем! Вы успешно зарегистрированы как водитель.\n\n" +
			"Теперь вы можете создавать заявки и принимать заказы от клиентов.",
	})
	if err != nil {
		b.log.Warn("failed to send registration notification", zap.Int64("driver_id", telegramID), zap.Error(err))
	}
}

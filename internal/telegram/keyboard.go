package telegram

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/modelstudio/internal/models"
)

const (
	callbackPreset   = "preset"
	callbackGenerate = "generate"
	callbackBuy      = "buy"
	callbackHistory  = "history"
	callbackAgain    = "again"

	historyButtons = 5
)

// ProfileID is the credits and wizard profile of a Telegram chat.
func ProfileID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

func callbackData(kind, arg string) string {
	if arg == "" {
		return kind
	}
	return kind + ":" + arg
}

func parseCallback(data string) (kind, arg string) {
	kind, arg, _ = strings.Cut(data, ":")
	return kind, arg
}

func presetKeyboard(presets []models.StylePreset) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(presets))
	for _, p := range presets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(p.Name, callbackData(callbackPreset, p.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func generateKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Generate", callbackGenerate),
	))
}

func resultKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Try another style", callbackAgain),
	))
}

// tierKeyboard lists the tiers that need a payment.
func tierKeyboard(tiers []models.PricingTier) (tgbotapi.InlineKeyboardMarkup, bool) {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, t := range tiers {
		if t.Free() {
			continue
		}
		label := fmt.Sprintf("%s: %d credits for %s", t.Name, t.Credits, formatPrice(t.PriceCents, t.Currency))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(callbackBuy, t.ID)),
		))
	}
	if len(rows) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...), true
}

func historyKeyboard(records []models.GenerationRecord) tgbotapi.InlineKeyboardMarkup {
	if len(records) > historyButtons {
		records = records[:historyButtons]
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(records))
	for _, r := range records {
		label := r.CreatedAt().UTC().Format(time.DateTime) + " " + shorten(r.Prompt, 30)
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, callbackData(callbackHistory, r.ID)),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func formatPrice(cents int, currency string) string {
	return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
}

func shorten(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}

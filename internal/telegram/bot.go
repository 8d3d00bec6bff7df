package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/models"
	"github.com/digkill/modelstudio/internal/service"
	"github.com/digkill/modelstudio/internal/storage"
	"github.com/digkill/modelstudio/internal/wizard"
)

var errNotImage = errors.New("file is not an image")

// API is the subset of *tgbotapi.BotAPI the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

type Bot struct {
	api        API
	log        *slog.Logger
	sessions   *wizard.Sessions
	accounts   *credits.Accounts
	tiers      *service.TierService
	payments   *service.PaymentService
	httpClient *http.Client
	wg         sync.WaitGroup
}

func NewBot(api API, log *slog.Logger, sessions *wizard.Sessions, accounts *credits.Accounts, tiers *service.TierService, payments *service.PaymentService) *Bot {
	if log == nil {
		log = slog.Default()
	}
	return &Bot{
		api:        api,
		log:        log,
		sessions:   sessions,
		accounts:   accounts,
		tiers:      tiers,
		payments:   payments,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Run polls for updates until ctx is done. Updates are handled concurrently;
// each chat's wizard serializes its own work.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				b.wg.Wait()
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleUpdate(ctx, update)
			}()
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.PreCheckoutQuery != nil:
		if err := b.payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
			b.log.Error("pre-checkout failed", "err", err)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if len(msg.Photo) > 0 || msg.Document != nil {
		if err := b.handleImage(ctx, msg); err != nil {
			if errors.Is(err, errNotImage) {
				b.sendText(chatID, "That file isn't an image. Send a photo of your product.")
			} else {
				b.log.Error("image upload failed", "err", err, "chat", chatID)
				b.sendText(chatID, "Couldn't save that photo, please try again.")
			}
		}
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	if strings.TrimSpace(msg.Text) == "" {
		return
	}
	b.handlePrompt(ctx, chatID, msg.Text)
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	profile := ProfileID(chatID)
	controller := b.sessions.Get(ctx, profile)

	switch msg.Command() {
	case "start":
		name := "there"
		if msg.From != nil && msg.From.FirstName != "" {
			name = msg.From.FirstName
		}
		onboarding := b.accounts.Onboarding(profile)
		text := fmt.Sprintf("Hi, %s!\n\nSend up to %d photos of your clothing, then describe the scene or pick a style with /styles. Each generation costs 1 credit.", name, models.MaxUploadedImages)
		if !onboarding.WelcomeSeen(ctx) {
			text += fmt.Sprintf("\n\nYou have %d free credit to try it out.", b.accounts.Ledger(profile).Balance(ctx))
			onboarding.MarkWelcomeSeen(ctx)
		}
		text += "\n\nCommands:\n/styles - pick a style\n/generate - generate with the current photos and prompt\n/balance - check credits\n/buy - buy credits\n/history - past generations\n/clear - remove uploaded photos\n/reset - start from scratch"
		b.sendText(chatID, text)
	case "styles":
		out := tgbotapi.NewMessage(chatID, "Pick a style:")
		out.ReplyMarkup = presetKeyboard(wizard.Presets())
		b.send(out)
	case "generate":
		b.generate(ctx, chatID, controller)
	case "balance":
		b.sendText(chatID, fmt.Sprintf("Balance: %d credits.", b.accounts.Ledger(profile).Balance(ctx)))
	case "buy":
		b.offerTiers(ctx, chatID, "Choose a credit pack:")
	case "history":
		records := b.accounts.History(profile).List(ctx)
		if len(records) == 0 {
			b.sendText(chatID, "No generations yet.")
			return
		}
		out := tgbotapi.NewMessage(chatID, "Your recent generations:")
		out.ReplyMarkup = historyKeyboard(records)
		b.send(out)
	case "clear":
		if _, err := controller.ClearImages(); err != nil {
			b.reportError(chatID, err)
			return
		}
		b.sendText(chatID, "Photos removed.")
	case "reset":
		if err := b.sessions.Reset(profile); err != nil {
			b.reportError(chatID, err)
			return
		}
		b.sendText(chatID, "Starting over. Send your product photos.")
	default:
		b.sendText(chatID, "Unknown command. Send /start for help.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	controller := b.sessions.Get(ctx, ProfileID(chatID))
	b.ack(cb.ID, "")

	kind, arg := parseCallback(cb.Data)
	switch kind {
	case callbackPreset:
		state, err := controller.SelectPreset(arg)
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		if arg == wizard.CustomPresetID {
			b.sendText(chatID, "Describe the scene you want.")
			return
		}
		preset, _ := wizard.PresetByID(arg)
		if state.ImageCount() == 0 {
			b.sendText(chatID, fmt.Sprintf("Style %s selected. Now send your product photos.", preset.Name))
			return
		}
		out := tgbotapi.NewMessage(chatID, fmt.Sprintf("Style %s selected.", preset.Name))
		out.ReplyMarkup = generateKeyboard()
		b.send(out)
	case callbackGenerate:
		b.generate(ctx, chatID, controller)
	case callbackAgain:
		if _, err := controller.StartOver(); err != nil {
			b.reportError(chatID, err)
			return
		}
		out := tgbotapi.NewMessage(chatID, "Your photos are kept. Pick another style or describe a new scene.")
		out.ReplyMarkup = presetKeyboard(wizard.Presets())
		b.send(out)
	case callbackBuy:
		if err := b.payments.SendTelegramInvoice(ctx, b.api, chatID, arg); err != nil {
			b.log.Error("send invoice", "err", err, "tier", arg)
			b.sendText(chatID, "Couldn't create the invoice. Please try again later.")
		}
	case callbackHistory:
		state, err := controller.SelectHistory(ctx, arg)
		if err != nil {
			b.reportError(chatID, err)
			return
		}
		b.deliverResult(chatID, state)
	default:
		b.log.Debug("unknown callback", "data", cb.Data)
	}
}

// handlePrompt treats free text as the scene description and generates.
func (b *Bot) handlePrompt(ctx context.Context, chatID int64, text string) {
	controller := b.sessions.Get(ctx, ProfileID(chatID))
	if _, ok := controller.State().Result(); ok {
		if _, err := controller.StartOver(); err != nil {
			b.reportError(chatID, err)
			return
		}
	}
	if _, err := controller.SetPrompt(text); err != nil {
		b.reportError(chatID, err)
		return
	}
	b.generate(ctx, chatID, controller)
}

func (b *Bot) generate(ctx context.Context, chatID int64, controller *wizard.Controller) {
	if controller.State().CanGenerate() && !b.accounts.Ledger(ProfileID(chatID)).NeedsPurchase(ctx) {
		b.sendText(chatID, "Generating your image, this can take a minute.")
	}
	state, err := controller.Generate(ctx)
	switch {
	case err == nil:
		b.deliverResult(chatID, state)
	case errors.Is(err, wizard.ErrPaywall):
		b.offerTiers(ctx, chatID, "You're out of credits. Choose a pack to keep generating:")
	case errors.Is(err, wizard.ErrValidation), errors.Is(err, wizard.ErrGenerationFailed):
		if errors.Is(err, wizard.ErrGenerationFailed) {
			b.log.Warn("telegram generation failed", "err", err, "chat", chatID)
		}
		b.sendText(chatID, state.LastError())
	default:
		b.reportError(chatID, err)
	}
}

func (b *Bot) deliverResult(chatID int64, state wizard.State) {
	result, ok := state.Result()
	if !ok {
		return
	}

	var photo tgbotapi.PhotoConfig
	if strings.HasPrefix(result.ImageReference, "data:") {
		mime, data, err := storage.DecodeDataURL(result.ImageReference)
		if err != nil {
			b.log.Error("decode result", "err", err)
			b.sendText(chatID, "Couldn't load the result.")
			return
		}
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
			Name:  "model" + storage.ExtensionFromContentType(mime),
			Bytes: data,
		})
	} else {
		photo = tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(result.ImageReference))
	}
	photo.Caption = shorten(result.Prompt, 200)
	photo.ReplyMarkup = resultKeyboard()
	b.send(photo)
}

func (b *Bot) offerTiers(ctx context.Context, chatID int64, text string) {
	tiers, err := b.tiers.Active(ctx)
	if err != nil {
		b.log.Error("list tiers", "err", err)
		b.sendText(chatID, "Credit packs are unavailable right now.")
		return
	}
	keyboard, ok := tierKeyboard(tiers)
	if !ok {
		b.sendText(chatID, "Credit packs are unavailable right now.")
		return
	}
	out := tgbotapi.NewMessage(chatID, text)
	out.ReplyMarkup = keyboard
	b.send(out)
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	profile := ProfileID(msg.Chat.ID)
	credited, err := b.payments.HandleTelegramPayment(ctx, profile, msg.SuccessfulPayment)
	if err != nil {
		b.log.Error("process successful payment", "err", err)
		b.sendText(msg.Chat.ID, "Payment received, but crediting failed. Please contact support.")
		return
	}
	if credited == 0 {
		return
	}
	b.sessions.Get(ctx, profile).DismissPaywall()
	b.sendText(msg.Chat.ID, fmt.Sprintf("Payment received! +%d credits. Balance: %d.", credited, b.accounts.Ledger(profile).Balance(ctx)))
}

func (b *Bot) handleImage(ctx context.Context, msg *tgbotapi.Message) error {
	var fileID, name string
	contentType := "image/jpeg"

	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		fileID = photo.FileID
		name = photo.FileUniqueID + ".jpg"
	case msg.Document != nil:
		if mt := strings.ToLower(msg.Document.MimeType); mt != "" && !strings.HasPrefix(mt, "image/") {
			return errNotImage
		}
		fileID = msg.Document.FileID
		name = msg.Document.FileName
		if msg.Document.MimeType != "" {
			contentType = msg.Document.MimeType
		}
	default:
		return nil
	}

	data, detectedType, err := b.downloadFile(ctx, fileID)
	if err != nil {
		return err
	}
	if detectedType != "" {
		contentType = detectedType
	}

	controller := b.sessions.Get(ctx, ProfileID(msg.Chat.ID))
	state, err := controller.AddImages([]models.UploadedImage{{Name: name, Data: data, MimeType: contentType}})
	if err != nil {
		b.reportError(msg.Chat.ID, err)
		return nil
	}

	text := fmt.Sprintf("Photo saved (%d/%d). ", state.ImageCount(), models.MaxUploadedImages)
	if state.CanGenerate() {
		out := tgbotapi.NewMessage(msg.Chat.ID, text+"Press Generate or send a new description.")
		out.ReplyMarkup = generateKeyboard()
		b.send(out)
		return nil
	}
	b.sendText(msg.Chat.ID, text+"Now describe the scene or pick a style with /styles.")
	return nil
}

func (b *Bot) downloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("telegram file status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file body: %w", err)
	}
	ct, err := normalizeImageContentType(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, "", err
	}
	return body, ct, nil
}

func (b *Bot) reportError(chatID int64, err error) {
	switch {
	case errors.Is(err, wizard.ErrBusy):
		b.sendText(chatID, "Still working on your image, hang on.")
	case errors.Is(err, wizard.ErrHistoryNotFound):
		b.sendText(chatID, "That generation is no longer in your history.")
	case errors.Is(err, wizard.ErrPresetNotFound):
		b.sendText(chatID, "Unknown style.")
	case errors.Is(err, wizard.ErrInvalidTransition):
		b.sendText(chatID, "That isn't possible right now. Send /reset to start over.")
	default:
		b.log.Error("telegram handler error", "err", err, "chat", chatID)
		b.sendText(chatID, "Something went wrong, please try again.")
	}
}

func (b *Bot) ack(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("telegram send", "err", err)
	}
}

func normalizeImageContentType(headerCT string, data []byte) (string, error) {
	ct := strings.ToLower(strings.TrimSpace(headerCT))
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	if ct == "" || ct == "application/octet-stream" || !strings.HasPrefix(ct, "image/") {
		if len(data) > 0 {
			ct = http.DetectContentType(data)
			if idx := strings.Index(ct, ";"); idx > 0 {
				ct = ct[:idx]
			}
		}
	}

	switch ct {
	case "image/jpeg", "image/jpg":
		return "image/jpeg", nil
	case "image/png":
		return "image/png", nil
	case "image/webp":
		return "image/webp", nil
	default:
		return "", errNotImage
	}
}

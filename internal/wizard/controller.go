package wizard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/digkill/modelstudio/internal/credits"
	"github.com/digkill/modelstudio/internal/models"
)

// Ledger is the part of the credits ledger the wizard spends from.
type Ledger interface {
	NeedsPurchase(ctx context.Context) bool
	Reserve(ctx context.Context) (*credits.Hold, bool)
	Commit(ctx context.Context, hold *credits.Hold)
	Refund(ctx context.Context, hold *credits.Hold)
}

type HistoryLog interface {
	Append(ctx context.Context, entry credits.Entry) models.GenerationRecord
	Find(ctx context.Context, id string) (models.GenerationRecord, bool)
}

// Generator calls the external image generation service.
type Generator interface {
	Generate(ctx context.Context, prompt string, images []models.UploadedImage) (*models.GeneratedImage, error)
}

// Publisher turns a generated image into a reference the front end can display.
type Publisher interface {
	Publish(ctx context.Context, image *models.GeneratedImage) (string, error)
}

// settleTimeout bounds the ledger and history writes after a generation.
const settleTimeout = 10 * time.Second

// Controller drives one profile's wizard. Mutations are serialized; while a
// generation runs every other transition fails with ErrBusy.
type Controller struct {
	mu        sync.Mutex
	state     State
	ledger    Ledger
	history   HistoryLog
	generator Generator
	publisher Publisher
	log       *slog.Logger
	timeout   time.Duration
	touched   time.Time
}

func NewController(ledger Ledger, history HistoryLog, generator Generator, publisher Publisher, log *slog.Logger, timeout time.Duration) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		ledger:    ledger,
		history:   history,
		generator: generator,
		publisher: publisher,
		log:       log,
		timeout:   timeout,
		touched:   time.Now(),
	}
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) Upload(images []models.UploadedImage) (State, error) {
	return c.apply(UploadImages{Images: images})
}

func (c *Controller) AddImages(images []models.UploadedImage) (State, error) {
	return c.apply(AddImages{Images: images})
}

func (c *Controller) RemoveImage(index int) (State, error) {
	return c.apply(RemoveImage{Index: index})
}

func (c *Controller) ClearImages() (State, error) {
	return c.apply(ClearImages{})
}

func (c *Controller) SetPrompt(prompt string) (State, error) {
	return c.apply(SetPrompt{Prompt: prompt})
}

func (c *Controller) SelectPreset(id string) (State, error) {
	preset, ok := PresetByID(id)
	if !ok {
		return c.State(), fmt.Errorf("%w: %s", ErrPresetNotFound, id)
	}
	return c.apply(SelectPreset{Preset: preset})
}

func (c *Controller) DismissPaywall() (State, error) {
	return c.apply(DismissPaywall{})
}

func (c *Controller) StartOver() (State, error) {
	return c.apply(StartOver{})
}

// SelectHistory shows a past generation on the result step.
func (c *Controller) SelectHistory(ctx context.Context, id string) (State, error) {
	record, ok := c.history.Find(ctx, id)
	if !ok {
		return c.State(), fmt.Errorf("%w: %s", ErrHistoryNotFound, id)
	}
	return c.apply(ShowHistoryEntry{Record: record})
}

// Generate runs one generation to completion. It validates the inputs, debits a
// credit, calls the generator and either records the result or refunds the
// credit. Once started the generation is not tied to ctx cancellation, only to
// the controller timeout.
func (c *Controller) Generate(ctx context.Context) (State, error) {
	c.mu.Lock()
	c.touched = time.Now()

	next, err := Reduce(c.state, BeginGeneration{})
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.state = next
		}
		state := c.state
		c.mu.Unlock()
		return state, err
	}

	if c.ledger.NeedsPurchase(ctx) {
		return c.paywall()
	}
	hold, ok := c.ledger.Reserve(ctx)
	if !ok {
		// The balance ran out between the check and the debit.
		return c.paywall()
	}

	c.state = next
	prompt := strings.TrimSpace(next.prompt)
	images := next.Images()
	c.mu.Unlock()

	runCtx := context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(runCtx, c.timeout)
		defer cancel()
	}

	started := time.Now()
	reference, genErr := c.run(runCtx, prompt, images)

	// runCtx may have expired; settling gets its own deadline.
	settleCtx, cancelSettle := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancelSettle()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = time.Now()

	if genErr != nil {
		c.ledger.Refund(settleCtx, hold)
		c.log.Error("generation failed", "err", genErr, "images", len(images), "elapsed", time.Since(started))
		c.state, _ = Reduce(c.state, GenerationFailed{Message: failureMessage(genErr)})
		return c.state, fmt.Errorf("%w: %w", ErrGenerationFailed, genErr)
	}

	record := c.history.Append(settleCtx, credits.Entry{
		ImageReference: reference,
		Prompt:         prompt,
		CreditsUsed:    1,
	})
	c.ledger.Commit(settleCtx, hold)
	c.log.Info("generation completed", "record", record.ID, "images", len(images), "elapsed", time.Since(started))

	c.state, err = Reduce(c.state, GenerationSucceeded{Result: Result{
		ImageReference: reference,
		Prompt:         prompt,
		RecordID:       record.ID,
	}})
	return c.state, err
}

func (c *Controller) run(ctx context.Context, prompt string, images []models.UploadedImage) (string, error) {
	image, err := c.generator.Generate(ctx, prompt, images)
	if err != nil {
		return "", err
	}
	if image == nil {
		return "", fmt.Errorf("generator returned no image")
	}
	reference, err := c.publisher.Publish(ctx, image)
	if err != nil {
		return "", fmt.Errorf("publish result: %w", err)
	}
	if reference == "" {
		return "", fmt.Errorf("publish result: empty reference")
	}
	return reference, nil
}

// paywall must be called with c.mu held; it releases it.
func (c *Controller) paywall() (State, error) {
	c.state, _ = Reduce(c.state, ShowPaywall{})
	state := c.state
	c.mu.Unlock()
	return state, ErrPaywall
}

func (c *Controller) apply(ev Event) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.touched = time.Now()
	next, err := Reduce(c.state, ev)
	if err == nil || errors.Is(err, ErrValidation) {
		c.state = next
	}
	return c.state, err
}

// idleSince reports when the controller was last used and whether it can be
// dropped, which is never the case mid-generation.
func (c *Controller) idleSince() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.touched, !c.state.Generating()
}

func failureMessage(err error) string {
	var rejected *models.RejectedError
	if errors.As(err, &rejected) && strings.TrimSpace(rejected.Reason) != "" {
		return "The image service declined this request: " + strings.TrimSpace(rejected.Reason) + " Your credit has been refunded."
	}
	return msgGenerationFailed
}

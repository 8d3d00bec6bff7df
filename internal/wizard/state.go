package wizard

import (
	"fmt"
	"strings"

	"github.com/digkill/modelstudio/internal/models"
)

type Step int

const (
	StepUpload Step = iota
	StepDescribe
	StepGenerating
	StepResult
)

func (s Step) String() string {
	switch s {
	case StepUpload:
		return "upload"
	case StepDescribe:
		return "describe"
	case StepGenerating:
		return "generating"
	case StepResult:
		return "result"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

func (s Step) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type phase int

const (
	phaseEditing phase = iota
	phaseGenerating
	phaseResult
)

// Result is the image shown on the result step.
type Result struct {
	ImageReference string `json:"imageReference"`
	Prompt         string `json:"prompt"`
	RecordID       string `json:"recordId,omitempty"`
}

// State is one profile's wizard. The zero value is the initial Upload step.
// Fields are only changed through Reduce, so a Result step always carries an
// image reference and a Generating step never does.
type State struct {
	phase     phase
	images    []models.UploadedImage
	prompt    string
	presetID  string
	lastError string
	paywall   bool
	result    Result
}

// Step is derived from the rest of the state.
func (s State) Step() Step {
	switch {
	case s.phase == phaseGenerating:
		return StepGenerating
	case s.phase == phaseResult:
		return StepResult
	case len(s.images) > 0:
		return StepDescribe
	default:
		return StepUpload
	}
}

// Images returns a copy of the uploaded images in upload order.
func (s State) Images() []models.UploadedImage {
	return append([]models.UploadedImage(nil), s.images...)
}

func (s State) ImageCount() int { return len(s.images) }
func (s State) Prompt() string { return s.prompt }
func (s State) PresetID() string { return s.presetID }
func (s State) LastError() string { return s.lastError }
func (s State) PaywallShown() bool { return s.paywall }
func (s State) Generating() bool { return s.phase == phaseGenerating }

// Result returns the shown image; ok is false unless the step is Result.
func (s State) Result() (Result, bool) {
	if s.phase != phaseResult {
		return Result{}, false
	}
	return s.result, true
}

// Event is an input to Reduce.
type Event interface {
	event()
}

// UploadImages replaces the uploaded set, keeping the first MaxUploadedImages.
type UploadImages struct{ Images []models.UploadedImage }

// AddImages appends to the uploaded set, keeping the most recent MaxUploadedImages.
type AddImages struct{ Images []models.UploadedImage }

type RemoveImage struct{ Index int }

type ClearImages struct{}

type SetPrompt struct{ Prompt string }

// SelectPreset replaces the prompt with the preset's. The custom preset clears it.
type SelectPreset struct{ Preset models.StylePreset }

// BeginGeneration validates the inputs and enters Generating. The credit check
// happens outside the reducer, before this event is applied.
type BeginGeneration struct{}

type ShowPaywall struct{}

type DismissPaywall struct{}

type GenerationSucceeded struct{ Result Result }

type GenerationFailed struct{ Message string }

type StartOver struct{}

// ShowHistoryEntry jumps straight to Result with a past generation.
type ShowHistoryEntry struct{ Record models.GenerationRecord }

func (UploadImages) event() {}
func (AddImages) event() {}
func (RemoveImage) event() {}
func (ClearImages) event() {}
func (SetPrompt) event() {}
func (SelectPreset) event() {}
func (BeginGeneration) event() {}
func (ShowPaywall) event() {}
func (DismissPaywall) event() {}
func (GenerationSucceeded) event() {}
func (GenerationFailed) event() {}
func (StartOver) event() {}
func (ShowHistoryEntry) event() {}

// Reduce applies ev to s and returns the next state. It performs no I/O. On a
// validation error the returned state carries the message in LastError and the
// step does not change; on any other error the state is returned unchanged.
func Reduce(s State, ev Event) (State, error) {
	if s.phase == phaseGenerating {
		switch ev.(type) {
		case GenerationSucceeded, GenerationFailed:
		default:
			return s, ErrBusy
		}
	}

	next := s
	next.images = append([]models.UploadedImage(nil), s.images...)

	switch e := ev.(type) {
	case UploadImages:
		if len(e.Images) == 0 {
			return next.withError(msgNeedImages), fmt.Errorf("%w: %s", ErrValidation, msgNeedImages)
		}
		images := e.Images
		if len(images) > models.MaxUploadedImages {
			images = images[:models.MaxUploadedImages]
		}
		next.images = append([]models.UploadedImage(nil), images...)
		next.leaveResult()
		next.lastError = ""

	case AddImages:
		if len(e.Images) == 0 {
			return s, nil
		}
		next.images = append(next.images, e.Images...)
		if len(next.images) > models.MaxUploadedImages {
			next.images = next.images[len(next.images)-models.MaxUploadedImages:]
		}
		next.leaveResult()
		next.lastError = ""

	case RemoveImage:
		if e.Index < 0 || e.Index >= len(next.images) {
			return s, fmt.Errorf("%w: no image at index %d", ErrInvalidTransition, e.Index)
		}
		next.images = append(next.images[:e.Index], next.images[e.Index+1:]...)

	case ClearImages:
		next.images = nil

	case SetPrompt:
		next.prompt = e.Prompt
		next.presetID = ""
		if next.lastError == msgNeedPrompt && strings.TrimSpace(e.Prompt) != "" {
			next.lastError = ""
		}

	case SelectPreset:
		next.presetID = e.Preset.ID
		next.prompt = e.Preset.Prompt

	case BeginGeneration:
		if s.phase != phaseEditing {
			return s, fmt.Errorf("%w: generate from %s", ErrInvalidTransition, s.Step())
		}
		if msg := validateGeneration(s); msg != "" {
			return next.withError(msg), fmt.Errorf("%w: %s", ErrValidation, msg)
		}
		next.phase = phaseGenerating
		next.lastError = ""
		next.paywall = false
		next.result = Result{}

	case ShowPaywall:
		next.paywall = true

	case DismissPaywall:
		next.paywall = false

	case GenerationSucceeded:
		if s.phase != phaseGenerating {
			return s, fmt.Errorf("%w: result outside generation", ErrInvalidTransition)
		}
		if e.Result.ImageReference == "" {
			return s, fmt.Errorf("%w: result without image reference", ErrInvalidTransition)
		}
		next.phase = phaseResult
		next.result = e.Result

	case GenerationFailed:
		if s.phase != phaseGenerating {
			return s, fmt.Errorf("%w: failure outside generation", ErrInvalidTransition)
		}
		next.phase = phaseEditing
		next.lastError = e.Message
		if next.lastError == "" {
			next.lastError = msgGenerationFailed
		}

	case StartOver:
		next.leaveResult()
		next.lastError = ""

	case ShowHistoryEntry:
		if e.Record.ImageReference == "" {
			return s, fmt.Errorf("%w: history entry without image", ErrInvalidTransition)
		}
		next.phase = phaseResult
		next.lastError = ""
		next.paywall = false
		next.result = Result{
			ImageReference: e.Record.ImageReference,
			Prompt:         e.Record.Prompt,
			RecordID:       e.Record.ID,
		}

	default:
		return s, fmt.Errorf("%w: unknown event %T", ErrInvalidTransition, ev)
	}

	return next, nil
}

// CanGenerate reports whether BeginGeneration would pass validation.
func (s State) CanGenerate() bool {
	return s.phase == phaseEditing && validateGeneration(s) == ""
}

func validateGeneration(s State) string {
	if len(s.images) == 0 {
		return msgNeedImages
	}
	if strings.TrimSpace(s.prompt) == "" {
		return msgNeedPrompt
	}
	return ""
}

func (s State) withError(msg string) State {
	s.lastError = msg
	return s
}

func (s *State) leaveResult() {
	if s.phase == phaseResult {
		s.phase = phaseEditing
		s.result = Result{}
	}
}

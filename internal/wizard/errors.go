package wizard

import "errors"

var (
	ErrValidation        = errors.New("validation failed")
	ErrPaywall           = errors.New("insufficient credits, purchase required")
	ErrBusy              = errors.New("generation already in progress")
	ErrInvalidTransition = errors.New("invalid wizard transition")
	ErrGenerationFailed  = errors.New("generation failed")
	ErrHistoryNotFound   = errors.New("history entry not found")
	ErrPresetNotFound    = errors.New("style preset not found")
)

const (
	msgNeedImages       = "Please upload at least one product photo."
	msgNeedPrompt       = "Please describe the scene or pick a style."
	msgGenerationFailed = "We couldn't generate your image. Your credit has been refunded, please try again."
)

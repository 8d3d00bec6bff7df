package wizard

import "github.com/digkill/modelstudio/internal/models"

// CustomPresetID is the preset whose prompt the user writes themselves.
const CustomPresetID = "custom"

var presets = []models.StylePreset{
	{
		ID:          "studio",
		Name:        "Studio Pro",
		Description: "Clean, professional studio background",
		Prompt:      "A professional model in a modern studio setting, wearing the provided clothing in natural lighting with a clean white background. High-end fashion photography style.",
	},
	{
		ID:          "casual",
		Name:        "Lifestyle",
		Description: "Natural, everyday look",
		Prompt:      "A casual model wearing the provided clothing in a bright, modern lifestyle setting with natural lighting. Relaxed, approachable atmosphere.",
	},
	{
		ID:          "outdoor",
		Name:        "Outdoor",
		Description: "Fresh outdoor environment",
		Prompt:      "A model wearing the provided clothing outdoors in natural daylight with a blurred urban or nature background. Fresh, energetic vibe.",
	},
	{
		ID:          "editorial",
		Name:        "Editorial",
		Description: "High-fashion magazine style",
		Prompt:      "A fashion model wearing the provided clothing in a high-fashion editorial style with dramatic lighting and a minimalist background. Vogue-style photography.",
	},
	{
		ID:          "ecommerce",
		Name:        "E-commerce",
		Description: "Perfect for product listings",
		Prompt:      "A model wearing the provided clothing on a pure white background, centered, full body shot, perfect for e-commerce product listing. Clean and simple.",
	},
	{
		ID:          CustomPresetID,
		Name:        "Custom",
		Description: "Write your own description",
	},
}

// Presets returns the built-in style presets in display order.
func Presets() []models.StylePreset {
	return append([]models.StylePreset(nil), presets...)
}

func PresetByID(id string) (models.StylePreset, bool) {
	for _, p := range presets {
		if p.ID == id {
			return p, true
		}
	}
	return models.StylePreset{}, false
}

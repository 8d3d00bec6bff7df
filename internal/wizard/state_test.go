package wizard

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/modelstudio/internal/models"
)

func photos(n int) []models.UploadedImage {
	images := make([]models.UploadedImage, n)
	for i := range images {
		images[i] = models.UploadedImage{
			Name:     fmt.Sprintf("photo-%d.jpg", i),
			Data:     []byte{byte(i)},
			MimeType: "image/jpeg",
		}
	}
	return images
}

func mustReduce(t *testing.T, s State, ev Event) State {
	t.Helper()
	next, err := Reduce(s, ev)
	require.NoError(t, err)
	return next
}

func TestZeroStateIsUpload(t *testing.T) {
	var s State
	assert.Equal(t, StepUpload, s.Step())
	assert.False(t, s.CanGenerate())
	_, ok := s.Result()
	assert.False(t, ok)
}

func TestUploadMovesToDescribe(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(2)})
	assert.Equal(t, StepDescribe, s.Step())
	assert.Equal(t, 2, s.ImageCount())
}

func TestUploadEmptyIsValidationError(t *testing.T) {
	s, err := Reduce(State{}, UploadImages{})
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, StepUpload, s.Step())
	assert.Equal(t, msgNeedImages, s.LastError())
}

func TestUploadKeepsFirstFive(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(7)})
	images := s.Images()
	require.Len(t, images, models.MaxUploadedImages)
	assert.Equal(t, "photo-0.jpg", images[0].Name)
	assert.Equal(t, "photo-4.jpg", images[4].Name)
}

func TestAddImagesKeepsMostRecentFive(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(4)})
	s = mustReduce(t, s, AddImages{Images: []models.UploadedImage{{Name: "a.jpg"}, {Name: "b.jpg"}}})
	images := s.Images()
	require.Len(t, images, models.MaxUploadedImages)
	assert.Equal(t, "photo-1.jpg", images[0].Name)
	assert.Equal(t, "b.jpg", images[4].Name)
}

func TestRemoveLastImageReturnsToUpload(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(1)})
	s = mustReduce(t, s, RemoveImage{Index: 0})
	assert.Equal(t, StepUpload, s.Step())

	_, err := Reduce(s, RemoveImage{Index: 0})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestImagesReturnsCopy(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(2)})
	images := s.Images()
	images[0].Name = "changed"
	assert.Equal(t, "photo-0.jpg", s.Images()[0].Name)
}

func TestReduceDoesNotAliasPreviousState(t *testing.T) {
	before := mustReduce(t, State{}, UploadImages{Images: photos(3)})
	after := mustReduce(t, before, RemoveImage{Index: 0})
	assert.Equal(t, 3, before.ImageCount())
	assert.Equal(t, "photo-0.jpg", before.Images()[0].Name)
	assert.Equal(t, 2, after.ImageCount())
}

func TestBeginGenerationValidation(t *testing.T) {
	cases := []struct {
		name   string
		state  State
		errMsg string
	}{
		{name: "no images", state: mustReduce(t, State{}, SetPrompt{Prompt: "a model"}), errMsg: msgNeedImages},
		{name: "blank prompt", state: mustReduce(t, mustReduce(t, State{}, UploadImages{Images: photos(1)}), SetPrompt{Prompt: "   \n"}), errMsg: msgNeedPrompt},
		{name: "empty prompt", state: mustReduce(t, State{}, UploadImages{Images: photos(1)}), errMsg: msgNeedPrompt},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			step := tc.state.Step()
			next, err := Reduce(tc.state, BeginGeneration{})
			require.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, step, next.Step())
			assert.False(t, next.Generating())
			assert.Equal(t, tc.errMsg, next.LastError())
		})
	}
}

func generatingState(t *testing.T) State {
	t.Helper()
	s := mustReduce(t, State{}, UploadImages{Images: photos(1)})
	s = mustReduce(t, s, SetPrompt{Prompt: "on a beach"})
	return mustReduce(t, s, BeginGeneration{})
}

func TestGeneratingRejectsEdits(t *testing.T) {
	s := generatingState(t)
	require.Equal(t, StepGenerating, s.Step())

	events := []Event{
		UploadImages{Images: photos(1)},
		AddImages{Images: photos(1)},
		RemoveImage{Index: 0},
		ClearImages{},
		SetPrompt{Prompt: "x"},
		BeginGeneration{},
		StartOver{},
		ShowPaywall{},
	}
	for _, ev := range events {
		next, err := Reduce(s, ev)
		assert.ErrorIs(t, err, ErrBusy, "%T", ev)
		assert.Equal(t, StepGenerating, next.Step(), "%T", ev)
	}
}

func TestGenerationSucceededRequiresReference(t *testing.T) {
	s := generatingState(t)
	_, err := Reduce(s, GenerationSucceeded{})
	require.ErrorIs(t, err, ErrInvalidTransition)

	s = mustReduce(t, s, GenerationSucceeded{Result: Result{ImageReference: "https://cdn/out.png", Prompt: "on a beach"}})
	assert.Equal(t, StepResult, s.Step())
	result, ok := s.Result()
	require.True(t, ok)
	assert.Equal(t, "https://cdn/out.png", result.ImageReference)
}

func TestGenerationFailedReturnsToDescribe(t *testing.T) {
	s := mustReduce(t, generatingState(t), GenerationFailed{})
	assert.Equal(t, StepDescribe, s.Step())
	assert.Equal(t, msgGenerationFailed, s.LastError())
	assert.Equal(t, "on a beach", s.Prompt())
	assert.Equal(t, 1, s.ImageCount())
}

func TestStartOverKeepsInputs(t *testing.T) {
	s := mustReduce(t, generatingState(t), GenerationSucceeded{Result: Result{ImageReference: "ref"}})
	s = mustReduce(t, s, StartOver{})
	assert.Equal(t, StepDescribe, s.Step())
	assert.Equal(t, "on a beach", s.Prompt())
	_, ok := s.Result()
	assert.False(t, ok)
}

func TestUploadFromResultLeavesResult(t *testing.T) {
	s := mustReduce(t, generatingState(t), GenerationSucceeded{Result: Result{ImageReference: "ref"}})
	s = mustReduce(t, s, UploadImages{Images: photos(2)})
	assert.Equal(t, StepDescribe, s.Step())
	assert.Equal(t, 2, s.ImageCount())
}

func TestBeginGenerationOnlyFromEditing(t *testing.T) {
	s := mustReduce(t, generatingState(t), GenerationSucceeded{Result: Result{ImageReference: "ref"}})
	next, err := Reduce(s, BeginGeneration{})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StepResult, next.Step())
}

func TestPresetAndPrompt(t *testing.T) {
	studio, ok := PresetByID("studio")
	require.True(t, ok)

	s := mustReduce(t, State{}, SelectPreset{Preset: studio})
	assert.Equal(t, "studio", s.PresetID())
	assert.Equal(t, studio.Prompt, s.Prompt())

	s = mustReduce(t, s, SetPrompt{Prompt: "my own words"})
	assert.Empty(t, s.PresetID())
	assert.Equal(t, "my own words", s.Prompt())

	custom, ok := PresetByID(CustomPresetID)
	require.True(t, ok)
	s = mustReduce(t, s, SelectPreset{Preset: custom})
	assert.Equal(t, CustomPresetID, s.PresetID())
	assert.Empty(t, s.Prompt())
}

func TestShowHistoryEntry(t *testing.T) {
	s := mustReduce(t, State{}, ShowHistoryEntry{Record: models.GenerationRecord{ID: "r1", ImageReference: "ref", Prompt: "old"}})
	assert.Equal(t, StepResult, s.Step())
	result, _ := s.Result()
	assert.Equal(t, "r1", result.RecordID)

	_, err := Reduce(State{}, ShowHistoryEntry{Record: models.GenerationRecord{ID: "r2"}})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestShowHistoryEntryClearsPaywall(t *testing.T) {
	s := mustReduce(t, State{}, UploadImages{Images: photos(1)})
	s = mustReduce(t, s, ShowPaywall{})
	require.True(t, s.PaywallShown())

	s = mustReduce(t, s, ShowHistoryEntry{Record: models.GenerationRecord{ID: "r1", ImageReference: "ref"}})
	assert.Equal(t, StepResult, s.Step())
	assert.False(t, s.PaywallShown())
}

func TestPaywallFlag(t *testing.T) {
	s := mustReduce(t, State{}, ShowPaywall{})
	assert.True(t, s.PaywallShown())
	s = mustReduce(t, s, DismissPaywall{})
	assert.False(t, s.PaywallShown())
}

func TestPresetsCatalogue(t *testing.T) {
	list := Presets()
	require.Len(t, list, 6)
	ids := make([]string, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"studio", "casual", "outdoor", "editorial", "ecommerce", "custom"}, ids)

	list[0].Name = "changed"
	assert.Equal(t, "Studio Pro", Presets()[0].Name)

	_, ok := PresetByID("nope")
	assert.False(t, ok)
}

func TestStepMarshalText(t *testing.T) {
	text, err := StepResult.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "result", string(text))
}

package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/digkill/modelstudio/internal/models"
)

type fakeModels struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
	err      error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model, f.contents, f.config = model, contents, config
	return f.resp, f.err
}

func imageResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}},
	}
}

func TestGenerateSendsPromptAndImages(t *testing.T) {
	fake := &fakeModels{resp: imageResponse(
		&genai.Part{Text: "Here you go"},
		&genai.Part{InlineData: &genai.Blob{Data: []byte("png"), MIMEType: "image/png"}},
	)}
	client := newClient(fake, "", nil)

	image, err := client.Generate(context.Background(), "studio shot", []models.UploadedImage{
		{Data: []byte("a"), MimeType: "image/webp"},
		{Data: []byte("b")},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), image.Bytes)
	assert.Equal(t, "image/png", image.MimeType)

	assert.Equal(t, DefaultModel, fake.model)
	require.Len(t, fake.contents, 1)
	parts := fake.contents[0].Parts
	require.Len(t, parts, 3)
	assert.Equal(t, "studio shot", parts[0].Text)
	assert.Equal(t, "image/webp", parts[1].InlineData.MIMEType)
	assert.Equal(t, "image/jpeg", parts[2].InlineData.MIMEType)
	assert.Equal(t, []string{"TEXT", "IMAGE"}, fake.config.ResponseModalities)
}

func TestGenerateWrapsCallError(t *testing.T) {
	client := newClient(&fakeModels{err: errors.New("quota")}, "custom-model", nil)
	_, err := client.Generate(context.Background(), "x", nil)
	require.ErrorContains(t, err, "quota")
}

func TestExtractImageTextOnlyIsRejection(t *testing.T) {
	_, err := extractImage(imageResponse(&genai.Part{Text: "I can't edit photos of people."}))
	var rejected *models.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, "I can't edit photos of people.", rejected.Reason)
}

func TestExtractImageBlockedPrompt(t *testing.T) {
	resp := &genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReason("SAFETY")}}
	_, err := extractImage(resp)
	var rejected *models.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, rejected.Reason, "SAFETY")
}

func TestExtractImageEmpty(t *testing.T) {
	_, err := extractImage(nil)
	assert.Error(t, err)
	_, err = extractImage(&genai.GenerateContentResponse{})
	assert.Error(t, err)
	_, err = extractImage(imageResponse())
	var rejected *models.RejectedError
	assert.Error(t, err)
	assert.False(t, errors.As(err, &rejected))
}

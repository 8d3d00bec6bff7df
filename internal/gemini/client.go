package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/digkill/modelstudio/internal/models"
)

const DefaultModel = "gemini-2.5-flash-image"

// contentGenerator is the slice of *genai.Models the client calls.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client generates images with a Gemini image model in a single request: the
// prompt and the product photos go in, the first inline image comes back.
type Client struct {
	models contentGenerator
	model  string
	log    *slog.Logger
}

func New(ctx context.Context, apiKey, model string, log *slog.Logger) (*Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newClient(client.Models, model, log), nil
}

func newClient(backend contentGenerator, model string, log *slog.Logger) *Client {
	if model == "" {
		model = DefaultModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{models: backend, model: model, log: log.With("generator", "gemini", "model", model)}
}

func (c *Client) Generate(ctx context.Context, prompt string, images []models.UploadedImage) (*models.GeneratedImage, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, &genai.Part{Text: prompt})
	for _, img := range images {
		mime := img.MimeType
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: mime}})
	}

	resp, err := c.models.GenerateContent(ctx, c.model,
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	)
	if err != nil {
		return nil, fmt.Errorf("generate content: %w", err)
	}

	image, err := extractImage(resp)
	if err != nil {
		c.log.Warn("gemini returned no image", "err", err)
		return nil, err
	}
	c.log.Info("gemini image generated", "mime", image.MimeType, "bytes", len(image.Bytes))
	return image, nil
}

// extractImage returns the first inline image of the first candidate. Without
// one, the reply text or the block reason becomes a RejectedError.
func extractImage(resp *genai.GenerateContentResponse) (*models.GeneratedImage, error) {
	if resp == nil {
		return nil, fmt.Errorf("empty response")
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		reason := resp.PromptFeedback.BlockReasonMessage
		if reason == "" {
			reason = "The request was blocked (" + string(resp.PromptFeedback.BlockReason) + ")."
		}
		return nil, &models.RejectedError{Reason: reason}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, fmt.Errorf("response has no candidates")
	}

	var text []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/png"
			}
			return &models.GeneratedImage{Bytes: part.InlineData.Data, MimeType: mime}, nil
		}
		if t := strings.TrimSpace(part.Text); t != "" {
			text = append(text, t)
		}
	}
	if len(text) > 0 {
		return nil, &models.RejectedError{Reason: strings.Join(text, " ")}
	}
	return nil, fmt.Errorf("response has no image (finish reason %s)", resp.Candidates[0].FinishReason)
}

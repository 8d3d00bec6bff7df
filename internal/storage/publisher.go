package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/digkill/modelstudio/internal/models"
)

// ObjectUploader is satisfied by *Uploader.
type ObjectUploader interface {
	Upload(ctx context.Context, data []byte, contentType, folder string) (string, error)
}

// ResultPublisher turns generated images into references the front ends can
// show: hosted URLs pass through, bytes go to the bucket when there is one and
// become a data URI otherwise.
type ResultPublisher struct {
	uploader ObjectUploader
}

// NewResultPublisher accepts a nil uploader, in which case bytes are inlined.
func NewResultPublisher(uploader ObjectUploader) *ResultPublisher {
	return &ResultPublisher{uploader: uploader}
}

func (p *ResultPublisher) Publish(ctx context.Context, image *models.GeneratedImage) (string, error) {
	if image == nil {
		return "", fmt.Errorf("no image to publish")
	}
	if image.URL != "" {
		return image.URL, nil
	}
	if len(image.Bytes) == 0 {
		return "", fmt.Errorf("image has neither url nor data")
	}
	mime := image.MimeType
	if mime == "" {
		mime = "image/png"
	}
	if p.uploader == nil {
		return DataURL(mime, image.Bytes), nil
	}
	url, err := p.uploader.Upload(ctx, image.Bytes, mime, FolderResults)
	if err != nil {
		return "", fmt.Errorf("store result: %w", err)
	}
	return url, nil
}

func DataURL(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URI into its mime type and bytes.
func DecodeDataURL(raw string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return "", nil, fmt.Errorf("not a data url")
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, fmt.Errorf("data url without payload")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, fmt.Errorf("data url is not base64 encoded")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("decode data url: %w", err)
	}
	return mime, data, nil
}

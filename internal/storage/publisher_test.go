package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/modelstudio/internal/models"
)

type recordingUploader struct {
	folder      string
	contentType string
	data        []byte
	err         error
}

func (u *recordingUploader) Upload(_ context.Context, data []byte, contentType, folder string) (string, error) {
	u.folder, u.contentType, u.data = folder, contentType, data
	if u.err != nil {
		return "", u.err
	}
	return "https://cdn.example.com/" + folder + "/out.png", nil
}

func TestPublishPassesURLThrough(t *testing.T) {
	uploader := &recordingUploader{}
	ref, err := NewResultPublisher(uploader).Publish(context.Background(), &models.GeneratedImage{URL: "https://kie/out.png"})
	require.NoError(t, err)
	assert.Equal(t, "https://kie/out.png", ref)
	assert.Nil(t, uploader.data)
}

func TestPublishUploadsBytes(t *testing.T) {
	uploader := &recordingUploader{}
	ref, err := NewResultPublisher(uploader).Publish(context.Background(), &models.GeneratedImage{Bytes: []byte{1, 2}, MimeType: "image/webp"})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/results/out.png", ref)
	assert.Equal(t, FolderResults, uploader.folder)
	assert.Equal(t, "image/webp", uploader.contentType)
}

func TestPublishUploadFailure(t *testing.T) {
	uploader := &recordingUploader{err: errors.New("denied")}
	_, err := NewResultPublisher(uploader).Publish(context.Background(), &models.GeneratedImage{Bytes: []byte{1}})
	require.Error(t, err)
}

func TestPublishInlinesWithoutStorage(t *testing.T) {
	ref, err := NewResultPublisher(nil).Publish(context.Background(), &models.GeneratedImage{Bytes: []byte("png")})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,cG5n", ref)

	mime, data, err := DecodeDataURL(ref)
	require.NoError(t, err)
	assert.Equal(t, "image/png", mime)
	assert.Equal(t, []byte("png"), data)
}

func TestPublishRejectsEmptyImage(t *testing.T) {
	_, err := NewResultPublisher(nil).Publish(context.Background(), &models.GeneratedImage{})
	assert.Error(t, err)
	_, err = NewResultPublisher(nil).Publish(context.Background(), nil)
	assert.Error(t, err)
}

func TestDecodeDataURLErrors(t *testing.T) {
	for _, raw := range []string{"https://x", "data:image/png;base64", "data:image/png,abc", "data:image/png;base64,!!"} {
		_, _, err := DecodeDataURL(raw)
		assert.Error(t, err, raw)
	}
}

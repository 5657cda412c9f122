package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingUploader struct {
	uploads []UploadParams
	err     error
}

func (u *recordingUploader) Upload(_ context.Context, p UploadParams) error {
	if u.err != nil {
		return u.err
	}
	u.uploads = append(u.uploads, p)
	return nil
}

type recordingInvalidator struct {
	paths [][]string
}

func (i *recordingInvalidator) Invalidate(_ context.Context, paths []string) error {
	i.paths = append(i.paths, paths)
	return nil
}

func TestPublish(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	persisted, err := s.Persist(ctx, artifacts(2))
	require.NoError(t, err)

	uploader := &recordingUploader{}
	invalidator := &recordingInvalidator{}
	require.NoError(t, Publish(ctx, uploader, invalidator, persisted))

	require.Len(t, uploader.uploads, 4)
	assert.Equal(t, "generated_20240309_140507_0.png", uploader.uploads[0].Name)
	assert.Equal(t, "image/png", uploader.uploads[0].ContentType)
	assert.Equal(t, []byte("png-bytes-0"), uploader.uploads[0].Data)
	assert.Equal(t, "metadata_20240309_140507_0.json", uploader.uploads[1].Name)
	assert.Equal(t, "application/json", uploader.uploads[1].ContentType)
	assert.Equal(t, map[string]string{
		"id":        "20240309_140507_0",
		"timestamp": "20240309_140507",
		"style":     persisted[0].Metadata.Parameters.Style,
	}, uploader.uploads[1].Metadata)
	assert.NotContains(t, uploader.uploads[0].Metadata, "prompt")

	require.Len(t, invalidator.paths, 1)
	assert.Equal(t, []string{
		"/generated_20240309_140507_0.png",
		"/metadata_20240309_140507_0.json",
		"/generated_20240309_140507_1.png",
		"/metadata_20240309_140507_1.json",
	}, invalidator.paths[0])
}

func TestPublish_UploadFailureSkipsInvalidation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	persisted, err := s.Persist(ctx, artifacts(1))
	require.NoError(t, err)

	boom := errors.New("boom")
	invalidator := &recordingInvalidator{}
	err = Publish(ctx, &recordingUploader{err: boom}, invalidator, persisted)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, invalidator.paths)
}

func TestPublish_Nothing(t *testing.T) {
	invalidator := &recordingInvalidator{}
	require.NoError(t, Publish(context.Background(), NopUploader{}, invalidator, nil))
	assert.Empty(t, invalidator.paths)
}

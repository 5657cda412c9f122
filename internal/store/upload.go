package store

import (
	"context"
	"os"

	"github.com/dmorgan81/stabilitystudio/internal/log"
)

type UploadParams struct {
	Name        string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

type Uploader interface {
	Upload(context.Context, UploadParams) error
}

// NopUploader is used when no publish bucket is configured.
type NopUploader struct{}

func (NopUploader) Upload(context.Context, UploadParams) error { return nil }

// UploadsFor returns the objects mirrored for one persisted pair.
func UploadsFor(p Persisted) ([]UploadParams, error) {
	img, err := os.ReadFile(p.ImagePath)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: p.ImagePath, Err: err}
	}
	meta, err := os.ReadFile(p.MetadataPath)
	if err != nil {
		return nil, &PersistenceError{Op: "read", Path: p.MetadataPath, Err: err}
	}

	// the prompt is free text and lives only in the metadata document
	tags := map[string]string{
		"id":        p.ID,
		"timestamp": p.Metadata.Timestamp,
		"style":     p.Metadata.Parameters.Style,
	}
	return []UploadParams{
		{Name: imagePrefix + p.ID + imageSuffix, Data: img, ContentType: "image/png", Metadata: tags},
		{Name: metadataPrefix + p.ID + metadataSuffix, Data: meta, ContentType: "application/json", Metadata: tags},
	}, nil
}

// Publish mirrors persisted pairs through the uploader and invalidates their paths.
func Publish(ctx context.Context, uploader Uploader, invalidator Invalidator, persisted []Persisted) error {
	log := log.FromContextOrDiscard(ctx).WithGroup("publish")

	var paths []string
	for _, p := range persisted {
		uploads, err := UploadsFor(p)
		if err != nil {
			return err
		}
		for _, u := range uploads {
			if err := uploader.Upload(ctx, u); err != nil {
				return err
			}
			paths = append(paths, "/"+u.Name)
		}
	}
	if len(paths) == 0 {
		return nil
	}
	log.Debug("published artifacts", "paths", paths)
	return invalidator.Invalidate(ctx, paths)
}

// Package photos ingests before/after evidence photos: decode, normalize,
// store, and hand back the stable URI that goes on the job record.
package photos

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"github.com/mistriworks/backend/internal/models"
)

// DefaultMaxEdge caps the longest side of a stored photo.
const DefaultMaxEdge = 1600

// Ingestor validates and normalizes incoming photo bytes before upload.
type Ingestor struct {
	uploader Uploader
	maxEdge  int
}

func NewIngestor(uploader Uploader, maxEdge int) *Ingestor {
	if maxEdge <= 0 {
		maxEdge = DefaultMaxEdge
	}
	return &Ingestor{uploader: uploader, maxEdge: maxEdge}
}

// Ingest decodes the image (honoring EXIF orientation), scales it down to
// the configured edge limit, re-encodes as JPEG, and uploads it under the
// job's evidence prefix. Returns the stable URI.
func (i *Ingestor) Ingest(ctx context.Context, jobID, phase string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", models.Validationf("empty photo upload")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return "", models.Validationf("not a decodable image: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > i.maxEdge || bounds.Dy() > i.maxEdge {
		img = imaging.Fit(img, i.maxEdge, i.maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(jpeg.DefaultQuality)); err != nil {
		return "", fmt.Errorf("encode photo: %w", err)
	}

	key := fmt.Sprintf("evidence/%s/%s/%s.jpg", jobID, phase, uuid.New().String())
	uri, err := i.uploader.Upload(ctx, key, buf.Bytes(), "image/jpeg")
	if err != nil {
		return "", fmt.Errorf("upload photo: %w", err)
	}
	return uri, nil
}

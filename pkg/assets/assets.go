// Package assets validates and stores the binary payload behind image and
// file entities.
package assets

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/models"
)

const (
	MaxImageSize int64 = 10 << 20
	MaxFileSize  int64 = 25 << 20
)

// Upload is an asset about to be stored.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader

	// Pixel size of images, zero when unknown.
	Width  float64
	Height float64
}

// Store puts an asset somewhere reachable and returns its URL.
type Store interface {
	Upload(ctx context.Context, kind models.Kind, u Upload) (string, error)
}

// Validate rejects assets that must not be uploaded.
func Validate(kind models.Kind, size int64, mime string) error {
	switch kind {
	case models.KindImage:
		if !strings.HasPrefix(mime, "image/") {
			return fmt.Errorf("%w: %q is not an image type", constants.ErrInvalidEntity, mime)
		}
		if size > MaxImageSize {
			return fmt.Errorf("%w: image of %d bytes, limit %d", constants.ErrAssetTooLarge, size, MaxImageSize)
		}
	case models.KindFile:
		if size > MaxFileSize {
			return fmt.Errorf("%w: file of %d bytes, limit %d", constants.ErrAssetTooLarge, size, MaxFileSize)
		}
	default:
		return fmt.Errorf("%w: %q has no asset", constants.ErrInvalidKind, kind)
	}
	if size < 0 {
		return fmt.Errorf("%w: negative size", constants.ErrInvalidEntity)
	}
	return nil
}

// Entity builds the entity for an uploaded asset placed at p. Images keep
// their pixel size as original dimensions and are scaled into bounds.
func Entity(kind models.Kind, u Upload, url string, p models.Point) models.Entity {
	e := models.Entity{
		Kind:     kind,
		X:        p.X,
		Y:        p.Y,
		URL:      url,
		FileName: u.Name,
		FileSize: u.Size,
		MimeType: u.MimeType,
	}
	if kind == models.KindImage && u.Width > 0 && u.Height > 0 {
		e.OriginalWidth, e.OriginalHeight = u.Width, u.Height
		b := models.BoundsFor(kind)
		scale := 1.0
		if u.Width > b.DefaultWidth {
			scale = b.DefaultWidth / u.Width
		}
		e.Width, e.Height = u.Width*scale, u.Height*scale
	}
	return e.Normalize()
}

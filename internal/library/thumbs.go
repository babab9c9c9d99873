package library

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

const (
	ThumbSmEdge = 400
	ThumbMdEdge = 800
)

// GenerateThumbnails writes the small and medium JPEG thumbnails for an
// already-decoded image and returns their library-relative paths. Thumbnails
// target the short edge; images already at or below the target are re-encoded
// without upscaling.
func (l *Library) GenerateThumbnails(img image.Image, folder, stem string, quality int) (sm, md string, err error) {
	const op = "library.GenerateThumbnails"

	smAbs := l.ThumbPath(folder, stem, "sm")
	if err := l.writeThumb(img, smAbs, ThumbSmEdge, quality); err != nil {
		return "", "", fmt.Errorf("%s: %v", op, err)
	}

	mdAbs := l.ThumbPath(folder, stem, "md")
	if err := l.writeThumb(img, mdAbs, ThumbMdEdge, quality); err != nil {
		l.Remove(smAbs)
		return "", "", fmt.Errorf("%s: %v", op, err)
	}

	return l.RelPath(smAbs), l.RelPath(mdAbs), nil
}

func (l *Library) writeThumb(img image.Image, dest string, shortEdge, quality int) error {
	resized := resizeShortEdge(img, shortEdge)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return err
	}
	return l.WriteFile(dest, buf.Bytes())
}

func resizeShortEdge(img image.Image, target int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	short := w
	if h < w {
		short = h
	}
	if short <= target {
		return img
	}

	if w <= h {
		return imaging.Resize(img, target, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, target, imaging.Lanczos)
}

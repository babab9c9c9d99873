package ingest

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// extractExif returns the raw EXIF block hex-encoded for verbatim storage,
// plus the embedded taken date when one is present. Images without EXIF
// return ("", nil).
func extractExif(data []byte) (string, *time.Time) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return "", nil
	}

	raw := hex.EncodeToString(x.Raw)

	if t, err := x.DateTime(); err == nil {
		return raw, &t
	}
	return raw, nil
}

package image

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/Laisky/errors/v2"
	_ "golang.org/x/image/webp"
)

// MaxInlineImageBytes bounds inline image payloads accepted for token
// estimation; larger payloads are estimated from size alone.
const MaxInlineImageBytes = 20 * 1024 * 1024

// SizeFromBase64 decodes just enough of a base64 image payload to report its
// pixel dimensions. The data may carry a data URL prefix.
func SizeFromBase64(encoded string) (width int, height int, err error) {
	encoded = StripDataURLPrefix(encoded)
	if int64(base64.StdEncoding.DecodedLen(len(encoded))) > MaxInlineImageBytes {
		return 0, 0, errors.Errorf("image exceeds %d bytes", MaxInlineImageBytes)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		// Tolerate URL-safe alphabets used by some clients.
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return 0, 0, errors.Wrap(err, "decode image base64")
		}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return 0, 0, errors.Wrap(err, "decode image config")
	}
	return cfg.Width, cfg.Height, nil
}

// StripDataURLPrefix removes a "data:<mime>;base64," prefix when present.
func StripDataURLPrefix(encoded string) string {
	if !strings.HasPrefix(encoded, "data:") {
		return encoded
	}
	idx := strings.Index(encoded, "base64,")
	if idx < 0 {
		return encoded
	}
	return encoded[idx+len("base64,"):]
}

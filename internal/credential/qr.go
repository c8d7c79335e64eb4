package credential

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/skip2/go-qrcode"
)

// DefaultQRSize is the PNG edge length in pixels.
const DefaultQRSize = 256

// ErrQRCapacity is returned when a token does not fit any QR version.
var ErrQRCapacity = errors.New("token exceeds QR capacity")

// QRPNG renders token as a PNG, falling back to the lowest error
// correction level when the token is too large for medium.
func QRPNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	var last error
	for _, level := range []qrcode.RecoveryLevel{qrcode.Medium, qrcode.Low} {
		png, err := qrcode.Encode(token, level, size)
		if err == nil {
			return png, nil
		}
		last = err
	}
	return nil, fmt.Errorf("%w: %v", ErrQRCapacity, last)
}

// QRBase64 renders token as a base64-encoded PNG.
func QRBase64(token string, size int) (string, error) {
	png, err := QRPNG(token, size)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(png), nil
}

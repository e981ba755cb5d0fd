package qrcode

import (
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"
)

const defaultSize = 256

// Renderer encodes content as a PNG QR image.
type Renderer struct {
	size  int
	level goqrcode.RecoveryLevel
}

// NewRenderer returns a Renderer producing size x size PNGs.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = defaultSize
	}
	return &Renderer{size: size, level: goqrcode.Medium}
}

// Render returns the PNG bytes for content.
func (r *Renderer) Render(content string) ([]byte, error) {
	png, err := goqrcode.Encode(content, r.level, r.size)
	if err != nil {
		return nil, fmt.Errorf("qrcode: encode %q: %w", content, err)
	}
	return png, nil
}

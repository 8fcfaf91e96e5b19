// Package preview normalizes whatever the preview stream last produced into
// a fixed-resolution image for the control surface. Consumers always get a
// well-formed image: absent or malformed frames render as the placeholder.
package preview

import (
	"bytes"
	"image"
	"image/jpeg"

	xdraw "golang.org/x/image/draw"

	"github.com/e7canasta/orion-proto-recorder/internal/frame"
)

// Preview images always have this resolution, regardless of what the camera
// produces.
const (
	Width  = 1280
	Height = 720
)

const jpegQuality = 85

// Placeholder returns an opaque black image at the preview resolution.
// Deterministic: every call yields identical pixels.
func Placeholder() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, Width, Height))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xFF
	}
	return img
}

// Render converts the latest frame into the fixed preview resolution,
// stretching when the source size differs. ok follows the slot read
// convention; with ok false (or a frame that violates the data contract)
// the placeholder is returned.
func Render(f frame.Frame, ok bool) *image.RGBA {
	if !ok || f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height*3 {
		return Placeholder()
	}

	src := toRGBA(f)
	if f.Width == Width && f.Height == Height {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, Width, Height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// EncodeJPEG serializes an image for the /frame endpoint.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toRGBA expands interleaved RGB into an RGBA image.
func toRGBA(f frame.Frame) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	si := 0
	for y := 0; y < f.Height; y++ {
		di := y * img.Stride
		for x := 0; x < f.Width; x++ {
			img.Pix[di] = f.Data[si]
			img.Pix[di+1] = f.Data[si+1]
			img.Pix[di+2] = f.Data[si+2]
			img.Pix[di+3] = 0xFF
			si += 3
			di += 4
		}
	}
	return img
}

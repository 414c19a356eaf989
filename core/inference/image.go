package inference

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
)

// jpegQuality applies to every re-encoded output frame regardless of
// its source format.
const jpegQuality = 85

// normalizeImage decodes a ComfyUI image output (PNG, almost always)
// and re-encodes it as a JPEG, compositing away any alpha channel the
// way Pillow's `.convert("RGB")` does for RGBA/LA sources.
func normalizeImage(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &Error{Kind: KindDecodeFailed, Cause: fmt.Errorf("decoding image output: %w", err)}
	}

	rgb := compositeToRGB(img)

	var out bytes.Buffer
	if err := jpeg.Encode(&out, rgb, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, &Error{Kind: KindDecodeFailed, Cause: fmt.Errorf("encoding jpeg output: %w", err)}
	}
	return out.Bytes(), nil
}

// compositeToRGB flattens any transparency onto an opaque black
// background, matching Pillow's behavior for RGBA/LA -> RGB.
func compositeToRGB(img image.Image) image.Image {
	if _, ok := img.(*image.YCbCr); ok {
		// Already opaque (a plain baseline JPEG); nothing to composite.
		return img
	}
	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, image.Black, image.Point{}, draw.Src)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Over)
	return rgba
}

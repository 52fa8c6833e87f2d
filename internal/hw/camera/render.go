package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
)

// jpegQuality matches the quality a headset photo camera produces by default.
const jpegQuality = 90

// hologramColor is the overlay composited into the frame.
var hologramColor = color.RGBA{R: 0, G: 200, B: 255, A: 255}

// renderScene draws a synthetic photo: a gradient "real world" background and,
// when opacity > 0, a centered hologram panel blended with that opacity.
// seq shifts the background so successive photos differ.
func renderScene(res Resolution, opacity float32, seq int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, res.Width, res.Height))
	for y := 0; y < res.Height; y++ {
		for x := 0; x < res.Width; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x*255)/max(res.Width, 1) + seq*7),
				G: uint8((y * 255) / max(res.Height, 1)),
				B: uint8(64 + seq*13),
				A: 255,
			})
		}
	}
	if opacity <= 0 {
		return img
	}
	if opacity > 1 {
		opacity = 1
	}

	panel := image.Rect(res.Width/4, res.Height/4, res.Width*3/4, res.Height*3/4)
	for y := panel.Min.Y; y < panel.Max.Y; y++ {
		for x := panel.Min.X; x < panel.Max.X; x++ {
			img.SetRGBA(x, y, blend(img.RGBAAt(x, y), hologramColor, opacity))
		}
	}
	return img
}

func blend(dst, src color.RGBA, a float32) color.RGBA {
	mix := func(d, s uint8) uint8 {
		return uint8(float32(s)*a + float32(d)*(1-a) + 0.5)
	}
	return color.RGBA{R: mix(dst.R, src.R), G: mix(dst.G, src.G), B: mix(dst.B, src.B), A: 255}
}

// encodeFrame returns the frame bytes in the session pixel format.
func encodeFrame(img *image.RGBA, format PixelFormat) ([]byte, error) {
	switch format {
	case JPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
			return nil, fmt.Errorf("encode jpeg: %w", err)
		}
		return buf.Bytes(), nil
	case BGRA32:
		return toBGRA(img), nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %v", format)
	}
}

// toBGRA repacks RGBA pixels as BGRA, top row first.
func toBGRA(img *image.RGBA) []byte {
	b := img.Bounds()
	out := make([]byte, 0, b.Dx()*b.Dy()*4)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[(y-b.Min.Y)*img.Stride : (y-b.Min.Y)*img.Stride+b.Dx()*4]
		for i := 0; i < len(row); i += 4 {
			out = append(out, row[i+2], row[i+1], row[i], row[i+3])
		}
	}
	return out
}

// writePhoto encodes img to path in the requested file format.
func writePhoto(path string, img image.Image, format FileFormat) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	switch format {
	case JPG:
		err = jpeg.Encode(f, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = fmt.Errorf("unsupported file format %d", format)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

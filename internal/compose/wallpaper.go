package compose

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"golang.org/x/image/draw"
)

// ScaleMode defines how a wallpaper is fitted to an output.
type ScaleMode string

const (
	ScaleCenter     ScaleMode = "center"
	ScaleStretch    ScaleMode = "stretched"
	ScaleHorizontal ScaleMode = "horizontal"
	ScaleVertical   ScaleMode = "vertical"
)

func ParseScaleMode(s string) (ScaleMode, error) {
	switch m := ScaleMode(s); m {
	case ScaleCenter, ScaleStretch, ScaleHorizontal, ScaleVertical:
		return m, nil
	case "":
		return ScaleVertical, nil
	}
	return "", fmt.Errorf("unknown scale mode %q", s)
}

// LoadWallpaper decodes a PNG, JPEG or GIF image.
func LoadWallpaper(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallpaper: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// scaleImage fits img into a targetW x targetH canvas. Uncovered pixels are
// transparent.
func scaleImage(img image.Image, targetW, targetH int, mode ScaleMode) *image.RGBA {
	var dstRect image.Rectangle
	srcW := img.Bounds().Dx()
	srcH := img.Bounds().Dy()

	switch mode {
	case ScaleStretch:
		dstRect = image.Rect(0, 0, targetW, targetH)
	case ScaleHorizontal:
		scale := float64(targetW) / float64(srcW)
		h := int(float64(srcH) * scale)
		y := (targetH - h) / 2
		dstRect = image.Rect(0, y, targetW, y+h)
	case ScaleVertical:
		scale := float64(targetH) / float64(srcH)
		w := int(float64(srcW) * scale)
		x := (targetW - w) / 2
		dstRect = image.Rect(x, 0, x+w, targetH)
	default:
		// original size, centered
		x := (targetW - srcW) / 2
		y := (targetH - srcH) / 2
		dstRect = image.Rect(x, y, x+srcW, y+srcH)
	}

	dst := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.CatmullRom.Scale(dst, dstRect, img, img.Bounds(), draw.Over, nil)
	return dst
}

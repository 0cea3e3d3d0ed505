package barcode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
)

// QuietZone is the blank margin either side of the symbol, in modules.
const QuietZone = 10

var ErrTooNarrow = errors.New("barcode: target width too small for symbol")

// Bar is a bar positioned in output units.
type Bar struct {
	X     int `json:"x"`
	Width int `json:"width"`
}

// Scale lays the modules out across targetWidth units with quietZone
// blank modules on each side. The module width is the largest whole unit
// that fits; leftover space is split evenly.
func Scale(modules []Module, targetWidth, quietZone int) ([]Bar, int, error) {
	total := TotalWidth(modules)
	moduleWidth := targetWidth / (total + 2*quietZone)
	if total == 0 || moduleWidth < 1 {
		return nil, 0, fmt.Errorf("%w: %d units for %d modules", ErrTooNarrow, targetWidth, total+2*quietZone)
	}

	x := (targetWidth - total*moduleWidth) / 2
	bars := make([]Bar, 0, Bars(modules))
	for _, m := range modules {
		w := m.Width * moduleWidth
		if m.IsBar {
			bars = append(bars, Bar{X: x, Width: w})
		}
		x += w
	}
	return bars, moduleWidth, nil
}

var palette = color.Palette{color.White, color.Black}

// RenderPNG rasterizes the symbol into a width x height two-color PNG.
func RenderPNG(modules []Module, width, height int) ([]byte, error) {
	if height < 1 {
		return nil, fmt.Errorf("barcode: height must be positive, got %d", height)
	}
	bars, _, err := Scale(modules, width, QuietZone)
	if err != nil {
		return nil, err
	}

	img := image.NewPaletted(image.Rect(0, 0, width, height), palette)
	for _, b := range bars {
		for x := b.X; x < b.X+b.Width; x++ {
			for y := 0; y < height; y++ {
				img.SetColorIndex(x, y, 1)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("barcode: encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

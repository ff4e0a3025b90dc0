package captcha

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
)

// Glyphs are drawn from an embedded 5x7 bitmap font, scaled and jittered per
// character, over a noisy background. The distortion budget is deliberately
// small: the one-time-use contract does the heavy lifting against replay, the
// image only has to defeat trivial OCR.

const (
	glyphCols = 5
	glyphRows = 7
)

var glyphs = map[byte][glyphRows]uint8{
	'2': {0b01110, 0b10001, 0b00001, 0b00110, 0b01000, 0b10000, 0b11111},
	'3': {0b11110, 0b00001, 0b00001, 0b01110, 0b00001, 0b00001, 0b11110},
	'4': {0b00010, 0b00110, 0b01010, 0b10010, 0b11111, 0b00010, 0b00010},
	'5': {0b11111, 0b10000, 0b11110, 0b00001, 0b00001, 0b10001, 0b01110},
	'6': {0b00110, 0b01000, 0b10000, 0b11110, 0b10001, 0b10001, 0b01110},
	'7': {0b11111, 0b00001, 0b00010, 0b00100, 0b01000, 0b01000, 0b01000},
	'8': {0b01110, 0b10001, 0b10001, 0b01110, 0b10001, 0b10001, 0b01110},
	'9': {0b01110, 0b10001, 0b10001, 0b01111, 0b00001, 0b00010, 0b01100},
	'A': {0b01110, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001},
	'B': {0b11110, 0b10001, 0b10001, 0b11110, 0b10001, 0b10001, 0b11110},
	'C': {0b01110, 0b10001, 0b10000, 0b10000, 0b10000, 0b10001, 0b01110},
	'D': {0b11110, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b11110},
	'E': {0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b11111},
	'F': {0b11111, 0b10000, 0b10000, 0b11110, 0b10000, 0b10000, 0b10000},
	'G': {0b01110, 0b10001, 0b10000, 0b10111, 0b10001, 0b10001, 0b01111},
	'H': {0b10001, 0b10001, 0b10001, 0b11111, 0b10001, 0b10001, 0b10001},
	'J': {0b00111, 0b00010, 0b00010, 0b00010, 0b00010, 0b10010, 0b01100},
	'K': {0b10001, 0b10010, 0b10100, 0b11000, 0b10100, 0b10010, 0b10001},
	'L': {0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b10000, 0b11111},
	'M': {0b10001, 0b11011, 0b10101, 0b10101, 0b10001, 0b10001, 0b10001},
	'N': {0b10001, 0b11001, 0b10101, 0b10011, 0b10001, 0b10001, 0b10001},
	'P': {0b11110, 0b10001, 0b10001, 0b11110, 0b10000, 0b10000, 0b10000},
	'Q': {0b01110, 0b10001, 0b10001, 0b10001, 0b10101, 0b10010, 0b01101},
	'R': {0b11110, 0b10001, 0b10001, 0b11110, 0b10100, 0b10010, 0b10001},
	'S': {0b01111, 0b10000, 0b10000, 0b01110, 0b00001, 0b00001, 0b11110},
	'T': {0b11111, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100},
	'U': {0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01110},
	'V': {0b10001, 0b10001, 0b10001, 0b10001, 0b10001, 0b01010, 0b00100},
	'W': {0b10001, 0b10001, 0b10001, 0b10101, 0b10101, 0b11011, 0b10001},
	'X': {0b10001, 0b01010, 0b00100, 0b00100, 0b00100, 0b01010, 0b10001},
	'Y': {0b10001, 0b01010, 0b00100, 0b00100, 0b00100, 0b00100, 0b00100},
	'Z': {0b11111, 0b00001, 0b00010, 0b00100, 0b01000, 0b10000, 0b11111},
}

// renderDataURI draws the code into a distorted PNG and returns it as a
// base64 data URI.
func renderDataURI(code string, width, height int) string {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	fillBackground(img, randomColor(200, 250))
	for i := 0; i < 5; i++ {
		drawLine(img, width, height, randomColor(100, 160))
	}
	drawCode(img, code, width, height)
	drawSpeckle(img, width, height)

	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

func fillBackground(img *image.RGBA, c color.RGBA) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func drawLine(img *image.RGBA, width, height int, c color.RGBA) {
	x1, y1 := rand.IntN(width), rand.IntN(height)
	x2, y2 := rand.IntN(width), rand.IntN(height)

	steps := max(abs(x2-x1), abs(y2-y1))
	if steps == 0 {
		steps = 1
	}
	for s := 0; s <= steps; s++ {
		x := x1 + (x2-x1)*s/steps
		y := y1 + (y2-y1)*s/steps
		img.SetRGBA(x, y, c)
	}
}

func drawCode(img *image.RGBA, code string, width, height int) {
	if len(code) == 0 {
		return
	}

	cell := width / len(code)
	scale := min(cell/(glyphCols+1), height/(glyphRows+2))
	if scale < 1 {
		scale = 1
	}

	for i := 0; i < len(code); i++ {
		glyph, ok := glyphs[code[i]]
		if !ok {
			continue
		}

		c := randomColor(20, 130)
		baseX := i*cell + (cell-glyphCols*scale)/2 + rand.IntN(scale+1) - scale/2
		baseY := (height-glyphRows*scale)/2 + rand.IntN(scale+1) - scale/2

		for row := 0; row < glyphRows; row++ {
			for col := 0; col < glyphCols; col++ {
				if glyph[row]&(1<<(glyphCols-1-col)) == 0 {
					continue
				}
				for dy := 0; dy < scale; dy++ {
					for dx := 0; dx < scale; dx++ {
						setClamped(img, baseX+col*scale+dx, baseY+row*scale+dy, c)
					}
				}
			}
		}
	}
}

func drawSpeckle(img *image.RGBA, width, height int) {
	for i := 0; i < 50; i++ {
		img.SetRGBA(rand.IntN(width), rand.IntN(height), randomColor(50, 200))
	}
}

func setClamped(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

func randomColor(low, high int) color.RGBA {
	span := high - low
	return color.RGBA{
		R: uint8(low + rand.IntN(span)),
		G: uint8(low + rand.IntN(span)),
		B: uint8(low + rand.IntN(span)),
		A: 255,
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

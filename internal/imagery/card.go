package imagery

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font/basicfont"

	"github.com/lox/sanitrack/internal/grading"
)

// Card dimensions for public display kiosks.
const (
	CardWidth  = 480
	CardHeight = 240
)

// CardData is what a public display shows for one facility.
type CardData struct {
	Name           string
	Classification grading.Classification
	Operational    bool
	Alternative    string // nearest better facility, if any
}

// RenderCard draws a display card as PNG: a band in the grade color with the
// grade, score and facility name.
func RenderCard(data CardData) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))

	for y := 0; y < CardHeight; y++ {
		progress := float64(y) / float64(CardHeight)
		shade := uint8(24 + progress*16)
		for x := 0; x < CardWidth; x++ {
			img.SetRGBA(x, y, color.RGBA{shade, shade, shade + 8, 255})
		}
	}

	gradeColor := ParseHexColor(data.Classification.Color)
	draw.Draw(img, image.Rect(0, 0, CardWidth, 16), image.NewUniform(gradeColor), image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(24, 48, 120, 144), image.NewUniform(gradeColor), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	white := color.RGBA{255, 255, 255, 255}
	lightGray := color.RGBA{200, 200, 200, 255}

	grade := string(data.Classification.Grade)
	if grade == "" {
		grade = "?"
	}
	drawText(img, grade, 68, 100, color.Black, face)
	drawText(img, data.Name, 140, 64, white, face)
	drawText(img, fmt.Sprintf("Cleanliness %.0f/100", data.Classification.Score), 140, 88, lightGray, face)

	status := "Open"
	if !data.Operational {
		status = "Closed"
	}
	drawText(img, status, 140, 112, lightGray, face)

	if data.Alternative != "" {
		drawText(img, "Nearby: "+data.Alternative, 24, 196, lightGray, face)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode display card: %w", err)
	}
	return buf.Bytes(), nil
}

package imagery

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	_ "image/png"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/scoring"
)

// MaxWidth is the widest annotated image produced; larger uploads are
// scaled down along with their boxes.
const MaxWidth = 1280

// MaxPixels bounds width*height of an upload. Headers are checked before
// any pixels are decoded.
const MaxPixels = 40_000_000

const bannerHeight = 28

var ErrUnsupportedImage = errors.New("unsupported image format")

// Decode reads a JPEG, PNG or WebP upload.
func Decode(data []byte) (image.Image, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxPixels/cfg.Height {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrUnsupportedImage, cfg.Width, cfg.Height, MaxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return img, format, nil
}

// Annotate draws detector boxes and a grade banner over an inspection photo
// and returns it as JPEG.
func Annotate(data []byte, dets []scoring.Detection, c grading.Classification) ([]byte, error) {
	src, _, err := Decode(data)
	if err != nil {
		return nil, err
	}

	b := src.Bounds()
	scale := 1.0
	if b.Dx() > MaxWidth {
		scale = float64(MaxWidth) / float64(b.Dx())
	}
	w := int(float64(b.Dx()) * scale)
	h := int(float64(b.Dy()) * scale)
	if w < 1 || h < 1 {
		return nil, fmt.Errorf("%w: empty image", ErrUnsupportedImage)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if scale == 1 {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	}

	gradeColor := ParseHexColor(c.Color)
	for _, d := range dets {
		r := image.Rect(
			int(d.BBox[0]*scale), int(d.BBox[1]*scale),
			int(d.BBox[2]*scale), int(d.BBox[3]*scale),
		).Intersect(dst.Bounds())
		if r.Empty() {
			continue
		}
		drawRect(dst, r, gradeColor, 2)
		label := fmt.Sprintf("%s %.2f", d.Class, d.Confidence)
		drawLabel(dst, label, r.Min.X, r.Min.Y, gradeColor)
	}

	drawBanner(dst, c, gradeColor)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.Color, thickness int) {
	u := image.NewUniform(col)
	for i := 0; i < thickness; i++ {
		draw.Draw(img, image.Rect(r.Min.X, r.Min.Y+i, r.Max.X, r.Min.Y+i+1), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-i-1, r.Max.X, r.Max.Y-i), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Min.X+i, r.Min.Y, r.Min.X+i+1, r.Max.Y), u, image.Point{}, draw.Src)
		draw.Draw(img, image.Rect(r.Max.X-i-1, r.Min.Y, r.Max.X-i, r.Max.Y), u, image.Point{}, draw.Src)
	}
}

// drawLabel draws text on a filled background just above (x, y), or inside
// the box when there is no room above.
func drawLabel(img *image.RGBA, text string, x, y int, bg color.Color) {
	face := basicfont.Face7x13
	width := font.MeasureString(face, text).Ceil() + 4
	height := face.Metrics().Height.Ceil() + 2

	top := y - height
	if top < 0 {
		top = y
	}
	draw.Draw(img, image.Rect(x, top, x+width, top+height), image.NewUniform(bg), image.Point{}, draw.Over)
	drawText(img, text, x+2, top+height-4, color.White, face)
}

func drawBanner(img *image.RGBA, c grading.Classification, col color.Color) {
	b := img.Bounds()
	banner := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+bannerHeight).Intersect(b)

	// Dim the strip so the label stays readable on bright photos
	for y := banner.Min.Y; y < banner.Max.Y; y++ {
		for x := banner.Min.X; x < banner.Max.X; x++ {
			p := img.RGBAAt(x, y)
			p.R, p.G, p.B = p.R/3, p.G/3, p.B/3
			img.SetRGBA(x, y, p)
		}
	}

	label := fmt.Sprintf("Grade %s  %.0f/100", c.Grade, c.Score)
	if !c.Grade.Valid() {
		label = "Ungraded"
	}
	draw.Draw(img, image.Rect(b.Min.X, b.Min.Y, b.Min.X+6, banner.Max.Y), image.NewUniform(col), image.Point{}, draw.Src)
	drawText(img, label, b.Min.X+12, b.Min.Y+19, color.White, basicfont.Face7x13)
}

// drawText draws text at the given baseline position using the specified font face.
func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// ParseHexColor parses "#RRGGBB". Anything else returns mid gray.
func ParseHexColor(s string) color.RGBA {
	gray := color.RGBA{0x95, 0xA5, 0xA6, 0xFF}
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return gray
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return gray
	}
	return color.RGBA{uint8(v >> 16), uint8(v >> 8), uint8(v), 0xFF}
}

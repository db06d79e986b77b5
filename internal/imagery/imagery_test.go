package imagery

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lox/sanitrack/internal/grading"
	"github.com/lox/sanitrack/internal/scoring"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{200, 200, 200, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestAnnotate(t *testing.T) {
	src := testPNG(t, 320, 240)
	dets := []scoring.Detection{
		{Class: "trash", Confidence: 0.91, BBox: [4]float64{10, 40, 120, 160}},
		{Class: "urine_stain", Confidence: 0.45, BBox: [4]float64{300, 200, 400, 300}}, // partly off-image
	}
	c := grading.Default().Classify(70)

	out, err := Annotate(src, dets, c)
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not JPEG: %v", err)
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("bounds = %v, want 320x240", img.Bounds())
	}
}

func TestAnnotate_ScalesWideImages(t *testing.T) {
	src := testPNG(t, 2560, 100)
	out, err := Annotate(src, nil, grading.Default().Classify(90))
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != MaxWidth || img.Bounds().Dy() != 50 {
		t.Errorf("bounds = %v, want %dx50", img.Bounds(), MaxWidth)
	}
}

func TestAnnotate_RejectsGarbage(t *testing.T) {
	_, err := Annotate([]byte("not an image"), nil, grading.Classification{})
	if !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("err = %v, want ErrUnsupportedImage", err)
	}
}

// hugePNG returns a small PNG whose header declares w x h pixels.
func hugePNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	data := testPNG(t, 1, 1)
	// Signature (8), IHDR length (4) and type (4) precede width and height.
	binary.BigEndian.PutUint32(data[16:20], w)
	binary.BigEndian.PutUint32(data[20:24], h)
	binary.BigEndian.PutUint32(data[29:33], crc32.ChecksumIEEE(data[12:29]))
	return data
}

func TestDecode_PixelLimit(t *testing.T) {
	tests := []struct {
		name string
		w, h uint32
		ok   bool
	}{
		{"small", 1, 1, true},
		{"at limit", 8000, 5000, true},
		{"decompression bomb", 50000, 50000, false},
		{"one tall column", 1, MaxPixels + 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := hugePNG(t, tt.w, tt.h)
			if tt.ok {
				cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
				if err != nil {
					t.Fatalf("patched header unreadable: %v", err)
				}
				if cfg.Width != int(tt.w) || cfg.Height != int(tt.h) {
					t.Fatalf("header = %dx%d", cfg.Width, cfg.Height)
				}
				return
			}
			_, _, err := Decode(data)
			if !errors.Is(err, ErrUnsupportedImage) {
				t.Errorf("err = %v, want ErrUnsupportedImage", err)
			}
		})
	}

	if _, format, err := Decode(testPNG(t, 4, 4)); err != nil || format != "png" {
		t.Errorf("Decode small = %q, %v", format, err)
	}
}

func TestParseHexColor(t *testing.T) {
	tests := map[string]color.RGBA{
		"#27AE60": {0x27, 0xAE, 0x60, 0xFF},
		"C0392B":  {0xC0, 0x39, 0x2B, 0xFF},
		"":        {0x95, 0xA5, 0xA6, 0xFF},
		"#zzzzzz": {0x95, 0xA5, 0xA6, 0xFF},
	}
	for in, want := range tests {
		if got := ParseHexColor(in); got != want {
			t.Errorf("ParseHexColor(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRenderCard(t *testing.T) {
	out, err := RenderCard(CardData{
		Name:           "Zero Mile Public Toilet",
		Classification: grading.Default().Classify(44),
		Operational:    true,
		Alternative:    "Maharajbagh Zoo Toilet (0.9 km)",
	})
	if err != nil {
		t.Fatalf("RenderCard: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not PNG: %v", err)
	}
	if img.Bounds().Dx() != CardWidth || img.Bounds().Dy() != CardHeight {
		t.Errorf("bounds = %v", img.Bounds())
	}
	// Top band carries the grade color (D).
	r, g, b, _ := img.At(5, 5).RGBA()
	if uint8(r>>8) != 0xE6 || uint8(g>>8) != 0x7E || uint8(b>>8) != 0x22 {
		t.Errorf("band color = %02x%02x%02x, want E67E22", r>>8, g>>8, b>>8)
	}
}

func TestStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	name, err := s.Save([]byte("jpegdata"), ".JPEG")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Ext(name) != ".jpg" {
		t.Errorf("name = %q, want .jpg extension", name)
	}

	got, err := s.Get(name)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "jpegdata" {
		t.Errorf("Get = %q", got)
	}

	for _, bad := range []string{"", "../etc/passwd", "sub/x.jpg", ".hidden", "missing.jpg"} {
		if _, err := s.Get(bad); !errors.Is(err, ErrImageNotFound) {
			t.Errorf("Get(%q) err = %v, want ErrImageNotFound", bad, err)
		}
	}

	if _, err := s.Save([]byte("x"), "gif"); !errors.Is(err, ErrUnsupportedImage) {
		t.Errorf("Save(gif) err = %v", err)
	}
}

func TestStore_Prune(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	oldName, _ := s.Save([]byte("old"), "png")
	newName, _ := s.Save([]byte("new"), "png")

	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(filepath.Join(dir, oldName), past, past); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Prune(24 * time.Hour)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	if _, err := s.Get(newName); err != nil {
		t.Errorf("recent image pruned: %v", err)
	}
}

package ocr

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// stubRecognizer returns canned text, or an error, recording what it saw
type stubRecognizer struct {
	text    string
	err     error
	called  int
	lastPNG []byte
}

func (s *stubRecognizer) Recognize(pngData []byte) (string, error) {
	s.called++
	s.lastPNG = pngData
	return s.text, s.err
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestExtractParsesRecognizedText(t *testing.T) {
	rec := &stubRecognizer{text: "1a2.3b"}
	ex := NewExtractor(rec)

	bal, err := ex.Extract(testImage(100, 50), Region{X: 10, Y: 10, Width: 40, Height: 20})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bal.Valid {
		t.Fatal("expected a valid balance")
	}
	if bal.Value != 12.3 {
		t.Errorf("expected 12.3, got %v", bal.Value)
	}
	if rec.called != 1 {
		t.Errorf("expected exactly one recognition attempt, got %d", rec.called)
	}
}

func TestExtractBlankRegionReturnsAbsent(t *testing.T) {
	rec := &stubRecognizer{text: "   \n"}
	ex := NewExtractor(rec)

	bal, err := ex.Extract(testImage(100, 50), Region{X: 0, Y: 0, Width: 100, Height: 50})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Valid {
		t.Errorf("expected absent balance, got %v", bal.Value)
	}
}

func TestExtractRecognizerFailureReturnsAbsent(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("engine unavailable")}
	ex := NewExtractor(rec)

	bal, err := ex.Extract(testImage(100, 50), Region{X: 0, Y: 0, Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("recognizer failure must not surface as an error, got %v", err)
	}
	if bal.Valid {
		t.Error("expected absent balance on recognizer failure")
	}
}

func TestExtractUnparsableTextReturnsAbsent(t *testing.T) {
	// Two decimal separators survive filtering as one dot, but text with no
	// digits at all must come back absent.
	rec := &stubRecognizer{text: "..--"}
	ex := NewExtractor(rec)

	bal, err := ex.Extract(testImage(100, 50), Region{X: 0, Y: 0, Width: 10, Height: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if bal.Valid {
		t.Errorf("expected absent balance, got %v", bal.Value)
	}
}

func TestExtractRejectsInvalidRegion(t *testing.T) {
	rec := &stubRecognizer{text: "42"}
	ex := NewExtractor(rec)
	img := testImage(100, 50)

	cases := []Region{
		{X: 0, Y: 0, Width: 0, Height: 10},    // zero width
		{X: 0, Y: 0, Width: 10, Height: -5},   // negative height
		{X: 90, Y: 0, Width: 20, Height: 10},  // spills past the right edge
		{X: -5, Y: 0, Width: 10, Height: 10},  // starts outside
		{X: 0, Y: 45, Width: 10, Height: 10},  // spills past the bottom
	}

	for _, region := range cases {
		_, err := ex.Extract(img, region)
		if !errors.Is(err, ErrInvalidRegion) {
			t.Errorf("region %+v: expected ErrInvalidRegion, got %v", region, err)
		}
	}

	if rec.called != 0 {
		t.Errorf("recognizer must not run for invalid regions, ran %d times", rec.called)
	}
}

func TestExtractCropsToRegion(t *testing.T) {
	rec := &stubRecognizer{text: "7"}
	ex := NewExtractor(rec)

	region := Region{X: 5, Y: 5, Width: 30, Height: 12}
	if _, err := ex.Extract(testImage(100, 50), region); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(rec.lastPNG))
	if err != nil {
		t.Fatalf("recognizer did not receive a PNG: %v", err)
	}
	if img.Bounds().Dx() != 30 || img.Bounds().Dy() != 12 {
		t.Errorf("expected a 30x12 crop, got %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	}
	if _, ok := img.(*image.Gray); !ok {
		t.Errorf("expected a greyscale crop, got %T", img)
	}
}

func TestFilterNumeric(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"1a2.3b", "12.3"},
		{"$ 1,234.56", "1234.56"},
		{"1.2.3", "1.23"}, // only the first separator survives
		{"", ""},
		{"no digits here", ""},
		{"007", "007"},
	}

	for _, tc := range cases {
		if got := filterNumeric(tc.in); got != tc.want {
			t.Errorf("filterNumeric(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecodeImagePayload(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, testImage(8, 8)); err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())

	// Bare base64
	if _, err := DecodeImagePayload(encoded); err != nil {
		t.Errorf("bare payload: %v", err)
	}

	// data-URI prefix as sent by browser canvas captures
	if _, err := DecodeImagePayload("data:image/png;base64," + encoded); err != nil {
		t.Errorf("data-URI payload: %v", err)
	}

	if _, err := DecodeImagePayload("!!not-base64!!"); err == nil {
		t.Error("expected an error for malformed base64")
	}

	if _, err := DecodeImagePayload(base64.StdEncoding.EncodeToString([]byte("not an image"))); err == nil {
		t.Error("expected an error for a non-image payload")
	}
}

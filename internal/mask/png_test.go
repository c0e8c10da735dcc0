package mask

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

func TestEncodePNGOriginChunk(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	data, err := encodePNG(img, image.Pt(-12, 840))
	if err != nil {
		t.Fatal(err)
	}

	texts, err := textChunks(data)
	if err != nil {
		t.Fatal(err)
	}
	if got := texts[OriginKeyword]; got != "-12,840" {
		t.Errorf("Origin = %q, want %q", got, "-12,840")
	}

	decoded, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib decoder rejects output: %v", err)
	}
	if decoded.Bounds() != img.Rect {
		t.Errorf("decoded bounds = %v, want %v", decoded.Bounds(), img.Rect)
	}
}

func TestEncodePNGChunkOrder(t *testing.T) {
	data, err := encodePNG(image.NewRGBA(image.Rect(0, 0, 4, 4)), image.Pt(3, 4))
	if err != nil {
		t.Fatal(err)
	}
	cs, err := parseChunks(data)
	if err != nil {
		t.Fatal(err)
	}
	chunks := cs.Chunks()
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0].Type != "IHDR" || chunks[1].Type != "tEXt" || chunks[len(chunks)-1].Type != "IEND" {
		var types []string
		for _, c := range chunks {
			types = append(types, c.Type)
		}
		t.Errorf("chunk order = %v", types)
	}
}

func TestTextChunksBadCRC(t *testing.T) {
	data, err := encodePNG(image.NewRGBA(image.Rect(0, 0, 1, 1)), image.Pt(1, 2))
	if err != nil {
		t.Fatal(err)
	}
	i := bytes.Index(data, []byte("Origin"))
	data[i+len("Origin")+1] ^= 0xFF

	// A corrupted chunk is either dropped or rejects the whole file; its
	// text never comes back.
	texts, err := textChunks(data)
	if err != nil {
		if !apperrors.IsCode(err, apperrors.IO) {
			t.Errorf("error = %v, want IO", err)
		}
		return
	}
	if _, ok := texts[OriginKeyword]; ok {
		t.Error("chunk with bad CRC should be skipped")
	}
}

func TestTextChunksNotPNG(t *testing.T) {
	if _, err := textChunks([]byte("GIF89a")); !apperrors.IsCode(err, apperrors.UnsupportedFormat) {
		t.Errorf("error = %v, want UNSUPPORTED_FORMAT", err)
	}
}

func TestParseOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want image.Point
		ok   bool
	}{
		{"10,20", image.Pt(10, 20), true},
		{" -5 , 7 ", image.Pt(-5, 7), true},
		{"10", image.Point{}, false},
		{"a,b", image.Point{}, false},
		{"", image.Point{}, false},
	}

	for _, tt := range tests {
		got, err := parseOrigin(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("parseOrigin(%q) error = %v, want ok=%v", tt.in, err, tt.ok)
			continue
		}
		if got != tt.want {
			t.Errorf("parseOrigin(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

package mask

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"slices"
	"strconv"
	"strings"

	pngstructure "github.com/dsoprea/go-png-image-structure/v2"

	apperrors "github.com/GriffinCanCode/indicator-watch/internal/errors"
)

// OriginKeyword is the tEXt keyword holding the "X,Y" screen origin.
const OriginKeyword = "Origin"

const (
	pngSignature = "\x89PNG\r\n\x1a\n"
	textChunk    = "tEXt"
)

// encodePNG encodes img and inserts a tEXt chunk with the origin right after
// IHDR.
func encodePNG(img image.Image, origin image.Point) ([]byte, error) {
	var raw bytes.Buffer
	if err := png.Encode(&raw, img); err != nil {
		return nil, apperrors.Wrap(err, apperrors.IO, "encode png")
	}
	cs, err := parseChunks(raw.Bytes())
	if err != nil {
		return nil, err
	}

	text := newTextChunk(OriginKeyword, fmt.Sprintf("%d,%d", origin.X, origin.Y))
	// IHDR is always the first chunk.
	out := pngstructure.NewChunkSlice(slices.Insert(slices.Clone(cs.Chunks()), 1, text))

	var buf bytes.Buffer
	buf.Grow(raw.Len() + len(text.Data) + 12)
	if err := out.WriteTo(&buf); err != nil {
		return nil, apperrors.Wrap(err, apperrors.IO, "write png chunks")
	}
	return buf.Bytes(), nil
}

func newTextChunk(keyword, text string) *pngstructure.Chunk {
	data := make([]byte, 0, len(keyword)+1+len(text))
	data = append(data, keyword...)
	data = append(data, 0)
	data = append(data, text...)

	c := &pngstructure.Chunk{Type: textChunk, Data: data, Length: uint32(len(data))}
	c.UpdateCrc32()
	return c
}

// parseChunks splits an encoded PNG into its chunks.
func parseChunks(data []byte) (*pngstructure.ChunkSlice, error) {
	if !bytes.HasPrefix(data, []byte(pngSignature)) {
		return nil, apperrors.New(apperrors.UnsupportedFormat, "not a png file")
	}
	mc, err := pngstructure.NewPngMediaParser().ParseBytes(data)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.IO, "read png chunks")
	}
	cs, ok := mc.(*pngstructure.ChunkSlice)
	if !ok {
		return nil, apperrors.Newf(apperrors.Internal, "png parser returned %T", mc)
	}
	return cs, nil
}

// textChunks returns the tEXt key/value pairs of an encoded PNG. Chunks with a
// bad CRC are skipped.
func textChunks(data []byte) (map[string]string, error) {
	cs, err := parseChunks(data)
	if err != nil {
		return nil, err
	}
	texts := make(map[string]string)
	for _, c := range cs.Chunks() {
		if c.Type != textChunk || !c.CheckCrc32() {
			continue
		}
		if k, v, ok := bytes.Cut(c.Data, []byte{0}); ok {
			texts[string(k)] = string(v)
		}
	}
	return texts, nil
}

// parseOrigin parses "X,Y".
func parseOrigin(s string) (image.Point, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return image.Point{}, apperrors.Newf(apperrors.InvalidArgument, "malformed origin %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return image.Point{}, apperrors.Wrapf(err, apperrors.InvalidArgument, "malformed origin %q", s)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return image.Point{}, apperrors.Wrapf(err, apperrors.InvalidArgument, "malformed origin %q", s)
	}
	return image.Pt(x, y), nil
}

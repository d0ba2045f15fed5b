package frame

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, format string, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, nil)
	case "bmp":
		err = bmp.Encode(&buf, img)
	default:
		t.Fatalf("unknown format %s", format)
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestOwnCopies(t *testing.T) {
	sdkBuf := []byte("abcdefgh")
	owned := Own(sdkBuf, 4)
	clear(sdkBuf)

	assert.Equal(t, []byte("abcd"), owned)
}

func TestOwnBounds(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		size int
		want []byte
	}{
		{"zero size", []byte("abc"), 0, nil},
		{"negative size", []byte("abc"), -1, nil},
		{"nil buffer", nil, 3, nil},
		{"size beyond buffer", []byte("abc"), 10, []byte("abc")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Own(tt.buf, tt.size))
		})
	}
}

func TestOnFrameEmptyLeavesLatestUnchanged(t *testing.T) {
	s := NewSink()
	good := encode(t, "png", testImage(8, 4))
	first, err := s.OnFrame(good, len(good), "SN1")
	require.NoError(t, err)

	_, err = s.OnFrame(nil, 0, "SN1")
	assert.ErrorIs(t, err, ErrEmptyFrame)
	_, err = s.OnFrame(good, 0, "SN1")
	assert.ErrorIs(t, err, ErrEmptyFrame)

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, first.Seq, latest.Seq)
	assert.Equal(t, uint64(2), s.Stats().Empty)
}

func TestOnFrameDoesNotAliasBuffer(t *testing.T) {
	s := NewSink()
	good := encode(t, "png", testImage(8, 4))
	want := bytes.Clone(good)

	// The producer may reuse its buffer as soon as OnFrame returns.
	buf := bytes.Clone(good)
	_, err := s.OnFrame(buf, len(buf), "SN1")
	require.NoError(t, err)
	for i := range buf {
		buf[i] = 0
	}

	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, want, latest.Data)
}

func TestOnFrameDecodeFailure(t *testing.T) {
	s := NewSink()
	junk := []byte("\x89PNG\r\n\x1a\nnot really")

	_, err := s.OnFrame(junk, len(junk), "SN1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrFrameDecode))

	_, ok := s.Latest()
	assert.False(t, ok)
	assert.Equal(t, uint64(1), s.Stats().DecodeErrors)
}

func TestOnFrameFormats(t *testing.T) {
	for _, format := range []string{"png", "jpeg", "bmp"} {
		t.Run(format, func(t *testing.T) {
			s := NewSink()
			data := encode(t, format, testImage(16, 9))

			f, err := s.OnFrame(data, len(data), "SN1")
			require.NoError(t, err)
			assert.Equal(t, format, f.Format)

			info := f.Info()
			assert.Equal(t, 16, info.Width)
			assert.Equal(t, 9, info.Height)
			assert.Equal(t, len(data), info.Bytes)
			assert.Equal(t, "SN1", info.Device)
		})
	}
}

func TestLastWriteWinsCountsOverwrites(t *testing.T) {
	s := NewSink()
	data := encode(t, "png", testImage(4, 4))

	for i := 0; i < 3; i++ {
		_, err := s.OnFrame(data, len(data), "SN1")
		require.NoError(t, err)
	}
	latest, ok := s.Latest()
	require.True(t, ok)
	assert.Equal(t, uint64(3), latest.Seq)
	assert.Equal(t, uint64(2), s.Stats().Overwritten)

	// A viewed frame is not a drop.
	_, err := s.OnFrame(data, len(data), "SN1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s.Stats().Overwritten)
}

func TestPNG(t *testing.T) {
	s := NewSink()
	_, _, ok, err := s.PNG()
	require.NoError(t, err)
	assert.False(t, ok)

	data := encode(t, "bmp", testImage(5, 3))
	_, err = s.OnFrame(data, len(data), "SN2")
	require.NoError(t, err)

	out, info, ok, err := s.PNG()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "bmp", info.Format)

	img, format, err := image.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 5, img.Bounds().Dx())
}

func TestClear(t *testing.T) {
	s := NewSink()
	data := encode(t, "png", testImage(2, 2))
	_, err := s.OnFrame(data, len(data), "SN1")
	require.NoError(t, err)

	s.Clear()
	_, ok := s.Latest()
	assert.False(t, ok)
}

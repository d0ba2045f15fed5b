// Package frame takes ownership of preview images handed out by the SDK and
// keeps the most recent one for display.
package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"sync"
	"time"

	// Registered decoders for the formats devices stream.
	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/rs/zerolog"

	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/metrics"
)

var (
	ErrEmptyFrame  = errors.New("empty frame")
	ErrFrameDecode = errors.New("frame decode failed")
)

// Frame is a decoded preview image. Data is the owned copy of the bytes the
// SDK delivered.
type Frame struct {
	Seq        uint64
	Device     string
	Format     string
	Data       []byte
	Image      image.Image
	ReceivedAt time.Time
}

// Info is the metadata sent to displays in place of the pixels.
type Info struct {
	Seq        uint64    `json:"seq"`
	Device     string    `json:"device"`
	Format     string    `json:"format"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Bytes      int       `json:"bytes"`
	ReceivedAt time.Time `json:"receivedAt"`
}

func (f Frame) Info() Info {
	info := Info{
		Seq:        f.Seq,
		Device:     f.Device,
		Format:     f.Format,
		Bytes:      len(f.Data),
		ReceivedAt: f.ReceivedAt,
	}
	if f.Image != nil {
		b := f.Image.Bounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}
	return info
}

type Stats struct {
	Received     uint64 `json:"received"`
	Displayed    uint64 `json:"displayed"`
	Empty        uint64 `json:"empty"`
	DecodeErrors uint64 `json:"decodeErrors"`
	Overwritten  uint64 `json:"overwritten"`
}

// Own copies the first size bytes of buf into memory the caller owns. It
// must be called inside the SDK callback, before buf is reused.
func Own(buf []byte, size int) []byte {
	if size <= 0 || len(buf) == 0 {
		return nil
	}
	if size > len(buf) {
		size = len(buf)
	}
	out := make([]byte, size)
	copy(out, buf[:size])
	return out
}

// Sink holds the latest frame. OnFrame runs on the dispatcher loop; Latest
// and PNG may be called from HTTP handlers.
type Sink struct {
	logger zerolog.Logger

	mu     sync.RWMutex
	latest *Frame
	viewed bool
	seq    uint64
	stats  Stats
}

func NewSink() *Sink {
	return &Sink{logger: clog.WithComponent("frame")}
}

// OnFrame copies and decodes buf and replaces the latest frame. The stored
// frame never aliases buf. A frame that was never read before being
// replaced is counted as overwritten.
func (s *Sink) OnFrame(buf []byte, size int, src string) (Frame, error) {
	s.mu.Lock()
	s.stats.Received++
	s.mu.Unlock()

	if size <= 0 || len(buf) == 0 {
		s.mu.Lock()
		s.stats.Empty++
		s.mu.Unlock()
		metrics.RecordFrame("empty", 0)
		s.logger.Debug().Str(clog.FieldDevice, src).Msg("dropping empty frame")
		return Frame{}, ErrEmptyFrame
	}
	data := Own(buf, size)
	size = len(data)

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		s.mu.Lock()
		s.stats.DecodeErrors++
		s.mu.Unlock()
		metrics.RecordFrame("decode_error", size)
		s.logger.Warn().Err(err).
			Str(clog.FieldDevice, src).
			Int(clog.FieldBytes, size).
			Msg("dropping undecodable frame")
		return Frame{}, fmt.Errorf("%w: %v", ErrFrameDecode, err)
	}

	s.mu.Lock()
	if s.latest != nil && !s.viewed {
		s.stats.Overwritten++
		metrics.RecordFrame("overwritten", 0)
	}
	s.seq++
	f := Frame{
		Seq:        s.seq,
		Device:     src,
		Format:     format,
		Data:       data,
		Image:      img,
		ReceivedAt: time.Now(),
	}
	s.latest = &f
	s.viewed = false
	s.stats.Displayed++
	s.mu.Unlock()

	metrics.RecordFrame("ok", size)
	return f, nil
}

// Latest returns the current frame and marks it as seen.
func (s *Sink) Latest() (Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Frame{}, false
	}
	s.viewed = true
	return *s.latest, true
}

// Info describes the latest frame without marking it as seen.
func (s *Sink) Info() (Info, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Info{}, false
	}
	return s.latest.Info(), true
}

// PNG returns the latest frame encoded as PNG. PNG frames are returned as
// delivered.
func (s *Sink) PNG() ([]byte, Info, bool, error) {
	f, ok := s.Latest()
	if !ok {
		return nil, Info{}, false, nil
	}
	if f.Format == "png" {
		return f.Data, f.Info(), true, nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, f.Image); err != nil {
		return nil, Info{}, true, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), f.Info(), true, nil
}

// Clear forgets the latest frame, for when streaming stops.
func (s *Sink) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = nil
	s.viewed = false
}

func (s *Sink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

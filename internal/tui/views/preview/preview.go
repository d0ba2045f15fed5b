// Package preview renders the latest device frame as half-block cells.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/image/draw"

	"github.com/hf1860/console/internal/tui/client"
	"github.com/hf1860/console/internal/tui/theme"
)

const upperHalf = "▀"

type Model struct {
	Seq    uint64
	Device string
	Image  image.Image
	Err    error

	// Latest is the newest frame the daemon announced; Seq lags it while a
	// fetch is pending.
	Latest client.FrameInfo
}

func New() Model {
	return Model{}
}

// SetFrame decodes f and keeps it when it is newer than the shown frame.
func (m *Model) SetFrame(f *client.Frame) error {
	if f == nil {
		return nil
	}
	if f.Seq != 0 && f.Seq < m.Seq {
		return nil
	}
	img, _, err := image.Decode(bytes.NewReader(f.PNG))
	if err != nil {
		m.Err = fmt.Errorf("decode frame %d: %w", f.Seq, err)
		return m.Err
	}
	m.Seq = f.Seq
	m.Device = f.Device
	m.Image = img
	m.Err = nil
	return nil
}

// Clear drops the shown frame, e.g. after the device disconnects.
func (m *Model) Clear() {
	m.Seq = 0
	m.Device = ""
	m.Image = nil
	m.Err = nil
	m.Latest = client.FrameInfo{}
}

// Stale reports whether a newer frame than the shown one was announced.
func (m Model) Stale() bool {
	return m.Latest.Seq > m.Seq
}

func (m Model) View(width, height int) string {
	title := theme.StyleHeader.Render("LIVE VIEW")
	if m.Image == nil {
		msg := "no frame"
		if m.Err != nil {
			msg = m.Err.Error()
		}
		return lipgloss.JoinVertical(lipgloss.Left, title, theme.StyleDimmed.Render("  "+msg))
	}
	caption := theme.StyleDimmed.Render(fmt.Sprintf("#%d %s", m.Seq, m.Device))
	return lipgloss.JoinVertical(lipgloss.Left, title, Render(m.Image, width, height-2), caption)
}

// Render draws img into a cols x rows grid. Each cell shows two vertically
// stacked pixels: the foreground colours the upper half block and the
// background the lower. The aspect ratio is preserved.
func Render(img image.Image, cols, rows int) string {
	if img == nil || cols <= 0 || rows <= 0 {
		return ""
	}
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return ""
	}

	w, h := fit(b.Dx(), b.Dy(), cols, rows*2)
	dst := image.NewRGBA(image.Rect(0, 0, w, h+h%2))
	draw.NearestNeighbor.Scale(dst, image.Rect(0, 0, w, h), img, b, draw.Src, nil)

	var sb strings.Builder
	for y := 0; y < h; y += 2 {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := 0; x < w; x++ {
			style := lipgloss.NewStyle().
				Foreground(hex(dst.At(x, y))).
				Background(hex(dst.At(x, y+1)))
			sb.WriteString(style.Render(upperHalf))
		}
	}
	return sb.String()
}

// fit scales w x h into maxW x maxH keeping the aspect ratio.
func fit(w, h, maxW, maxH int) (int, int) {
	if w*maxH > h*maxW {
		return maxW, max(1, h*maxW/w)
	}
	return max(1, w*maxH/h), maxH
}

func hex(c color.Color) lipgloss.Color {
	r, g, b, _ := c.RGBA()
	return lipgloss.Color(fmt.Sprintf("#%02x%02x%02x", r>>8, g>>8, b>>8))
}

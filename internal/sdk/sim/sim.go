// Package sim is an in-process stand-in for the vendor SDK. It behaves like
// the real library from the console's point of view: discovery, frames and
// decode results arrive on goroutines the caller does not own, and image
// buffers are reused (and scribbled over) as soon as a callback returns.
package sim

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math/rand"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/image/bmp"

	"github.com/hf1860/console/internal/config"
	clog "github.com/hf1860/console/internal/log"
	"github.com/hf1860/console/internal/sdk"
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SDK implements sdk.SDK against simulated devices.
type SDK struct {
	opts   config.SimConfig
	logger zerolog.Logger

	mu          sync.Mutex
	initialized bool
	found       sdk.FoundDeviceCallback
	devices     map[string]*simDevice
	searches    sync.WaitGroup

	rngMu sync.Mutex
	rng   *rand.Rand
}

type simDevice struct {
	serial string

	// cbMu is held for reading while a callback runs, so Register* can
	// guarantee the previous callback has returned before it does.
	cbMu   sync.RWMutex
	image  sdk.ImageCallback
	decode sdk.DecodeCallback

	stateMu  sync.Mutex
	liveView bool
	delays   map[[2]int]int

	cancel context.CancelFunc
	wg     sync.WaitGroup

	// scratch is the SDK-owned frame buffer handed to image callbacks.
	frameMu sync.Mutex
	scratch bytes.Buffer
	frameNo int
}

var _ sdk.SDK = (*SDK)(nil)

func New(opts config.SimConfig) *SDK {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SDK{
		opts:    opts,
		logger:  clog.WithComponent("sim"),
		devices: make(map[string]*simDevice),
		rng:     rand.New(rand.NewSource(seed)),
	}
}

func (s *SDK) Init() sdk.Result {
	if s.opts.FailInit {
		return sdk.RetFail
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initialized = true
	return sdk.RetOK
}

// DeInit disconnects every device and waits for all SDK goroutines.
func (s *SDK) DeInit() {
	s.mu.Lock()
	s.initialized = false
	devs := make([]*simDevice, 0, len(s.devices))
	for _, d := range s.devices {
		devs = append(devs, d)
	}
	s.devices = make(map[string]*simDevice)
	s.found = nil
	s.mu.Unlock()

	for _, d := range devs {
		d.stop()
	}
	s.searches.Wait()
}

func (s *SDK) RegisterFoundDevice(cb sdk.FoundDeviceCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.found = cb
}

// SearchDevices reports every configured device after the discovery delay.
// The first device is announced twice, as real network discovery does when
// a device answers on two interfaces.
func (s *SDK) SearchDevices() sdk.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return sdk.RetNotInitialized
	}
	serials := slices.Clone(s.opts.Devices)
	if len(serials) > 0 {
		serials = append(serials, serials[0])
	}
	delay := s.opts.DiscoveryDelay

	s.searches.Add(1)
	go func() {
		defer s.searches.Done()
		for i, serial := range serials {
			if delay > 0 {
				time.Sleep(delay)
			}
			s.mu.Lock()
			cb := s.found
			s.mu.Unlock()
			if cb == nil {
				return
			}
			cb(sdk.DeviceInfo{
				Serial: serial,
				Model:  "HF1860",
				IP:     "192.168.10." + strconv.Itoa(10+i%len(s.opts.Devices)),
			})
		}
	}()
	return sdk.RetOK
}

func (s *SDK) ConnectDevice(serial string) sdk.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.initialized {
		return sdk.RetNotInitialized
	}
	if !slices.Contains(s.opts.Devices, serial) {
		return sdk.RetNotFound
	}
	if slices.Contains(s.opts.FailConnect, serial) {
		return sdk.RetFail
	}
	if _, ok := s.devices[serial]; ok {
		return sdk.RetOK
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &simDevice{
		serial: serial,
		delays: make(map[[2]int]int),
		cancel: cancel,
	}
	s.devices[serial] = d

	d.wg.Add(2)
	go s.frameLoop(ctx, d)
	go s.decodeLoop(ctx, d)

	s.logger.Debug().Str(clog.FieldDevice, serial).Msg("device connected")
	return sdk.RetOK
}

func (s *SDK) DisconnectDevice(serial string) sdk.Result {
	s.mu.Lock()
	d, ok := s.devices[serial]
	if ok {
		delete(s.devices, serial)
	}
	s.mu.Unlock()
	if !ok {
		return sdk.RetNotFound
	}
	d.stop()
	s.logger.Debug().Str(clog.FieldDevice, serial).Msg("device disconnected")
	return sdk.RetOK
}

func (s *SDK) SetLiveViewOn(on bool, serial string) sdk.Result {
	d := s.device(serial)
	if d == nil {
		return sdk.RetNotFound
	}
	d.stateMu.Lock()
	d.liveView = on
	d.stateMu.Unlock()
	return sdk.RetOK
}

func (s *SDK) RegisterRecvImage(cb sdk.ImageCallback, serial string) sdk.Result {
	d := s.device(serial)
	if d == nil {
		return sdk.RetNotFound
	}
	d.cbMu.Lock()
	d.image = cb
	d.cbMu.Unlock()
	return sdk.RetOK
}

func (s *SDK) RegisterRecvDecode(cb sdk.DecodeCallback, serial string) sdk.Result {
	d := s.device(serial)
	if d == nil {
		return sdk.RetNotFound
	}
	d.cbMu.Lock()
	d.decode = cb
	d.cbMu.Unlock()
	return sdk.RetOK
}

func (s *SDK) GetOutputDelayTime(jobID, pinIndex int, serial string) (int, sdk.Result) {
	d := s.device(serial)
	if d == nil {
		return 0, sdk.RetNotFound
	}
	if jobID < 0 || pinIndex < 0 {
		return 0, sdk.RetInvalidParam
	}
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.delays[[2]int{jobID, pinIndex}], sdk.RetOK
}

func (s *SDK) SetOutputDelayTime(jobID, pinIndex, ms int, serial string) sdk.Result {
	d := s.device(serial)
	if d == nil {
		return sdk.RetNotFound
	}
	if jobID < 0 || pinIndex < 0 || ms < 0 || ms > 5000 {
		return sdk.RetInvalidParam
	}
	d.stateMu.Lock()
	d.delays[[2]int{jobID, pinIndex}] = ms
	d.stateMu.Unlock()
	return sdk.RetOK
}

func (s *SDK) GetOutputEvent(jobID, pinIndex int, serial string) ([]sdk.OutputEvent, sdk.Result) {
	if s.device(serial) == nil {
		return nil, sdk.RetNotFound
	}
	if jobID < 0 || pinIndex < 0 {
		return nil, sdk.RetInvalidParam
	}
	if pinIndex%2 == 1 {
		return []sdk.OutputEvent{sdk.OutputEventDecodeSuccess, sdk.OutputEventMatch}, sdk.RetOK
	}
	return []sdk.OutputEvent{sdk.OutputEventDecodeFail, sdk.OutputEventMismatch}, sdk.RetOK
}

// InjectDecode delivers a decode result on the caller's goroutine, as if
// the device had produced it. It reports whether a callback received it.
func (s *SDK) InjectDecode(serial, code string) bool {
	d := s.device(serial)
	if d == nil {
		return false
	}
	return d.deliverDecode(code)
}

// InjectFrame delivers data through the device's SDK-owned buffer. The
// buffer is overwritten after the callback returns.
func (s *SDK) InjectFrame(serial string, data []byte) bool {
	d := s.device(serial)
	if d == nil {
		return false
	}
	return d.deliverFrame(data)
}

// Connected lists the serials of connected devices.
func (s *SDK) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.devices))
	for serial := range s.devices {
		out = append(out, serial)
	}
	slices.Sort(out)
	return out
}

// LiveView reports whether live view is enabled on serial.
func (s *SDK) LiveView(serial string) bool {
	d := s.device(serial)
	if d == nil {
		return false
	}
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.liveView
}

func (s *SDK) device(serial string) *simDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devices[serial]
}

func (s *SDK) frameLoop(ctx context.Context, d *simDevice) {
	defer d.wg.Done()
	interval := s.opts.FrameInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.stateMu.Lock()
			live := d.liveView
			d.stateMu.Unlock()
			if !live {
				continue
			}
			d.frameNo++
			switch {
			case s.opts.EmptyFrameEvery > 0 && d.frameNo%s.opts.EmptyFrameEvery == 0:
				d.deliverFrame(nil)
			case s.opts.CorruptFrameEvery > 0 && d.frameNo%s.opts.CorruptFrameEvery == 0:
				d.deliverFrame([]byte("\x89PNG\r\n\x1a\ntruncated"))
			default:
				data, err := s.renderFrame(d.frameNo)
				if err != nil {
					s.logger.Warn().Err(err).Msg("render frame")
					continue
				}
				d.deliverFrame(data)
			}
		}
	}
}

func (s *SDK) decodeLoop(ctx context.Context, d *simDevice) {
	defer d.wg.Done()
	interval := s.opts.DecodeInterval
	if interval <= 0 {
		interval = 1500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.deliverDecode(s.randomCode())
		}
	}
}

// randomCode yields payloads on both sides of the pass threshold, weighted
// toward good reads.
func (s *SDK) randomCode() string {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	n := 22 + s.rng.Intn(12)
	if s.rng.Intn(4) == 0 {
		n = 6 + s.rng.Intn(15)
	}
	b := make([]byte, n)
	for i := range b {
		b[i] = codeAlphabet[s.rng.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// renderFrame draws a barcode-like stripe pattern with a sweeping scan line.
func (s *SDK) renderFrame(n int) ([]byte, error) {
	w, h := s.opts.FrameWidth, s.opts.FrameHeight
	if w <= 0 || h <= 0 {
		w, h = 160, 120
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	scan := (n * 4) % h
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8(230)
			if x > w/6 && x < w*5/6 && y > h/4 && y < h*3/4 && ((x/3)+(x/7))%2 == 0 {
				v = 20
			}
			c := color.RGBA{R: v, G: v, B: v, A: 255}
			if y == scan || y == scan+1 {
				c = color.RGBA{R: 220, G: 30, B: 30, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}

	var buf bytes.Buffer
	var err error
	switch s.opts.FrameFormat {
	case "bmp":
		err = bmp.Encode(&buf, img)
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80})
	default:
		err = png.Encode(&buf, img)
	}
	return buf.Bytes(), err
}

func (d *simDevice) deliverFrame(data []byte) bool {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	if d.image == nil {
		return false
	}
	d.frameMu.Lock()
	defer d.frameMu.Unlock()
	d.scratch.Reset()
	d.scratch.Write(data)
	buf := d.scratch.Bytes()
	d.image(sdk.ImageData{Buf: buf, Size: len(buf)}, d.serial)
	clear(buf)
	return true
}

func (d *simDevice) deliverDecode(code string) bool {
	d.cbMu.RLock()
	defer d.cbMu.RUnlock()
	if d.decode == nil {
		return false
	}
	d.decode(code, len(code), d.serial)
	return true
}

func (d *simDevice) stop() {
	d.cancel()
	d.wg.Wait()
	d.cbMu.Lock()
	d.image = nil
	d.decode = nil
	d.cbMu.Unlock()
}

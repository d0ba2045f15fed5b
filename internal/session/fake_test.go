package session

import (
	"sync"

	"github.com/hf1860/console/internal/sdk"
)

// fakeSDK records calls and returns scripted results.
type fakeSDK struct {
	mu sync.Mutex

	connectRes    sdk.Result
	disconnectRes sdk.Result
	liveViewRes   sdk.Result
	registerRes   sdk.Result
	delayRes      sdk.Result
	eventRes      sdk.Result

	delay    int
	liveView bool
	image    sdk.ImageCallback
	decode   sdk.DecodeCallback
	calls    []string
}

func newFakeSDK() *fakeSDK {
	return &fakeSDK{delay: 150}
}

func (f *fakeSDK) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeSDK) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSDK) Subscribed() (image, decode bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.image != nil, f.decode != nil
}

func (f *fakeSDK) Init() sdk.Result                            { return sdk.RetOK }
func (f *fakeSDK) DeInit()                                     {}
func (f *fakeSDK) RegisterFoundDevice(sdk.FoundDeviceCallback) {}
func (f *fakeSDK) SearchDevices() sdk.Result                   { return sdk.RetOK }

func (f *fakeSDK) ConnectDevice(serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("connect " + serial)
	return f.connectRes
}

func (f *fakeSDK) DisconnectDevice(serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("disconnect " + serial)
	return f.disconnectRes
}

func (f *fakeSDK) SetLiveViewOn(on bool, serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if on {
		f.record("liveview on")
	} else {
		f.record("liveview off")
	}
	if f.liveViewRes.OK() {
		f.liveView = on
	}
	return f.liveViewRes
}

func (f *fakeSDK) RegisterRecvImage(cb sdk.ImageCallback, serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb == nil {
		f.record("unregister image")
		f.image = nil
		return sdk.RetOK
	}
	f.record("register image")
	if f.registerRes.OK() {
		f.image = cb
	}
	return f.registerRes
}

func (f *fakeSDK) RegisterRecvDecode(cb sdk.DecodeCallback, serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cb == nil {
		f.record("unregister decode")
		f.decode = nil
		return sdk.RetOK
	}
	f.record("register decode")
	if f.registerRes.OK() {
		f.decode = cb
	}
	return f.registerRes
}

func (f *fakeSDK) GetOutputDelayTime(jobID, pinIndex int, serial string) (int, sdk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.delay, f.delayRes
}

func (f *fakeSDK) SetOutputDelayTime(jobID, pinIndex, ms int, serial string) sdk.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.delayRes.OK() {
		f.delay = ms
	}
	return f.delayRes
}

func (f *fakeSDK) GetOutputEvent(jobID, pinIndex int, serial string) ([]sdk.OutputEvent, sdk.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.eventRes.OK() {
		return nil, f.eventRes
	}
	return []sdk.OutputEvent{sdk.OutputEventDecodeSuccess}, sdk.RetOK
}

type fixedSelector struct {
	id  string
	err error
}

func (s *fixedSelector) Selected() (string, error) {
	if s.id == "" {
		return "", ErrNoDeviceSelected
	}
	return s.id, s.err
}

// Package sdk describes the vendor device SDK the console drives. The SDK
// owns its own goroutines: every callback registered here may be invoked
// concurrently with any console code and with other callbacks.
package sdk

import "fmt"

// Result is the status code returned by every SDK call.
type Result int

const (
	RetOK Result = iota
	RetFail
	RetNotInitialized
	RetNotFound
	RetBusy
	RetTimeout
	RetInvalidParam
	RetNotSupported
)

var resultNames = map[Result]string{
	RetOK:             "ok",
	RetFail:           "fail",
	RetNotInitialized: "not_initialized",
	RetNotFound:       "not_found",
	RetBusy:           "busy",
	RetTimeout:        "timeout",
	RetInvalidParam:   "invalid_param",
	RetNotSupported:   "not_supported",
}

func (r Result) String() string {
	if s, ok := resultNames[r]; ok {
		return s
	}
	return fmt.Sprintf("result(%d)", int(r))
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r == RetOK }

// Err returns nil for RetOK and a *ResultError otherwise.
func (r Result) Err() error {
	if r == RetOK {
		return nil
	}
	return &ResultError{Code: r}
}

// ResultError carries a non-OK SDK result through error chains.
type ResultError struct {
	Code Result
}

func (e *ResultError) Error() string {
	return "sdk: " + e.Code.String()
}

// DeviceInfo is delivered for each device found by SearchDevices.
type DeviceInfo struct {
	Serial string
	Model  string
	IP     string
}

// ImageData is one live view frame. Buf aliases SDK-owned memory and is
// only valid until the callback returns; Size is the number of valid bytes.
type ImageData struct {
	Buf  []byte
	Size int
}

// OutputEvent is the trigger source configured for an output pin.
type OutputEvent int

const (
	OutputEventNone OutputEvent = iota
	OutputEventDecodeSuccess
	OutputEventDecodeFail
	OutputEventMatch
	OutputEventMismatch
	OutputEventTriggerOn
	OutputEventTriggerOff
)

var outputEventNames = map[OutputEvent]string{
	OutputEventNone:          "none",
	OutputEventDecodeSuccess: "decode_success",
	OutputEventDecodeFail:    "decode_fail",
	OutputEventMatch:         "match",
	OutputEventMismatch:      "mismatch",
	OutputEventTriggerOn:     "trigger_on",
	OutputEventTriggerOff:    "trigger_off",
}

func (e OutputEvent) String() string {
	if s, ok := outputEventNames[e]; ok {
		return s
	}
	return "unknown"
}

type (
	FoundDeviceCallback func(info DeviceInfo)
	ImageCallback       func(img ImageData, serial string)
	DecodeCallback      func(code string, length int, serial string)
)

// SDK is the capability surface of the vendor library. Passing a nil
// callback to a Register method removes the registration; once the
// Register call returns, the previous callback is no longer invoked.
type SDK interface {
	Init() Result
	DeInit()

	RegisterFoundDevice(cb FoundDeviceCallback)
	SearchDevices() Result

	ConnectDevice(serial string) Result
	DisconnectDevice(serial string) Result

	SetLiveViewOn(on bool, serial string) Result
	RegisterRecvImage(cb ImageCallback, serial string) Result
	RegisterRecvDecode(cb DecodeCallback, serial string) Result

	GetOutputDelayTime(jobID, pinIndex int, serial string) (int, Result)
	SetOutputDelayTime(jobID, pinIndex, ms int, serial string) Result
	GetOutputEvent(jobID, pinIndex int, serial string) ([]OutputEvent, Result)
}

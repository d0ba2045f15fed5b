package session

import (
	"errors"

	"github.com/hf1860/console/internal/device"
)

var (
	ErrNoDeviceSelected    = device.ErrNoDeviceSelected
	ErrConnectionFailed    = errors.New("connection failed")
	ErrDisconnectionFailed = errors.New("disconnection failed")
	ErrNotConnected        = errors.New("not connected")
	ErrInvalidRange        = errors.New("output delay out of range")
	ErrLiveViewFailed      = errors.New("live view failed")
	ErrOutputDelayFailed   = errors.New("output delay failed")
	ErrOutputEventFailed   = errors.New("output event query failed")
	ErrReentrant           = errors.New("lifecycle call from dispatcher loop")
	ErrIllegalTransition   = errors.New("illegal session transition")
)

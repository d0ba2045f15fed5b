// Package device keeps the set of devices found by discovery and the
// operator's current selection.
package device

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

var (
	ErrNoDeviceSelected = errors.New("no device selected")
	ErrUnknownDevice    = errors.New("unknown device")
)

// Directory is an insertion-ordered, duplicate-free list of device serials.
// Writes happen on the dispatcher loop; reads may come from any goroutine.
type Directory struct {
	mu        sync.RWMutex
	ids       []string
	known     map[string]struct{}
	selected  string
	listeners []func([]string)
}

func NewDirectory() *Directory {
	return &Directory{
		known: make(map[string]struct{}),
	}
}

// OnDeviceDiscovered appends id unless it is already present and reports
// whether the directory changed. Listeners only hear about changes.
func (d *Directory) OnDeviceDiscovered(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	if _, ok := d.known[id]; ok {
		d.mu.Unlock()
		return false
	}
	d.known[id] = struct{}{}
	d.ids = append(d.ids, id)
	snapshot := slices.Clone(d.ids)
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return true
}

// Reset starts a new discovery cycle. The selection survives so a device
// that answers again stays selected; it is cleared only by Select("").
func (d *Directory) Reset() {
	d.mu.Lock()
	d.ids = nil
	d.known = make(map[string]struct{})
	listeners := slices.Clone(d.listeners)
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
}

// Subscribe registers fn to receive the full list after every change.
func (d *Directory) Subscribe(fn func([]string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners = append(d.listeners, fn)
}

// List returns a copy of the directory in discovery order.
func (d *Directory) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.ids)
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.ids)
}

func (d *Directory) Contains(id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.known[id]
	return ok
}

// Select makes id the current selection. An empty id clears it.
func (d *Directory) Select(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id == "" {
		d.selected = ""
		return nil
	}
	if _, ok := d.known[id]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, id)
	}
	d.selected = id
	return nil
}

// Selected returns the current selection or ErrNoDeviceSelected.
func (d *Directory) Selected() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.selected == "" {
		return "", ErrNoDeviceSelected
	}
	return d.selected, nil
}

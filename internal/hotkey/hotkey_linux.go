//go:build linux

package hotkey

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Linux input-event-codes for the chord.
const (
	evKey     = 0x01
	keyLCtrl  = 29
	keyRCtrl  = 97
	keyLShift = 42
	keyRShift = 54
	keyH      = 35
)

// Key event values; 2 is autorepeat.
const (
	valueUp   = 0
	valueDown = 1
)

// struct input_event on 64-bit: 16-byte timeval, then type, code, value.
const eventSize = 24

// ErrNoKeyboards is returned when no input device advertises the chord keys.
var ErrNoKeyboards = errors.New("no keyboard devices found (is the user in the 'input' group?)")

type inputEvent struct {
	typ   uint16
	code  uint16
	value int32
}

func decodeEvent(b []byte) inputEvent {
	return inputEvent{
		typ:   binary.LittleEndian.Uint16(b[16:18]),
		code:  binary.LittleEndian.Uint16(b[18:20]),
		value: int32(binary.LittleEndian.Uint32(b[20:24])),
	}
}

type deviceDirs struct {
	dev string
	sys string
}

var systemDirs = deviceDirs{dev: "/dev/input", sys: "/sys/class/input"}

// keyboards lists event nodes whose key capabilities include the chord keys.
func (d deviceDirs) keyboards() ([]string, error) {
	entries, err := os.ReadDir(d.dev)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", d.dev, err)
	}
	var found []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "event") {
			continue
		}
		caps, err := os.ReadFile(filepath.Join(d.sys, name, "device", "capabilities", "key"))
		if err != nil {
			continue
		}
		if hasKeys(string(caps), keyLCtrl, keyLShift, keyH) {
			found = append(found, filepath.Join(d.dev, name))
		}
	}
	return found, nil
}

// hasKeys reports whether every code is set in a sysfs capability bitmap:
// space-separated hex words of native long width, most significant first.
func hasKeys(bitmap string, codes ...int) bool {
	words := strings.Fields(bitmap)
	for _, code := range codes {
		idx := len(words) - 1 - code/bits.UintSize
		if idx < 0 {
			return false
		}
		word, err := strconv.ParseUint(words[idx], 16, bits.UintSize)
		if err != nil || word&(1<<(code%bits.UintSize)) == 0 {
			return false
		}
	}
	return true
}

type linuxHotkey struct {
	dirs    deviceDirs
	keydown chan struct{}

	mu      sync.Mutex
	devices []*os.File
	closed  bool
}

// New returns a hotkey that reads every keyboard through evdev, so it works
// under Wayland compositors without a grab.
func New() Hotkey {
	return &linuxHotkey{dirs: systemDirs, keydown: make(chan struct{}, 1)}
}

func (h *linuxHotkey) Register() error {
	paths, err := h.dirs.keyboards()
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return ErrNoKeyboards
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	var openErrs []error
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			openErrs = append(openErrs, err)
			continue
		}
		h.devices = append(h.devices, f)
		go h.watch(f)
	}
	if len(h.devices) == 0 {
		return fmt.Errorf("open keyboards (add the user to the 'input' group and log in again): %w", errors.Join(openErrs...))
	}
	return nil
}

// watch runs until the device is closed by Unregister or disappears.
func (h *linuxHotkey) watch(f *os.File) {
	buf := make([]byte, eventSize*32)
	var chord chordTracker
	for {
		n, err := f.Read(buf)
		if err != nil {
			return
		}
		for off := 0; off+eventSize <= n; off += eventSize {
			if chord.feed(decodeEvent(buf[off : off+eventSize])) {
				signal(h.keydown)
			}
		}
	}
}

func (h *linuxHotkey) Unregister() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, f := range h.devices {
		_ = f.Close()
	}
	h.devices = nil
}

func (h *linuxHotkey) Keydown() <-chan struct{} {
	return h.keydown
}

// chordTracker follows modifier state for one keyboard and reports the H
// press that completes Ctrl+Shift+H. Autorepeat does not fire again.
type chordTracker struct {
	ctrl, shift, h bool
}

func (c *chordTracker) feed(ev inputEvent) bool {
	if ev.typ != evKey {
		return false
	}
	held := func(prev bool) bool {
		switch ev.value {
		case valueDown:
			return true
		case valueUp:
			return false
		}
		return prev
	}

	switch ev.code {
	case keyLCtrl, keyRCtrl:
		c.ctrl = held(c.ctrl)
	case keyLShift, keyRShift:
		c.shift = held(c.shift)
	case keyH:
		wasDown := c.h
		c.h = held(c.h)
		return c.h && !wasDown && c.ctrl && c.shift
	}
	return false
}

// Diagnose reports whether a keyboard device can be opened.
func Diagnose() (string, error) {
	return systemDirs.diagnose()
}

func (d deviceDirs) diagnose() (string, error) {
	paths, err := d.keyboards()
	if err != nil {
		return "", err
	}
	if len(paths) == 0 {
		return "", ErrNoKeyboards
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		_ = f.Close()
		return fmt.Sprintf("%d keyboard(s) found, opened %s", len(paths), path), nil
	}
	return "", fmt.Errorf("found %d keyboard(s) but cannot open any (add the user to the 'input' group)", len(paths))
}

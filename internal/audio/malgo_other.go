//go:build !linux

package audio

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/rbright/hotcap/internal/capture"
)

// ListDevices returns miniaudio capture devices.
func ListDevices(_ context.Context) ([]Device, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	infos, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	devices := make([]Device, 0, len(infos))
	for _, info := range infos {
		devices = append(devices, Device{
			ID:          hex.EncodeToString(info.ID.Pointer()[:]),
			Description: info.Name(),
			State:       "unknown",
			Available:   true,
			Default:     info.IsDefault != 0,
		})
	}
	return devices, nil
}

// NewSource returns the platform capture source honoring input/fallback preferences.
func NewSource(input string, fallback string, logger *slog.Logger) capture.Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &MalgoSource{Input: input, Fallback: fallback, Logger: logger}
}

// MalgoSource records from a miniaudio capture device per subscription.
type MalgoSource struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

// Subscribe opens the selected device in the session format and delivers every
// captured buffer to onChunk.
func (m *MalgoSource) Subscribe(ctx context.Context, cfg capture.Config, onChunk func([]byte)) (capture.Subscription, error) {
	logger := m.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	format, err := malgoFormat(cfg.BitDepth)
	if err != nil {
		return nil, err
	}

	selection, err := SelectDevice(ctx, m.Input, m.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" {
		logger.Warn(selection.Warning, "device", selection.Device.ID)
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	sub := &malgoSubscription{ctx: mctx, onChunk: onChunk}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = cfg.SampleRate

	idBytes, err := hex.DecodeString(selection.Device.ID)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("invalid device ID: %w", err)
	}
	var devID malgo.DeviceID
	copy(devID[:], idBytes)
	deviceConfig.Capture.DeviceID = devID.Pointer()

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			sub.onData(input)
		},
	})
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	sub.device = device

	if err := device.Start(); err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	logger.Info("audio source subscribed",
		"device", selection.Device.ID,
		"description", selection.Device.Description,
		"fallback", selection.Fallback,
	)
	return sub, nil
}

type malgoSubscription struct {
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	onChunk func([]byte)

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// Unsubscribe stops the device and releases the context. No callback runs
// after Unsubscribe returns.
func (s *malgoSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	if s.device != nil {
		_ = s.device.Stop()
		s.device.Uninit()
	}
	s.inflight.Wait()
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
	}
	return nil
}

func (s *malgoSubscription) onData(input []byte) {
	if len(input) == 0 {
		return
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	chunk := make([]byte, len(input))
	copy(chunk, input)
	s.onChunk(chunk)
}

func malgoFormat(bitDepth uint8) (malgo.FormatType, error) {
	switch bitDepth {
	case 8:
		return malgo.FormatU8, nil
	case 16:
		return malgo.FormatS16, nil
	case 24:
		return malgo.FormatS24, nil
	case 32:
		return malgo.FormatF32, nil
	default:
		return malgo.FormatUnknown, fmt.Errorf("unsupported capture bit depth %d", bitDepth)
	}
}

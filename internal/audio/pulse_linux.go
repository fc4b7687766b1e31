//go:build linux

package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"

	"github.com/rbright/hotcap/internal/capture"
)

// fragmentsPerSecond sets the record fragment to 20ms of audio.
const fragmentsPerSecond = 50

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(applicationName),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns available Pulse input sources with default/availability metadata.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	defaultSource, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}
	defaultID := defaultSource.ID()

	var sourceInfos pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &sourceInfos); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(sourceInfos))
	for _, source := range sourceInfos {
		if source == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          source.SourceName,
			Description: source.Device,
			State:       sourceStateString(source.State),
			Available:   sourceAvailable(source),
			Muted:       source.Mute,
			Default:     source.SourceName == defaultID,
		})
	}
	return devices, nil
}

// NewSource returns the platform capture source honoring input/fallback preferences.
func NewSource(input string, fallback string, logger *slog.Logger) capture.Source {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &PulseSource{Input: input, Fallback: fallback, Logger: logger}
}

// PulseSource records from one Pulse input source per subscription.
type PulseSource struct {
	Input    string
	Fallback string
	Logger   *slog.Logger
}

// Subscribe resolves a device, opens a record stream in the session format,
// and delivers every PCM buffer Pulse hands over to onChunk.
func (p *PulseSource) Subscribe(ctx context.Context, cfg capture.Config, onChunk func([]byte)) (capture.Subscription, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	format, err := pulseFormat(cfg.BitDepth)
	if err != nil {
		return nil, err
	}
	channels, err := pulseChannels(cfg.Channels)
	if err != nil {
		return nil, err
	}

	selection, err := SelectDevice(ctx, p.Input, p.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" {
		logger.Warn(selection.Warning, "device", selection.Device.ID)
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}
	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	sub := &pulseSubscription{
		device:  selection.Device,
		client:  client,
		onChunk: onChunk,
		stopCh:  make(chan struct{}),
	}

	fragment := cfg.BytesPerSecond() / fragmentsPerSecond
	fragment -= fragment % int64(cfg.FrameSize())
	writer := pulse.NewWriter(writerFunc(sub.onPCM), format)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		channels,
		pulse.RecordSampleRate(int(cfg.SampleRate)),
		pulse.RecordBufferFragmentSize(uint32(fragment)),
		pulse.RecordMediaName("hotcap capture"),
	)
	if err != nil {
		_ = sub.Unsubscribe()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}
	sub.stream = stream
	stream.Start()

	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-sub.stopCh:
		}
	}()

	logger.Info("audio source subscribed",
		"device", selection.Device.ID,
		"description", selection.Device.Description,
		"fallback", selection.Fallback,
	)
	return sub, nil
}

// pulseSubscription is one live record stream.
type pulseSubscription struct {
	device Device

	client  *pulse.Client
	stream  *pulse.RecordStream
	onChunk func([]byte)

	stopCh chan struct{}

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

// Unsubscribe stops the stream and waits for an in-flight delivery to return.
// No callback runs after Unsubscribe returns.
func (s *pulseSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()
	return nil
}

// onPCM copies each Pulse buffer and hands it to the subscriber.
func (s *pulseSubscription) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Add under the same mutex as stopped to avoid Add/Wait races.
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	chunk := make([]byte, len(buffer))
	copy(chunk, buffer)
	s.onChunk(chunk)
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}

// pulseFormat maps a session bit depth to the Pulse sample format. 32-bit
// capture is float, matching the WAV export tag. The pulse client has no
// packed 24-bit format, so 24-bit capture needs the miniaudio backend.
func pulseFormat(bitDepth uint8) (byte, error) {
	switch bitDepth {
	case 8:
		return pulseproto.FormatUint8, nil
	case 16:
		return pulseproto.FormatInt16LE, nil
	case 24:
		return 0, errors.New("pulse record streams do not support 24-bit samples")
	case 32:
		return pulseproto.FormatFloat32LE, nil
	default:
		return 0, fmt.Errorf("unsupported pulse bit depth %d", bitDepth)
	}
}

func pulseChannels(channels uint8) (pulse.RecordOption, error) {
	switch channels {
	case 1:
		return pulse.RecordMono, nil
	case 2:
		return pulse.RecordStereo, nil
	default:
		return nil, fmt.Errorf("unsupported pulse channel count %d", channels)
	}
}

// sourceStateString maps Pulse source state constants to human-readable values.
func sourceStateString(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// sourceAvailable maps Pulse source port availability to a simple boolean.
func sourceAvailable(source *pulseproto.GetSourceInfoReply) bool {
	if source == nil {
		return false
	}
	if len(source.Ports) == 0 {
		return true
	}
	for _, port := range source.Ports {
		if port.Name != source.ActivePortName {
			continue
		}
		// PulseAudio values: unknown=0, no=1, yes=2.
		return port.Available == 0 || port.Available == 2
	}
	return true
}

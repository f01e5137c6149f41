package capture

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// Bound on chunks buffered between the PortAudio callback and the engine.
// When the engine falls behind, the oldest chunk is dropped so the
// callback never blocks inside the audio thread.
const maxPendingChunks = 100

// PortAudioSource captures from a real input device. The stream callback
// hands int16 frames to a buffered channel; NextChunk drains it.
type PortAudioSource struct {
	stream   *portaudio.Stream
	pending  chan []float32
	overruns atomic.Uint64

	mu   sync.Mutex
	open bool
}

// NewPortAudioSource creates an unopened source.
func NewPortAudioSource() *PortAudioSource {
	return &PortAudioSource{}
}

// Open implements SampleSource. The device ID is the PortAudio device
// index as a string; empty selects the default input device.
func (s *PortAudioSource) Open(deviceID string, sampleRate, channels, frames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.open {
		return fmt.Errorf("source is already open")
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	device, err := resolvePortAudioDevice(deviceID)
	if err != nil {
		portaudio.Terminate()
		return err
	}

	s.pending = make(chan []float32, maxPendingChunks)

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frames,
	}

	stream, err := portaudio.OpenStream(params, func(in []int16) {
		chunk := make([]float32, len(in))
		for i, v := range in {
			chunk[i] = float32(v) / 32768.0
		}

		select {
		case s.pending <- chunk:
		default:
			// Drop the oldest chunk to make room for the newest.
			select {
			case <-s.pending:
				s.overruns.Add(1)
			default:
			}
			select {
			case s.pending <- chunk:
			default:
			}
		}
	})
	if err != nil {
		portaudio.Terminate()
		return fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return fmt.Errorf("failed to start audio stream: %w", err)
	}

	s.stream = stream
	s.open = true

	return nil
}

// NextChunk implements SampleSource. It returns an empty slice when the
// callback has not produced new data yet.
func (s *PortAudioSource) NextChunk() ([]float32, error) {
	s.mu.Lock()
	open := s.open
	pending := s.pending
	s.mu.Unlock()

	if !open {
		return nil, fmt.Errorf("source is not open")
	}

	select {
	case chunk := <-pending:
		return chunk, nil
	default:
		return nil, nil
	}
}

// Overruns returns how many chunks were dropped because the engine fell
// behind the callback.
func (s *PortAudioSource) Overruns() uint64 {
	return s.overruns.Load()
}

// Close implements SampleSource.
func (s *PortAudioSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.open {
		return nil
	}
	s.open = false

	var firstErr error
	if err := s.stream.Stop(); err != nil {
		firstErr = fmt.Errorf("failed to stop audio stream: %w", err)
	}
	if err := s.stream.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to close audio stream: %w", err)
	}
	s.stream = nil

	if err := portaudio.Terminate(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("failed to terminate PortAudio: %w", err)
	}

	return firstErr
}

func resolvePortAudioDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("failed to get default input device: %w", err)
		}
		return device, nil
	}

	index, err := strconv.Atoi(deviceID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio devices: %w", err)
	}

	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceID)
	}

	device := devices[index]
	if device.MaxInputChannels == 0 {
		return nil, fmt.Errorf("%w: %s is not an input device", ErrDeviceNotFound, deviceID)
	}

	return device, nil
}

// PortAudioLister enumerates real input devices.
type PortAudioLister struct{}

// Devices implements DeviceLister.
func (l *PortAudioLister) Devices() ([]Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	defer portaudio.Terminate()

	defaultDevice, _ := portaudio.DefaultInputDevice()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to get audio devices: %w", err)
	}

	out := make([]Device, 0, len(devices))
	for i, device := range devices {
		if device.MaxInputChannels == 0 {
			continue
		}

		out = append(out, Device{
			ID:      strconv.Itoa(i),
			Name:    device.Name,
			Default: defaultDevice != nil && device.Name == defaultDevice.Name,
		})
	}

	return out, nil
}

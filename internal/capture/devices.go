package capture

import "errors"

// ErrDeviceNotFound is returned when starting a recording on an unknown
// device ID.
var ErrDeviceNotFound = errors.New("audio device not found")

// Device describes one audio input device.
type Device struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Default bool   `json:"default"`
}

// DeviceLister enumerates available input devices.
type DeviceLister interface {
	Devices() ([]Device, error)
}

// StaticLister serves a fixed device list. It backs the synthetic source,
// where the single "device" is the generator itself.
type StaticLister struct {
	List []Device
}

// Devices implements DeviceLister.
func (l *StaticLister) Devices() ([]Device, error) {
	if len(l.List) == 0 {
		return []Device{{ID: "default", Name: "Synthetic Input", Default: true}}, nil
	}

	out := make([]Device, len(l.List))
	copy(out, l.List)
	return out, nil
}

// Resolve validates a device ID against the lister, mapping the empty ID
// to the default device.
func Resolve(lister DeviceLister, id string) (Device, error) {
	devices, err := lister.Devices()
	if err != nil {
		return Device{}, err
	}

	if id == "" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		if len(devices) > 0 {
			return devices[0], nil
		}
		return Device{}, ErrDeviceNotFound
	}

	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}

	return Device{}, ErrDeviceNotFound
}

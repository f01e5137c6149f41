package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedSamples is returned when the encoder is handed sample data it
// cannot represent as 16-bit PCM (NaN/Inf samples, invalid rate or channel
// count).
var ErrMalformedSamples = errors.New("malformed sample data")

// WAVHeader represents the 44-byte canonical WAV file header.
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // data bytes
}

const headerSize = 44

// EncodeWAV converts float samples in [-1, 1] into a canonical 16-bit PCM
// WAV buffer. Samples outside the range are clamped before scaling by 32767.
// The function is pure: identical inputs yield byte-identical output. An
// empty sample slice produces a valid 44-byte file with an empty data chunk.
func EncodeWAV(samples []float32, sampleRate, channels int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate must be positive, got %d", ErrMalformedSamples, sampleRate)
	}

	if channels < 1 {
		return nil, fmt.Errorf("%w: channel count must be at least 1, got %d", ErrMalformedSamples, channels)
	}

	for i, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return nil, fmt.Errorf("%w: sample %d is not finite", ErrMalformedSamples, i)
		}
	}

	dataSize := uint32(len(samples) * 2)

	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     36 + dataSize,
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1, // PCM
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate) * uint32(channels) * 2,
		BlockAlign:    uint16(channels) * 2,
		BitsPerSample: 16,
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: dataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(samples)*2))

	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}

	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = quantize(s)
	}

	if err := binary.Write(buf, binary.LittleEndian, pcm); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}

	return buf.Bytes(), nil
}

// quantize clamps a float sample to [-1, 1] and converts it to int16.
func quantize(s float32) int16 {
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(math.Round(float64(s) * 32767))
}

// DecodeWAV decodes a canonical WAV buffer back into float samples together
// with the sample rate and channel count from the header.
func DecodeWAV(data []byte) ([]float32, int, int, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, 0, err
	}

	numSamples := int(header.Subchunk2Size) / 2
	if headerSize+numSamples*2 > len(data) {
		return nil, 0, 0, fmt.Errorf("WAV data truncated: header declares %d data bytes, have %d",
			header.Subchunk2Size, len(data)-headerSize)
	}

	pcm := make([]int16, numSamples)
	if err := binary.Read(bytes.NewReader(data[headerSize:]), binary.LittleEndian, pcm); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to read audio samples: %w", err)
	}

	samples := make([]float32, numSamples)
	for i, v := range pcm {
		samples[i] = float32(v) / 32767
	}

	return samples, int(header.SampleRate), int(header.NumChannels), nil
}

// ValidateWAV checks that a buffer carries the canonical header layout
// without decoding the audio data.
func ValidateWAV(data []byte) error {
	if len(data) < headerSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", headerSize, len(data))
	}

	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}

	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}

	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}

	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}

	return nil
}

// Duration returns the playback duration of a WAV buffer in seconds.
func Duration(data []byte) (float64, error) {
	header, err := readHeader(data)
	if err != nil {
		return 0, err
	}

	frames := float64(header.Subchunk2Size) / float64(header.BlockAlign)
	return frames / float64(header.SampleRate), nil
}

// Info describes the format of a WAV buffer.
type Info struct {
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	BitsPerSample int     `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      int     `json:"data_size_bytes"`
	NumSamples    int     `json:"num_samples"`
}

// GetInfo extracts format metadata from a WAV buffer.
func GetInfo(data []byte) (*Info, error) {
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}

	numSamples := int(header.Subchunk2Size) / 2
	frames := float64(header.Subchunk2Size) / float64(header.BlockAlign)

	return &Info{
		SampleRate:    int(header.SampleRate),
		Channels:      int(header.NumChannels),
		BitsPerSample: int(header.BitsPerSample),
		Duration:      frames / float64(header.SampleRate),
		DataSize:      int(header.Subchunk2Size),
		NumSamples:    numSamples,
	}, nil
}

func readHeader(data []byte) (*WAVHeader, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}

	var header WAVHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read WAV header: %w", err)
	}

	if header.AudioFormat != 1 {
		return nil, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}

	if header.BitsPerSample != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}

	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}

	if header.BlockAlign == 0 {
		return nil, fmt.Errorf("invalid block align: 0")
	}

	return &header, nil
}

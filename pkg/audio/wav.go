package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const wavHeaderSize = 44

var ErrNotWAV = errors.New("not a PCM WAV stream")

// Clip is decoded PCM with its format.
type Clip struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

func writeHeader(w io.Writer, sampleRate, channels, dataLen int) error {
	blockAlign := channels * 2
	h := struct {
		RIFF          [4]byte
		ChunkSize     uint32
		WAVE          [4]byte
		Fmt           [4]byte
		FmtSize       uint32
		AudioFormat   uint16
		NumChannels   uint16
		SampleRate    uint32
		ByteRate      uint32
		BlockAlign    uint16
		BitsPerSample uint16
		Data          [4]byte
		DataSize      uint32
	}{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + dataLen),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: 16,
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataLen),
	}
	return binary.Write(w, binary.LittleEndian, &h)
}

// EncodeWAV wraps samples in a 16-bit PCM WAV container.
func EncodeWAV(samples []int16, sampleRate, channels int) []byte {
	if channels <= 0 {
		channels = 1
	}
	var buf bytes.Buffer
	buf.Grow(wavHeaderSize + len(samples)*2)
	_ = writeHeader(&buf, sampleRate, channels, len(samples)*2)
	_ = binary.Write(&buf, binary.LittleEndian, samples)
	return buf.Bytes()
}

// DecodeWAV reads a 16-bit PCM WAV. Unknown chunks are skipped.
func DecodeWAV(data []byte) (*Clip, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, ErrNotWAV
	}
	clip := &Clip{}
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		body := pos + 8
		end := body + size
		if end > len(data) {
			end = len(data)
		}
		switch id {
		case "fmt ":
			if end-body < 16 {
				return nil, fmt.Errorf("%w: short fmt chunk", ErrNotWAV)
			}
			format := binary.LittleEndian.Uint16(data[body:])
			bits := binary.LittleEndian.Uint16(data[body+14:])
			if format != 1 || bits != 16 {
				return nil, fmt.Errorf("%w: format=%d bits=%d", ErrNotWAV, format, bits)
			}
			clip.Channels = int(binary.LittleEndian.Uint16(data[body+2:]))
			clip.SampleRate = int(binary.LittleEndian.Uint32(data[body+4:]))
		case "data":
			if clip.SampleRate == 0 {
				return nil, fmt.Errorf("%w: data before fmt", ErrNotWAV)
			}
			clip.Samples = BytesToInt16(data[body:end])
			return clip, nil
		}
		pos = end + size%2
	}
	return nil, fmt.Errorf("%w: no data chunk", ErrNotWAV)
}

// WAVWriter streams PCM to a seekable sink and patches the header on Close.
type WAVWriter struct {
	w          io.WriteSeeker
	sampleRate int
	channels   int
	dataLen    int
}

// NewWAVWriter writes a placeholder header immediately.
func NewWAVWriter(w io.WriteSeeker, sampleRate, channels int) (*WAVWriter, error) {
	if err := writeHeader(w, sampleRate, channels, 0); err != nil {
		return nil, err
	}
	return &WAVWriter{w: w, sampleRate: sampleRate, channels: channels}, nil
}

// Write appends samples.
func (ww *WAVWriter) Write(samples []int16) error {
	if err := binary.Write(ww.w, binary.LittleEndian, samples); err != nil {
		return err
	}
	ww.dataLen += len(samples) * 2
	return nil
}

// SampleRate returns the rate the header was written with.
func (ww *WAVWriter) SampleRate() int {
	return ww.sampleRate
}

// Close rewrites the header with final sizes. It does not close the sink.
func (ww *WAVWriter) Close() error {
	if _, err := ww.w.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := writeHeader(ww.w, ww.sampleRate, ww.channels, ww.dataLen); err != nil {
		return err
	}
	_, err := ww.w.Seek(0, io.SeekEnd)
	return err
}

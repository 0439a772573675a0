package recorder

import (
	"encoding/binary"
	"io"
	"time"
)

// HeaderSize is the length of the canonical PCM WAV header written at the
// start of every artifact.
const HeaderSize = 44

// Format describes the PCM stream delivered by the voice transport.
type Format struct {
	SampleRate int `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels   int `yaml:"channels" env:"CHANNELS"`
	BitDepth   int `yaml:"bit_depth" env:"BIT_DEPTH"`
}

// DefaultFormat matches the voice transport's decoded output: 48kHz stereo s16le.
func DefaultFormat() Format {
	return Format{SampleRate: 48000, Channels: 2, BitDepth: 16}
}

// BlockAlign is the number of bytes per sample frame.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitDepth / 8
}

// ByteRate is the number of payload bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.BlockAlign()
}

// Duration converts a payload size into playback time.
func (f Format) Duration(payload int64) time.Duration {
	rate := f.ByteRate()
	if rate <= 0 {
		return 0
	}
	return time.Duration(payload) * time.Second / time.Duration(rate)
}

// header renders a WAV header for a payload of dataSize bytes.
func (f Format) header(dataSize uint32) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], 36+dataSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16)
	binary.LittleEndian.PutUint16(h[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(h[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(h[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(h[34:36], uint16(f.BitDepth))
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// patchSizes rewrites the RIFF and data chunk sizes once the payload length is known.
func patchSizes(w io.WriterAt, dataSize uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], 36+dataSize)
	if _, err := w.WriteAt(buf[:], 4); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(buf[:], dataSize)
	_, err := w.WriteAt(buf[:], 40)
	return err
}

// ReadFormat parses the header of an artifact produced by a Recorder.
// It returns the format and declared payload size.
func ReadFormat(r io.ReaderAt) (Format, uint32, error) {
	h := make([]byte, HeaderSize)
	if _, err := r.ReadAt(h, 0); err != nil {
		return Format{}, 0, err
	}
	if string(h[0:4]) != "RIFF" || string(h[8:12]) != "WAVE" || string(h[36:40]) != "data" {
		return Format{}, 0, ErrInvalidArtifact
	}
	f := Format{
		Channels:   int(binary.LittleEndian.Uint16(h[22:24])),
		SampleRate: int(binary.LittleEndian.Uint32(h[24:28])),
		BitDepth:   int(binary.LittleEndian.Uint16(h[34:36])),
	}
	return f, binary.LittleEndian.Uint32(h[40:44]), nil
}

// Package wavfile reads and writes the canonical mono 16-bit PCM WAV
// container used for captured audio.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	// Channels is the channel count of every container this package writes.
	Channels = 1
	// BitsPerSample is the sample width, in bits, of every container this package writes.
	BitsPerSample = 16
	// SampleWidth is BitsPerSample expressed in bytes.
	SampleWidth = BitsPerSample / 8

	formatPCM = 1
)

// ErrUnsupported is returned for containers that are not 16-bit PCM WAV.
var ErrUnsupported = errors.New("unsupported wav container")

// Info describes the header of a WAV container.
type Info struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
	Frames        int
}

// Duration is the playback length implied by Frames and SampleRate.
func (i Info) Duration() time.Duration {
	if i.SampleRate <= 0 {
		return 0
	}
	return time.Duration(i.Frames) * time.Second / time.Duration(i.SampleRate)
}

// Write encodes mono samples as a PCM WAV container with the given rate.
// ws is seeked back to patch the RIFF and data chunk sizes on close.
func Write(ws io.WriteSeeker, samples []int16, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: Channels, SampleRate: sampleRate},
		SourceBitDepth: BitsPerSample,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = int(s)
	}

	enc := wav.NewEncoder(ws, sampleRate, BitsPerSample, Channels, formatPCM)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Read decodes a 16-bit PCM container. Samples are returned interleaved
// when the container has more than one channel.
func Read(rs io.ReadSeeker) (Info, []int16, error) {
	dec, err := openDecoder(rs)
	if err != nil {
		return Info{}, nil, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, nil, fmt.Errorf("decode pcm: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	info := infoFrom(dec)
	info.Frames = len(samples) / info.Channels
	return info, samples, nil
}

// Inspect reads only the header of the container at path.
func Inspect(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer f.Close()

	dec, err := openDecoder(f)
	if err != nil {
		return Info{}, err
	}
	if err := dec.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("locate data chunk: %w", err)
	}
	info := infoFrom(dec)
	info.Frames = int(dec.PCMLen()) / (info.Channels * SampleWidth)
	return info, nil
}

func openDecoder(rs io.ReadSeeker) (*wav.Decoder, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		if err := dec.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
		}
		return nil, fmt.Errorf("%w: not a RIFF/WAVE file", ErrUnsupported)
	}
	if dec.WavAudioFormat != formatPCM {
		return nil, fmt.Errorf("%w: audio format %d is not PCM", ErrUnsupported, dec.WavAudioFormat)
	}
	if dec.BitDepth != BitsPerSample {
		return nil, fmt.Errorf("%w: %d-bit samples", ErrUnsupported, dec.BitDepth)
	}
	return dec, nil
}

func infoFrom(dec *wav.Decoder) Info {
	return Info{
		Channels:      int(dec.NumChans),
		SampleRate:    int(dec.SampleRate),
		BitsPerSample: int(dec.BitDepth),
	}
}

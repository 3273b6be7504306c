package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/youpy/go-wav"
)

const wavFormatPCM = 1

// Wave is a decoded mono WAV file.
type Wave struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the length of the wave in seconds.
func (w Wave) Duration() float32 {
	if w.SampleRate == 0 {
		return 0
	}
	return float32(len(w.Samples)) / float32(w.SampleRate)
}

// WAVReader is what [ReadWAV] needs from its input; *os.File and
// *bytes.Reader satisfy it.
type WAVReader interface {
	io.Reader
	io.ReaderAt
}

// ReadWAV decodes a 16-bit PCM WAV file. Stereo input is downmixed to mono.
func ReadWAV(r WAVReader) (Wave, error) {
	reader := wav.NewReader(r)
	format, err := reader.Format()
	if err != nil {
		return Wave{}, fmt.Errorf("audio: read wav format: %w", err)
	}
	if format.AudioFormat != wavFormatPCM {
		return Wave{}, fmt.Errorf("audio: only PCM wav is supported, got format %d", format.AudioFormat)
	}
	if format.BitsPerSample != 16 {
		return Wave{}, fmt.Errorf("audio: only 16-bit wav is supported, got %d bits", format.BitsPerSample)
	}
	channels := int(format.NumChannels)
	if channels < 1 || channels > 2 {
		return Wave{}, fmt.Errorf("audio: only mono or stereo wav is supported, got %d channels", channels)
	}

	var samples []float32
	for {
		batch, err := reader.ReadSamples()
		for _, s := range batch {
			var sum float32
			for ch := range channels {
				sum += float32(reader.IntValue(s, uint(ch))) / 32768
			}
			samples = append(samples, sum/float32(channels))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Wave{}, fmt.Errorf("audio: read wav samples: %w", err)
		}
	}
	return Wave{Samples: samples, SampleRate: int(format.SampleRate)}, nil
}

// ReadWAVFile opens and decodes the WAV file at path.
func ReadWAVFile(path string) (Wave, error) {
	f, err := os.Open(path)
	if err != nil {
		return Wave{}, fmt.Errorf("audio: %w", err)
	}
	defer f.Close()
	return ReadWAV(f)
}

// WriteWAV encodes samples as a 16-bit mono PCM WAV file.
func WriteWAV(w io.Writer, samples []float32, sampleRate int) error {
	writer := wav.NewWriter(w, uint32(len(samples)), 1, uint32(sampleRate), 16)
	out := make([]wav.Sample, len(samples))
	for i, s := range samples {
		out[i].Values[0] = int(floatToInt16(s))
	}
	if err := writer.WriteSamples(out); err != nil {
		return fmt.Errorf("audio: write wav: %w", err)
	}
	return nil
}

// WriteWAVFile writes samples to a new WAV file at path.
func WriteWAVFile(path string, samples []float32, sampleRate int) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("audio: close %s: %w", path, cerr)
		}
	}()
	return WriteWAV(f, samples, sampleRate)
}

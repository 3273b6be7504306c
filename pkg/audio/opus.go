package audio

import (
	"fmt"

	"layeh.com/gopus"
)

// maxOpusFrameMs is the longest frame an Opus packet can carry.
const maxOpusFrameMs = 120

// opusDecoder wraps a gopus decoder for a single client stream. Each stream
// gets its own decoder to keep decoder state correct across packets.
type opusDecoder struct {
	dec       *gopus.Decoder
	frameSize int
}

// newOpusDecoder creates a decoder producing interleaved PCM at sampleRate.
// Opus supports 8, 12, 16, 24 and 48 kHz.
func newOpusDecoder(sampleRate, channels int) (*opusDecoder, error) {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return nil, fmt.Errorf("audio: opus does not support %d Hz", sampleRate)
	}
	if channels > 2 {
		return nil, fmt.Errorf("audio: opus supports at most 2 channels, got %d", channels)
	}
	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus decoder: %w", err)
	}
	return &opusDecoder{dec: dec, frameSize: sampleRate * maxOpusFrameMs / 1000}, nil
}

// decode decodes one Opus packet into interleaved int16 samples.
func (d *opusDecoder) decode(packet []byte) ([]int16, error) {
	pcm, err := d.dec.Decode(packet, d.frameSize, false)
	if err != nil {
		return nil, fmt.Errorf("audio: opus decode: %w", err)
	}
	return pcm, nil
}

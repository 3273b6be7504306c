package recognizer

import (
	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/decode"
	"github.com/MrWong99/streamasr/pkg/endpoint"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/inference"
)

// Stream is the decode state of one continuous audio session. Its feature
// history survives Reset, so consecutive utterances share one extractor while
// each utterance counts frames from zero.
//
// A Stream is not safe for concurrent decoding, but AcceptWaveform may run
// on a producer goroutine while another goroutine decodes.
type Stream struct {
	id   string
	feat *features.Extractor

	// start is the global feature frame where the current utterance begins;
	// processed counts frames consumed since then.
	start     int
	processed int

	states   []inference.Tensor
	result   decode.Result
	graph    *contextgraph.Graph
	endpoint *endpoint.Endpoint

	segment   int
	finalized bool
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// AcceptWaveform appends audio recorded at sampleRate. See
// [features.Extractor.AcceptWaveform].
func (s *Stream) AcceptWaveform(sampleRate int, samples []float32) error {
	return s.feat.AcceptWaveform(sampleRate, samples)
}

// InputFinished marks the end of the audio.
func (s *Stream) InputFinished() { s.feat.InputFinished() }

// NumFramesReady returns the number of feature frames available in the
// current utterance, including those already consumed.
func (s *Stream) NumFramesReady() int { return s.feat.NumFramesReady() - s.start }

// IsLastFrame reports whether utterance frame i is the final frame of a
// finished input.
func (s *Stream) IsLastFrame(i int) bool { return s.feat.IsLastFrame(s.start + i) }

// GetFrames returns n frames starting at utterance frame i.
func (s *Stream) GetFrames(i, n int) []float32 { return s.feat.GetFrames(s.start+i, n) }

// NumProcessedFrames returns the number of feature frames consumed by the
// encoder in the current utterance.
func (s *Stream) NumProcessedFrames() int { return s.processed }

// StartFrame returns the global feature frame at which the current utterance
// started.
func (s *Stream) StartFrame() int { return s.start }

// Segment returns the number of completed utterances on this stream.
func (s *Stream) Segment() int { return s.segment }

// ContextGraph returns the hotword graph used by this stream, or nil.
func (s *Stream) ContextGraph() *contextgraph.Graph { return s.graph }

// reset starts a new utterance at the current read position.
func (s *Stream) reset(empty decode.Result) {
	empty.DecoderOut = s.result.DecoderOut
	s.result = empty
	s.start += s.processed
	s.processed = 0
	s.segment++
	s.finalized = false
}

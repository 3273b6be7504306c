package features

import (
	"fmt"
	"log/slog"
	"sync"
)

// Extractor is an online filterbank extractor. Frames are addressed by a
// global index that only grows; frames before the lowest index requested by
// GetFrames are discarded.
//
// All methods are safe for concurrent use so a producer goroutine can feed
// audio while a consumer reads frames.
type Extractor struct {
	mu  sync.Mutex
	cfg Config
	fb  *fbank

	resampler *LinearResample
	inputRate int

	// wave holds samples from absolute index waveOffset onwards that later
	// frames may still need.
	wave       []float32
	waveOffset int64

	frames   [][]float32
	popped   int
	finished bool
}

// NewExtractor returns an empty extractor for cfg. Zero fields take the
// defaults of [DefaultConfig].
func NewExtractor(cfg Config) *Extractor {
	cfg = cfg.withDefaults()
	return &Extractor{cfg: cfg, fb: newFbank(cfg)}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// Dim returns the feature dimension.
func (e *Extractor) Dim() int { return e.cfg.FeatureDim }

// AcceptWaveform appends samples recorded at sampleRate, normally in
// [-1, 1]. The first call binds the input rate; a later call with another
// rate returns [ErrSampleRateChanged].
func (e *Extractor) AcceptWaveform(sampleRate int, samples []float32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return ErrInputFinished
	}
	if e.inputRate == 0 {
		e.inputRate = sampleRate
		if sampleRate != e.cfg.SampleRate {
			e.resampler = NewDefaultResample(sampleRate, e.cfg.SampleRate)
			slog.Debug("features: resampling input", "from", sampleRate, "to", e.cfg.SampleRate)
		}
	} else if sampleRate != e.inputRate {
		return fmt.Errorf("%w: got %d, bound to %d", ErrSampleRateChanged, sampleRate, e.inputRate)
	}

	if e.resampler != nil {
		samples = e.resampler.Resample(samples, false)
	}
	e.wave = append(e.wave, samples...)
	e.computeLocked()
	return nil
}

// InputFinished flushes the resampler and computes the trailing frames whose
// windows extend past the end of the signal. Further audio is rejected.
func (e *Extractor) InputFinished() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.finished {
		return
	}
	if e.resampler != nil {
		e.wave = append(e.wave, e.resampler.Resample(nil, true)...)
	}
	e.finished = true
	e.computeLocked()
}

// NumFramesReady returns one past the highest frame index computed so far.
func (e *Extractor) NumFramesReady() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.popped + len(e.frames)
}

// IsLastFrame reports whether frame is the final frame of a finished input.
func (e *Extractor) IsLastFrame(frame int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.finished && frame == e.popped+len(e.frames)-1
}

// GetFrames returns n frames starting at start as one row-major slice of
// n*Dim values. Frames below start are discarded afterwards.
//
// Requesting frames that are not ready or were already discarded is a
// caller bug and panics.
func (e *Extractor) GetFrames(start, n int) []float32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	ready := e.popped + len(e.frames)
	if start < e.popped {
		panic(fmt.Sprintf("features: frame %d already discarded (first kept %d)", start, e.popped))
	}
	if start+n > ready {
		panic(fmt.Sprintf("features: %d + %d > %d frames ready", start, n, ready))
	}

	if drop := start - e.popped; drop > 0 {
		clear(e.frames[:drop])
		e.frames = e.frames[drop:]
		e.popped = start
	}

	dim := e.cfg.FeatureDim
	out := make([]float32, 0, n*dim)
	for i := range n {
		out = append(out, e.frames[i]...)
	}
	return out
}

func (e *Extractor) computeLocked() {
	total := e.waveOffset + int64(len(e.wave))
	have := int64(e.popped + len(e.frames))
	want := e.fb.numFrames(total, e.finished)
	if want <= have {
		return
	}
	for f := have; f < want; f++ {
		e.fb.extract(e.waveOffset, e.wave, f)
		out := make([]float32, e.cfg.FeatureDim)
		e.fb.compute(out)
		e.frames = append(e.frames, out)
	}

	next := e.fb.firstSample(want)
	if discard := next - e.waveOffset; discard > 0 && discard <= int64(len(e.wave)) {
		e.wave = append([]float32(nil), e.wave[discard:]...)
		e.waveOffset = next
	}
}

// Compute extracts all frames of a complete signal recorded at sampleRate.
// It returns the frames as one row-major slice and the frame count.
func Compute(cfg Config, sampleRate int, samples []float32) ([]float32, int, error) {
	e := NewExtractor(cfg)
	if err := e.AcceptWaveform(sampleRate, samples); err != nil {
		return nil, 0, err
	}
	e.InputFinished()
	n := e.NumFramesReady()
	if n == 0 {
		return nil, 0, nil
	}
	return e.GetFrames(0, n), n, nil
}

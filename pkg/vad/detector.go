package vad

import (
	"fmt"
	"log/slog"
)

const (
	// Once more than MaxSpeechDuration of audio is buffered the gate switches
	// to a short silence debounce and an unreachable threshold, so the
	// current segment ends at the next window.
	forcedMinSilence = 0.1
	forcedThreshold  = 1.10
)

// Detector cuts a stream of audio into speech segments.
type Detector struct {
	cfg     Config
	session Session
	gate    *Gate
	buffer  *CircularBuffer

	// last holds samples that do not yet fill a window.
	last []float32

	// start is the linear buffer index where the current speech began, or
	// -1 outside speech.
	start int

	maxUtterance int
	forced       bool
	segments     []SpeechSegment
}

// NewDetector returns a detector scoring windows with session.
func NewDetector(session Session, cfg Config) (*Detector, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if ws := session.WindowSize(); ws != cfg.WindowSize {
		return nil, fmt.Errorf("vad: session window %d does not match configured window %d", ws, cfg.WindowSize)
	}
	return &Detector{
		cfg:          cfg,
		session:      session,
		gate:         NewGate(cfg),
		buffer:       NewCircularBuffer(int(cfg.BufferSeconds * float32(cfg.SampleRate))),
		start:        -1,
		maxUtterance: int(cfg.MaxSpeechDuration * float32(cfg.SampleRate)),
	}, nil
}

// Config returns the effective configuration.
func (d *Detector) Config() Config { return d.cfg }

// AcceptWaveform feeds samples at the configured sample rate. Completed
// segments become available through Front and Pop.
func (d *Detector) AcceptWaveform(samples []float32) error {
	d.adapt()

	ws := d.gate.WindowSize()
	d.last = append(d.last, samples...)
	if len(d.last) < ws {
		return nil
	}

	speech := false
	p := 0
	for ; p+ws <= len(d.last); p += ws {
		window := d.last[p : p+ws]
		d.buffer.Push(window)
		prob, err := d.session.Probability(window)
		if err != nil {
			d.last = append(d.last[:0], d.last[p+ws:]...)
			return fmt.Errorf("vad: %w", err)
		}
		speech = d.gate.IsSpeech(prob) || speech
	}
	d.last = append(d.last[:0], d.last[p:]...)

	if speech {
		if d.start == -1 {
			d.start = max(d.buffer.Tail()-2*ws-d.gate.MinSpeechSamples(), d.buffer.Head())
		}
		return nil
	}

	if d.start != -1 && d.buffer.Size() > 0 {
		d.cut()
	}
	if d.start == -1 {
		end := d.buffer.Tail() - 2*ws - d.gate.MinSpeechSamples()
		if n := end - d.buffer.Head(); n > 0 {
			d.buffer.Pop(n)
		}
	}
	d.start = -1
	return nil
}

// adapt forces long utterances to end.
func (d *Detector) adapt() {
	force := d.buffer.Size() > d.maxUtterance
	if force == d.forced {
		return
	}
	d.forced = force
	if force {
		slog.Debug("vad: buffered audio exceeds max speech duration, forcing segment end",
			"buffered_s", float32(d.buffer.Size())/float32(d.cfg.SampleRate))
		d.gate.SetMinSilenceDuration(forcedMinSilence)
		d.gate.SetThreshold(forcedThreshold)
		return
	}
	d.gate.SetMinSilenceDuration(d.cfg.MinSilenceDuration)
	d.gate.SetThreshold(d.cfg.Threshold)
}

// cut emits the segment from start up to the confirmed silence and drops
// it from the buffer.
func (d *Detector) cut() {
	end := d.buffer.Tail() - d.gate.MinSilenceSamples()
	if end <= d.start {
		d.start = -1
		return
	}
	d.segments = append(d.segments, SpeechSegment{
		Start:   d.start,
		Samples: d.buffer.Get(d.start, end-d.start),
	})
	d.buffer.Pop(end - d.buffer.Head())
	d.start = -1
}

// Flush emits the speech in progress, if any, as a segment. Call it at the
// end of input.
func (d *Detector) Flush() {
	if d.start == -1 || d.buffer.Size() == 0 {
		return
	}
	d.cut()
}

// Empty reports whether no segment is waiting.
func (d *Detector) Empty() bool { return len(d.segments) == 0 }

// Front returns the oldest waiting segment. It panics when Empty.
func (d *Detector) Front() SpeechSegment { return d.segments[0] }

// Pop discards the oldest waiting segment.
func (d *Detector) Pop() {
	d.segments[0] = SpeechSegment{}
	d.segments = d.segments[1:]
}

// Clear discards all waiting segments.
func (d *Detector) Clear() { d.segments = nil }

// IsSpeechDetected reports whether speech is in progress.
func (d *Detector) IsSpeechDetected() bool { return d.start != -1 }

// State returns the gate state.
func (d *Detector) State() State { return d.gate.State() }

// Reset drops all audio, segments and model state.
func (d *Detector) Reset() {
	d.segments = nil
	d.session.Reset()
	d.gate.Reset()
	d.buffer.Reset()
	d.last = d.last[:0]
	d.start = -1
}

// Close releases the session.
func (d *Detector) Close() error { return d.session.Close() }

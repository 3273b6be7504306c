package vad

// hysteresis is how far the probability may fall below the threshold while
// speaking before it counts as silence.
const hysteresis = 0.15

// Gate debounces per-window speech probabilities into a speech/silence
// decision. Speech is confirmed only after the probability stays above the
// threshold for MinSpeechDuration, and ends only after it stays below
// threshold-0.15 for MinSilenceDuration.
//
// Sample positions count the end of each window from the last Reset.
type Gate struct {
	windowSize     int
	sampleRate     int
	threshold      float32
	minSpeechSamp  int
	minSilenceSamp int

	current   int
	tempStart int
	tempEnd   int
	triggered bool
}

// NewGate returns a gate for cfg.
func NewGate(cfg Config) *Gate {
	cfg = cfg.WithDefaults()
	return &Gate{
		windowSize:     cfg.WindowSize,
		sampleRate:     cfg.SampleRate,
		threshold:      cfg.Threshold,
		minSpeechSamp:  int(float32(cfg.SampleRate) * cfg.MinSpeechDuration),
		minSilenceSamp: int(float32(cfg.SampleRate) * cfg.MinSilenceDuration),
	}
}

// IsSpeech advances the gate by one window with speech probability prob
// and reports whether the window is inside confirmed speech.
func (g *Gate) IsSpeech(prob float32) bool {
	th := g.threshold
	g.current += g.windowSize

	if prob > th && g.tempEnd != 0 {
		g.tempEnd = 0
	}

	switch {
	case prob > th && g.tempStart == 0:
		g.tempStart = g.current
		return false

	case prob > th && !g.triggered:
		if g.current-g.tempStart < g.minSpeechSamp {
			return false
		}
		g.triggered = true
		return true

	case prob < th && !g.triggered:
		g.tempStart, g.tempEnd = 0, 0
		return false

	case prob > th-hysteresis && g.triggered:
		return true

	case prob < th && g.triggered:
		if g.tempEnd == 0 {
			g.tempEnd = g.current
		}
		if g.current-g.tempEnd < g.minSilenceSamp {
			return true
		}
		g.tempStart, g.tempEnd = 0, 0
		g.triggered = false
		return false
	}
	return false
}

// Process is IsSpeech reported as an [Event].
func (g *Gate) Process(prob float32) Event {
	was := g.triggered
	now := g.IsSpeech(prob)
	ev := Event{Probability: prob, Type: NoSpeech}
	switch {
	case now && !was:
		ev.Type = SpeechStart
	case now:
		ev.Type = SpeechContinue
	case was:
		ev.Type = SpeechEnd
	}
	return ev
}

// State returns the current hysteresis state.
func (g *Gate) State() State {
	switch {
	case g.triggered && g.tempEnd != 0:
		return TentativeSilence
	case g.triggered:
		return Speaking
	case g.tempStart != 0:
		return TentativeSpeech
	}
	return Silence
}

// Reset returns the gate to silence at sample 0.
func (g *Gate) Reset() {
	g.current, g.tempStart, g.tempEnd = 0, 0, 0
	g.triggered = false
}

// SetThreshold changes the speech threshold.
func (g *Gate) SetThreshold(th float32) { g.threshold = th }

// SetMinSilenceDuration changes the silence debounce in seconds.
func (g *Gate) SetMinSilenceDuration(s float32) {
	g.minSilenceSamp = int(float32(g.sampleRate) * s)
}

// MinSpeechSamples returns the speech debounce in samples.
func (g *Gate) MinSpeechSamples() int { return g.minSpeechSamp }

// MinSilenceSamples returns the silence debounce in samples.
func (g *Gate) MinSilenceSamples() int { return g.minSilenceSamp }

// WindowSize returns the samples per window.
func (g *Gate) WindowSize() int { return g.windowSize }

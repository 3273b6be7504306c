package vad

// State is the position of a [Gate] in its hysteresis cycle.
type State int

const (
	// Silence: no speech.
	Silence State = iota

	// TentativeSpeech: the probability crossed the threshold but has not
	// stayed above it for MinSpeechDuration.
	TentativeSpeech

	// Speaking: speech confirmed.
	Speaking

	// TentativeSilence: speech confirmed but the probability has dropped
	// for less than MinSilenceDuration.
	TentativeSilence
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Silence:
		return "silence"
	case TentativeSpeech:
		return "tentative_speech"
	case Speaking:
		return "speaking"
	case TentativeSilence:
		return "tentative_silence"
	}
	return "unknown"
}

// EventType classifies the outcome of one window.
type EventType int

const (
	// SpeechStart: this window confirmed speech.
	SpeechStart EventType = iota

	// SpeechContinue: speech is ongoing.
	SpeechContinue

	// SpeechEnd: this window confirmed the end of speech.
	SpeechEnd

	// NoSpeech: no speech detected.
	NoSpeech
)

// Event is the result of feeding one window to a [Gate].
type Event struct {
	Type EventType

	// Probability is the classifier score for the window.
	Probability float32
}

// SpeechSegment is a detected span of speech.
type SpeechSegment struct {
	// Start is the index of the first sample since the detector was created
	// or reset.
	Start int

	Samples []float32
}

// StartSeconds returns the segment start in seconds.
func (s SpeechSegment) StartSeconds(sampleRate int) float64 {
	return float64(s.Start) / float64(sampleRate)
}

// Duration returns the segment length in seconds.
func (s SpeechSegment) Duration(sampleRate int) float64 {
	return float64(len(s.Samples)) / float64(sampleRate)
}

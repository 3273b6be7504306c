// Package endpoint decides when a streaming utterance has ended, from the
// decoded length and the trailing silence.
//
// Three rules are evaluated independently; any rule firing ends the
// utterance. The evaluator is stateless: callers pass counters that only
// grow within an utterance.
package endpoint

import "fmt"

// Rule is one endpoint condition. It fires when the trailing silence is at
// least MinTrailingSilence seconds, the utterance is at least
// MinUtteranceLength seconds, and, if MustContainNonSilence is set, the
// utterance holds something other than silence.
type Rule struct {
	MustContainNonSilence bool    `yaml:"must_contain_nonsilence"`
	MinTrailingSilence    float32 `yaml:"min_trailing_silence"`
	MinUtteranceLength    float32 `yaml:"min_utterance_length"`
}

// Activated reports whether r fires for the given durations in seconds.
func (r Rule) Activated(trailingSilence, utteranceLength float32) bool {
	containsNonSilence := utteranceLength > trailingSilence
	return (containsNonSilence || !r.MustContainNonSilence) &&
		trailingSilence >= r.MinTrailingSilence &&
		utteranceLength >= r.MinUtteranceLength
}

// String formats r for logs.
func (r Rule) String() string {
	return fmt.Sprintf("must_contain_nonsilence=%v min_trailing_silence=%.2f min_utterance_length=%.2f",
		r.MustContainNonSilence, r.MinTrailingSilence, r.MinUtteranceLength)
}

// Config holds the three rules.
type Config struct {
	// Rule1 ends an utterance after a long silence even if nothing was
	// decoded.
	Rule1 Rule `yaml:"rule1"`

	// Rule2 ends an utterance after a shorter silence that follows speech.
	Rule2 Rule `yaml:"rule2"`

	// Rule3 caps the utterance length.
	Rule3 Rule `yaml:"rule3"`
}

// DefaultConfig returns the standard rules: 2.4 s of silence, 1.2 s of
// silence after speech, or 20 s of audio.
func DefaultConfig() Config {
	return Config{
		Rule1: Rule{MustContainNonSilence: false, MinTrailingSilence: 2.4, MinUtteranceLength: 0},
		Rule2: Rule{MustContainNonSilence: true, MinTrailingSilence: 1.2, MinUtteranceLength: 0},
		Rule3: Rule{MustContainNonSilence: false, MinTrailingSilence: 0, MinUtteranceLength: 20},
	}
}

// unset reports whether r has no thresholds. Such a rule would fire on
// every frame, so it is treated as left out.
func (r Rule) unset() bool {
	return r.MinTrailingSilence == 0 && r.MinUtteranceLength == 0
}

// WithDefaults returns c with every unset rule replaced by its counterpart
// from [DefaultConfig].
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.Rule1.unset() {
		c.Rule1 = def.Rule1
	}
	if c.Rule2.unset() {
		c.Rule2 = def.Rule2
	}
	if c.Rule3.unset() {
		c.Rule3 = def.Rule3
	}
	return c
}

// Endpoint evaluates a [Config].
type Endpoint struct {
	cfg Config
}

// New returns an Endpoint for cfg.
func New(cfg Config) *Endpoint {
	return &Endpoint{cfg: cfg}
}

// Config returns the rules in use.
func (e *Endpoint) Config() Config { return e.cfg }

// IsEndpoint reports whether any rule fires. framesDecoded and
// trailingSilenceFrames count feature frames of frameShift seconds each.
func (e *Endpoint) IsEndpoint(framesDecoded, trailingSilenceFrames int, frameShift float32) bool {
	_, ok := e.Evaluate(framesDecoded, trailingSilenceFrames, frameShift)
	return ok
}

// Evaluate is like IsEndpoint and also names the first rule that fired
// ("rule1", "rule2" or "rule3").
func (e *Endpoint) Evaluate(framesDecoded, trailingSilenceFrames int, frameShift float32) (string, bool) {
	utterance := float32(framesDecoded) * frameShift
	trailing := float32(trailingSilenceFrames) * frameShift

	switch {
	case e.cfg.Rule1.Activated(trailing, utterance):
		return "rule1", true
	case e.cfg.Rule2.Activated(trailing, utterance):
		return "rule2", true
	case e.cfg.Rule3.Activated(trailing, utterance):
		return "rule3", true
	}
	return "", false
}

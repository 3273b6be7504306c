package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/streamasr/pkg/recognizer"
)

// ValidProviderNames lists known backend names per kind.
// Used by [Validate] to reject unrecognised names.
var ValidProviderNames = map[string][]string{
	"offline": {"transducer", "whisper", "whisper-server", "ctc"},
	"sink":    {"postgres", "sqlite", "nats"},
	"vad":     {"silero"},
}

// Load reads the YAML configuration file at path and returns a validated [Config]
// with defaults applied. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values. It expects
// defaults to be applied already and returns a joined error listing all
// validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}
	if cfg.Server.MaxStreams < 0 {
		errs = append(errs, fmt.Errorf("server.max_streams %d must not be negative", cfg.Server.MaxStreams))
	}
	if cfg.Server.TraceSampleRatio < 0 || cfg.Server.TraceSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("server.trace_sample_ratio %v must be in [0, 1]", cfg.Server.TraceSampleRatio))
	}
	if cfg.ONNX.NumThreads < 0 {
		errs = append(errs, fmt.Errorf("onnx.num_threads %d must not be negative", cfg.ONNX.NumThreads))
	}

	// Model
	if !cfg.Model.Type.IsValid() {
		errs = append(errs, fmt.Errorf("model.type %q is invalid; valid values: conv_emformer, zipformer, lstm", cfg.Model.Type))
	}
	for _, f := range []struct{ name, val string }{
		{"model.encoder", cfg.Model.Encoder},
		{"model.decoder", cfg.Model.Decoder},
		{"model.joiner", cfg.Model.Joiner},
		{"model.tokens", cfg.Model.Tokens},
	} {
		if f.val == "" {
			errs = append(errs, fmt.Errorf("%s is required", f.name))
		}
	}
	if cfg.Model.Segment < 0 || cfg.Model.Offset < 0 || cfg.Model.ContextSize < 0 {
		errs = append(errs, errors.New("model.segment, model.offset and model.context_size must not be negative"))
	}
	if cfg.Model.Segment > 0 && cfg.Model.Offset > cfg.Model.Segment {
		errs = append(errs, fmt.Errorf("model.offset %d exceeds model.segment %d", cfg.Model.Offset, cfg.Model.Segment))
	}

	// Features
	if err := cfg.FeatureConfig().Validate(); err != nil {
		errs = append(errs, err)
	}

	// Decoding
	if !cfg.Decoding.Method.IsValid() {
		errs = append(errs, fmt.Errorf("decoding.method %q is invalid; valid values: greedy_search, modified_beam_search", cfg.Decoding.Method))
	}
	if cfg.Hotwords.File != "" && cfg.Decoding.Method != recognizer.ModifiedBeamSearch {
		slog.Warn("hotwords.file is set but decoding.method is not modified_beam_search; hotwords will have no effect")
	}

	// Endpoint
	for _, r := range []struct {
		name             string
		trailing, length float32
	}{
		{"rule1", cfg.Endpoint.Rule1.MinTrailingSilence, cfg.Endpoint.Rule1.MinUtteranceLength},
		{"rule2", cfg.Endpoint.Rule2.MinTrailingSilence, cfg.Endpoint.Rule2.MinUtteranceLength},
		{"rule3", cfg.Endpoint.Rule3.MinTrailingSilence, cfg.Endpoint.Rule3.MinUtteranceLength},
	} {
		if r.trailing < 0 || r.length < 0 {
			errs = append(errs, fmt.Errorf("endpoint.%s durations must not be negative", r.name))
		}
	}

	// VAD
	validateProviderName(&errs, "vad", "vad.name", cfg.VAD.Name)
	if err := cfg.VAD.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if cfg.VAD.SampleRate != 8000 && cfg.VAD.SampleRate != 16000 {
		errs = append(errs, fmt.Errorf("vad.sample_rate %d is invalid; valid values: 8000, 16000", cfg.VAD.SampleRate))
	}

	// Stream
	if !cfg.Stream.Format.IsValid() {
		errs = append(errs, fmt.Errorf("stream.format %q is invalid; valid values: pcm16, f32, opus", cfg.Stream.Format))
	}

	// Offline
	if cfg.Offline.Name != "" {
		validateProviderName(&errs, "offline", "offline.name", cfg.Offline.Name)
		switch cfg.Offline.Name {
		case "whisper", "ctc":
			if cfg.Offline.Model == "" && cfg.Offline.Path == "" {
				errs = append(errs, fmt.Errorf("offline: %s requires model or path", cfg.Offline.Name))
			}
		case "whisper-server":
			if cfg.Offline.URL == "" {
				errs = append(errs, errors.New("offline: whisper-server requires url"))
			}
		}
		if cfg.VAD.Model == "" {
			errs = append(errs, errors.New("vad.model is required when an offline recognizer is configured"))
		}
	}

	// Sinks
	seen := make(map[string]int, len(cfg.Sinks))
	for i, s := range cfg.Sinks {
		prefix := fmt.Sprintf("sinks[%d]", i)
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		validateProviderName(&errs, "sink", prefix+".name", s.Name)
		if prev, ok := seen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("%s.name %q is a duplicate of sinks[%d]", prefix, s.Name, prev))
		}
		seen[s.Name] = i
		switch s.Name {
		case "postgres":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("%s: postgres requires url", prefix))
			}
		case "sqlite":
			if s.Path == "" {
				errs = append(errs, fmt.Errorf("%s: sqlite requires path", prefix))
			}
		}
	}

	return errors.Join(errs...)
}

// validateProviderName records an error if name is not found in the
// [ValidProviderNames] list for the given kind.
func validateProviderName(errs *[]error, kind, field, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	*errs = append(*errs, fmt.Errorf("%s %q is unknown; valid values: %v", field, name, known))
}

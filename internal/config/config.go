// Package config provides the configuration schema, loader, and backend
// registry for the streamasr server and tools.
package config

import (
	"log/slog"

	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/endpoint"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/recognizer"
	"github.com/MrWong99/streamasr/pkg/transducer"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unknown values mean info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	ONNX     ONNXConfig     `yaml:"onnx"`
	Model    ModelConfig    `yaml:"model"`
	Features FeaturesConfig `yaml:"features"`
	Decoding DecodingConfig `yaml:"decoding"`
	Hotwords HotwordsConfig `yaml:"hotwords"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	VAD      VADConfig      `yaml:"vad"`
	Stream   StreamConfig   `yaml:"stream"`

	// Offline selects the recognizer behind POST /v1/transcribe. When Name
	// is empty the streaming model is used.
	Offline ProviderEntry `yaml:"offline"`

	// Sinks receive every final utterance.
	Sinks []ProviderEntry `yaml:"sinks"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// MaxStreams caps concurrent websocket sessions. Zero means no limit.
	MaxStreams int `yaml:"max_streams"`

	// TraceSampleRatio is the fraction of new traces sampled, in [0, 1].
	// Zero samples every trace.
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ONNXConfig configures the ONNX Runtime shared library.
type ONNXConfig struct {
	// LibraryPath points at libonnxruntime. Empty uses the platform default
	// search path.
	LibraryPath string `yaml:"library_path"`

	// NumThreads is the intra-op thread count per session. Zero keeps the
	// runtime default.
	NumThreads int `yaml:"num_threads"`
}

// ModelConfig points at the streaming transducer.
type ModelConfig struct {
	Type    transducer.Type `yaml:"type"`
	Encoder string          `yaml:"encoder"`
	Decoder string          `yaml:"decoder"`
	Joiner  string          `yaml:"joiner"`
	Tokens  string          `yaml:"tokens"`

	// Segment, Offset and ContextSize override the preset of Type. Model
	// metadata still wins over them.
	Segment     int `yaml:"segment"`
	Offset      int `yaml:"offset"`
	ContextSize int `yaml:"context_size"`
}

// FeaturesConfig describes the fbank features the model expects.
type FeaturesConfig struct {
	SampleRate int `yaml:"sample_rate"`
	FeatureDim int `yaml:"feature_dim"`
}

// DecodingConfig selects the search strategy.
type DecodingConfig struct {
	Method recognizer.DecodingMethod `yaml:"method"`

	// NumActivePaths is the beam width for modified_beam_search.
	NumActivePaths int `yaml:"num_active_paths"`
}

// HotwordsConfig configures context biasing. Hotwords only take effect with
// modified_beam_search.
type HotwordsConfig struct {
	// File holds one phrase per line, optionally ending in ":<score>".
	File string `yaml:"file"`

	// Score is the per-token bonus for phrases without an explicit score.
	Score float32 `yaml:"score"`

	// Strict turns unknown tokens into load errors. Defaults to true.
	Strict *bool `yaml:"strict"`
}

// IsStrict reports the effective strict setting.
func (h HotwordsConfig) IsStrict() bool { return h.Strict == nil || *h.Strict }

// EndpointConfig configures utterance endpointing.
type EndpointConfig struct {
	// Enable turns endpointing on. Defaults to true.
	Enable *bool `yaml:"enable"`

	endpoint.Config `yaml:",inline"`
}

// IsEnabled reports the effective enable setting.
func (e EndpointConfig) IsEnabled() bool { return e.Enable == nil || *e.Enable }

// VADConfig configures the voice activity detector used by the offline
// pipeline and the vad-segments tool.
type VADConfig struct {
	// Name selects the registered VAD engine. Default: "silero".
	Name string `yaml:"name"`

	// Model is the path of the VAD model file.
	Model string `yaml:"model"`

	vad.Config `yaml:",inline"`
}

// StreamConfig holds defaults for websocket streams. Clients override them
// with query parameters.
type StreamConfig struct {
	Format     audio.InputFormat `yaml:"format"`
	SampleRate int               `yaml:"sample_rate"`
}

// ProviderEntry is the configuration block shared by offline recognizers,
// VAD engines and result sinks. The Name field is used to look up the
// constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "whisper", "postgres").
	Name string `yaml:"name"`

	// URL is a server address or DSN (whisper-server, postgres, nats).
	URL string `yaml:"url"`

	// Path is a local file (sqlite database, model file).
	Path string `yaml:"path"`

	// Model selects a model within the backend.
	Model string `yaml:"model"`

	// Language is a language hint for multilingual recognizers.
	Language string `yaml:"language"`

	// Options holds backend-specific values not covered by the fields above.
	Options map[string]any `yaml:"options"`
}

// OptionInt returns Options[key] as an int.
func (e ProviderEntry) OptionInt(key string) (int, bool) {
	switch v := e.Options[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// OptionString returns Options[key] as a string.
func (e ProviderEntry) OptionString(key string) (string, bool) {
	v, ok := e.Options[key].(string)
	return v, ok
}

// OptionBool returns Options[key] as a bool.
func (e ProviderEntry) OptionBool(key string) (bool, bool) {
	v, ok := e.Options[key].(bool)
	return v, ok
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultSampleRate     = 16000
	DefaultFeatureDim     = 80
	DefaultNumActivePaths = 4
	DefaultVADEngine      = "silero"
)

// ApplyDefaults fills every zero field that has a default.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	if c.Model.Type == "" {
		c.Model.Type = transducer.TypeZipformer
	}
	if c.Features.SampleRate <= 0 {
		c.Features.SampleRate = DefaultSampleRate
	}
	if c.Features.FeatureDim <= 0 {
		c.Features.FeatureDim = DefaultFeatureDim
	}
	if c.Decoding.Method == "" {
		c.Decoding.Method = recognizer.GreedySearch
	}
	if c.Decoding.NumActivePaths <= 0 {
		c.Decoding.NumActivePaths = DefaultNumActivePaths
	}
	if c.Hotwords.Score <= 0 {
		c.Hotwords.Score = recognizer.DefaultHotwordsScore
	}
	// Rules left out of the file keep their defaults.
	c.Endpoint.Config = c.Endpoint.Config.WithDefaults()
	if c.VAD.Name == "" {
		c.VAD.Name = DefaultVADEngine
	}
	c.VAD.Config = c.VAD.Config.WithDefaults()
	if c.Stream.Format == "" {
		c.Stream.Format = audio.FormatPCM16
	}
	if c.Stream.SampleRate <= 0 {
		c.Stream.SampleRate = c.Features.SampleRate
	}
}

// RecognizerConfig translates the decoding-related sections.
func (c *Config) RecognizerConfig() recognizer.Config {
	return recognizer.Config{
		Features:       c.FeatureConfig(),
		EnableEndpoint: c.Endpoint.IsEnabled(),
		Endpoint:       c.Endpoint.Config,
		DecodingMethod: c.Decoding.Method,
		NumActivePaths: c.Decoding.NumActivePaths,
		HotwordsScore:  c.Hotwords.Score,
		HotwordsStrict: c.Hotwords.IsStrict(),
	}
}

// FeatureConfig translates the features section.
func (c *Config) FeatureConfig() features.Config {
	return features.Config{SampleRate: c.Features.SampleRate, FeatureDim: c.Features.FeatureDim}
}

// TransducerConfig translates the model section.
func (c *Config) TransducerConfig() transducer.ONNXConfig {
	return transducer.ONNXConfig{
		Encoder:     c.Model.Encoder,
		Decoder:     c.Model.Decoder,
		Joiner:      c.Model.Joiner,
		Type:        c.Model.Type,
		NumThreads:  c.ONNX.NumThreads,
		Segment:     c.Model.Segment,
		Offset:      c.Model.Offset,
		ContextSize: c.Model.ContextSize,
	}
}

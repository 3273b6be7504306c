package config_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/pkg/endpoint"
)

func baseConfig() *config.Config {
	cfg := &config.Config{
		Model: config.ModelConfig{Encoder: "e", Decoder: "d", Joiner: "j", Tokens: "t"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	cfg := baseConfig()
	d := config.Diff(cfg, cfg)
	if !d.Empty() || len(d.RestartRequired) != 0 {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelChanged(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Server.LogLevel = config.LogDebug

	d := config.Diff(old, new)
	if !d.LogLevelChanged {
		t.Error("expected LogLevelChanged=true")
	}
	if d.NewLogLevel != config.LogDebug {
		t.Errorf("expected NewLogLevel=debug, got %q", d.NewLogLevel)
	}
}

func TestDiff_Hotwords(t *testing.T) {
	t.Parallel()
	off := false
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"file", func(c *config.Config) { c.Hotwords.File = "hw.txt" }},
		{"score", func(c *config.Config) { c.Hotwords.Score = 3 }},
		{"strict", func(c *config.Config) { c.Hotwords.Strict = &off }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !d.HotwordsChanged || d.NewHotwords != new.Hotwords {
				t.Errorf("expected hotwords change, got %+v", d)
			}
		})
	}

	// An explicit true is the same as the default.
	on := true
	old, new := baseConfig(), baseConfig()
	new.Hotwords.Strict = &on
	if d := config.Diff(old, new); d.HotwordsChanged {
		t.Error("strict: nil -> true should not count as a change")
	}
}

func TestDiff_Endpoint(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	new.Endpoint.Rule3 = endpoint.Rule{MinUtteranceLength: 10}

	d := config.Diff(old, new)
	if !d.EndpointChanged || d.NewEndpoint.Rule3.MinUtteranceLength != 10 {
		t.Errorf("expected endpoint change, got %+v", d)
	}
	if len(d.RestartRequired) != 0 {
		t.Errorf("rule change must not require a restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequired(t *testing.T) {
	t.Parallel()
	off := false
	old, new := baseConfig(), baseConfig()
	new.Server.ListenAddr = ":9999"
	new.Model.Encoder = "other.onnx"
	new.Decoding.NumActivePaths = 16
	new.Endpoint.Enable = &off
	new.Offline = config.ProviderEntry{Name: "whisper", Model: "m.bin"}
	new.Sinks = []config.ProviderEntry{{Name: "nats"}}

	d := config.Diff(old, new)
	if !d.Empty() {
		t.Errorf("nothing hot-reloadable changed, got %+v", d)
	}
	want := []string{"server.listen_addr", "model", "decoding", "endpoint.enable", "offline", "sinks"}
	if !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}

	// Same length, different entry.
	old.Sinks = []config.ProviderEntry{{Name: "nats", URL: "a"}}
	new2 := baseConfig()
	new2.Sinks = []config.ProviderEntry{{Name: "nats", URL: "b"}}
	if d := config.Diff(old, new2); !slices.Contains(d.RestartRequired, "sinks") {
		t.Errorf("changed sink URL must require restart: %v", d.RestartRequired)
	}
}

func TestDiff_RestartRequiredSections(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"max streams", func(c *config.Config) { c.Server.MaxStreams = 8 }, "server.max_streams"},
		{"tls enabled", func(c *config.Config) { c.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"} }, "server.tls"},
		{"onnx threads", func(c *config.Config) { c.ONNX.NumThreads = 2 }, "onnx"},
		{"feature dim", func(c *config.Config) { c.Features.FeatureDim = 40 }, "features"},
		{"vad threshold", func(c *config.Config) { c.VAD.Threshold = 0.7 }, "vad"},
		{"stream format", func(c *config.Config) { c.Stream.SampleRate = 8000 }, "stream"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			old, new := baseConfig(), baseConfig()
			tt.mutate(new)
			d := config.Diff(old, new)
			if !slices.Equal(d.RestartRequired, []string{tt.want}) {
				t.Errorf("RestartRequired = %v, want [%s]", d.RestartRequired, tt.want)
			}
		})
	}
}

func TestDiff_SameTLSValues(t *testing.T) {
	t.Parallel()
	old, new := baseConfig(), baseConfig()
	old.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	new.Server.TLS = &config.TLSConfig{CertFile: "c", KeyFile: "k"}
	if d := config.Diff(old, new); len(d.RestartRequired) != 0 {
		t.Errorf("equal TLS blocks reported as changed: %v", d.RestartRequired)
	}
}

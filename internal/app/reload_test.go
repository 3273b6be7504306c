package app

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/pkg/endpoint"
	"github.com/MrWong99/streamasr/pkg/recognizer"
	"github.com/MrWong99/streamasr/pkg/symbols"
	transducermock "github.com/MrWong99/streamasr/pkg/transducer/mock"
)

func beamRecognizer(t *testing.T) *recognizer.Recognizer {
	t.Helper()
	syms := symbols.FromSymbols("<blk>", "<sos/eos>", "▁HE", "LLO", "▁WORLD")
	r, err := recognizer.New(transducermock.New(syms.Len()), syms, recognizer.Config{
		EnableEndpoint: true,
		Endpoint:       endpoint.DefaultConfig(),
		DecodingMethod: recognizer.ModifiedBeamSearch,
		NumActivePaths: 4,
		HotwordsStrict: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func writeHotwords(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hotwords.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func baseConfig() *config.Config {
	cfg := &config.Config{Server: config.ServerConfig{LogLevel: config.LogInfo}}
	cfg.ApplyDefaults()
	return cfg
}

func TestReload_LogLevel(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	a := &App{rec: beamRecognizer(t), level: &lv}

	next := baseConfig()
	next.Server.LogLevel = config.LogDebug
	a.reload(config.Diff(baseConfig(), next))
	if lv.Level() != slog.LevelDebug {
		t.Fatalf("level = %v, want debug", lv.Level())
	}
}

func TestReload_Endpoint(t *testing.T) {
	t.Parallel()
	a := &App{rec: beamRecognizer(t)}

	next := baseConfig()
	next.Endpoint.Rule2.MinTrailingSilence = 0.8
	a.reload(config.Diff(baseConfig(), next))
	if got := a.rec.EndpointConfig().Rule2.MinTrailingSilence; got != 0.8 {
		t.Fatalf("rule2 trailing silence = %v, want 0.8", got)
	}
}

func TestReload_Hotwords(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		content   string
		wantGraph bool
	}{
		{name: "valid file", content: "▁HE LLO ▁WORLD\n", wantGraph: true},
		{name: "unknown token keeps previous graph", content: "GOODBYE\n", wantGraph: false},
		{name: "empty file", content: "", wantGraph: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			a := &App{rec: beamRecognizer(t)}
			next := baseConfig()
			next.Hotwords.File = writeHotwords(t, tt.content)

			a.reload(config.Diff(baseConfig(), next))
			if got := a.rec.ContextGraph() != nil; got != tt.wantGraph {
				t.Fatalf("graph set = %v, want %v", got, tt.wantGraph)
			}
		})
	}
}

func TestReload_HotwordsRemoved(t *testing.T) {
	t.Parallel()
	a := &App{rec: beamRecognizer(t)}

	withFile := baseConfig()
	withFile.Hotwords.File = writeHotwords(t, "▁HE LLO\n")
	a.reload(config.Diff(baseConfig(), withFile))
	if a.rec.ContextGraph() == nil {
		t.Fatal("hotwords not applied")
	}

	a.reload(config.Diff(withFile, baseConfig()))
	if a.rec.ContextGraph() != nil {
		t.Fatal("hotwords not removed")
	}
}

func TestReload_HotwordsContentOnly(t *testing.T) {
	t.Parallel()
	a := &App{rec: beamRecognizer(t)}
	cfg := baseConfig()
	cfg.Hotwords.File = writeHotwords(t, "▁WORLD\n")

	// Same config on both sides: only a watcher-detected content change
	// triggers the reload.
	d := config.Diff(cfg, cfg)
	if !d.Empty() {
		t.Fatalf("Diff of identical configs = %+v", d)
	}
	d.HotwordsChanged = true
	d.NewHotwords = cfg.Hotwords
	a.reload(d)
	if a.rec.ContextGraph() == nil {
		t.Fatal("hotwords not applied")
	}
}

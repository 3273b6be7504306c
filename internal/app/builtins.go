package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/internal/sink/natsink"
	"github.com/MrWong99/streamasr/internal/sink/postgres"
	"github.com/MrWong99/streamasr/internal/sink/sqlite"
	"github.com/MrWong99/streamasr/pkg/inference/onnx"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/offline/ctc"
	"github.com/MrWong99/streamasr/pkg/offline/whisper"
	"github.com/MrWong99/streamasr/pkg/symbols"
	"github.com/MrWong99/streamasr/pkg/vad"
	"github.com/MrWong99/streamasr/pkg/vad/silero"
)

// RegisterBuiltins wires every backend that ships with streamasr into reg.
// The "transducer" offline backend is not registered: it reuses the
// streaming model and is created by the app itself.
func RegisterBuiltins(reg *config.Registry) {
	// ── VAD ───────────────────────────────────────────────────────────────────

	reg.RegisterVAD("silero", func(entry config.ProviderEntry) (vad.Engine, error) {
		return silero.New(entry.Path)
	})

	// ── Offline recognizers ───────────────────────────────────────────────────

	reg.RegisterOffline("whisper", func(entry config.ProviderEntry) (offline.Recognizer, error) {
		path := entry.Path
		if path == "" {
			path = entry.Model
		}
		var opts []whisper.NativeOption
		if entry.Language != "" {
			opts = append(opts, whisper.WithLanguage(entry.Language))
		}
		if n, ok := entry.OptionInt("threads"); ok && n > 0 {
			opts = append(opts, whisper.WithThreads(uint(n)))
		}
		return whisper.NewNative(path, opts...)
	})

	reg.RegisterOffline("whisper-server", func(entry config.ProviderEntry) (offline.Recognizer, error) {
		var opts []whisper.ServerOption
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if entry.Language != "" {
			opts = append(opts, whisper.WithServerLanguage(entry.Language))
		}
		return whisper.NewServer(entry.URL, opts...)
	})

	reg.RegisterOffline("ctc", func(entry config.ProviderEntry) (offline.Recognizer, error) {
		path := entry.Path
		if path == "" {
			path = entry.Model
		}
		tokens, ok := entry.OptionString("tokens")
		if !ok || tokens == "" {
			return nil, errors.New("ctc: options.tokens is required")
		}
		syms, err := symbols.Load(tokens)
		if err != nil {
			return nil, err
		}
		var opts []onnx.Option
		if n, ok := entry.OptionInt("threads"); ok && n > 0 {
			opts = append(opts, onnx.WithNumThreads(n))
		}
		return ctc.Load(path, syms, ctc.Config{}, opts...)
	})

	// ── Sinks ─────────────────────────────────────────────────────────────────

	reg.RegisterSink("postgres", func(ctx context.Context, entry config.ProviderEntry) (sink.Sink, error) {
		return postgres.New(ctx, entry.URL)
	})

	reg.RegisterSink("sqlite", func(ctx context.Context, entry config.ProviderEntry) (sink.Sink, error) {
		return sqlite.Open(ctx, entry.Path)
	})

	reg.RegisterSink("nats", func(_ context.Context, entry config.ProviderEntry) (sink.Sink, error) {
		var opts []natsink.Option
		if p, ok := entry.OptionString("subject_prefix"); ok && p != "" {
			opts = append(opts, natsink.WithSubjectPrefix(p))
		}
		if f, ok := entry.OptionBool("flush"); ok && f {
			opts = append(opts, natsink.WithFlush())
		}
		return natsink.Connect(entry.URL, opts...)
	})

	for _, kind := range []string{"offline", "sink", "vad"} {
		slog.Debug("registered backends", "kind", kind, "names", reg.Names(kind))
	}
}

// Package app wires the recognition server together.
//
// The App struct owns the full lifecycle: New loads the model and connects
// every backend, Run serves HTTP until the context is cancelled, and
// Shutdown tears everything down in reverse order.
//
// For testing, inject doubles via functional options (WithRecognizer,
// WithSink, WithVADEngine, ...). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/internal/health"
	"github.com/MrWong99/streamasr/internal/observe"
	"github.com/MrWong99/streamasr/internal/resilience"
	"github.com/MrWong99/streamasr/internal/server"
	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/inference/onnx"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
	"github.com/MrWong99/streamasr/pkg/symbols"
	"github.com/MrWong99/streamasr/pkg/transducer"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// Version is reported in telemetry. Overridden at build time with -ldflags.
var Version = "dev"

// offlineFallbackOption names the offline entry option that adds the
// streaming model as a fallback behind a remote backend.
const offlineFallbackOption = "fallback"

type namedSink struct {
	name string
	sink sink.Sink
}

// App owns all subsystem lifetimes.
type App struct {
	cfg *config.Config
	reg *config.Registry

	// Hot reload.
	configPath string
	level      *slog.LevelVar
	watcher    *config.Watcher
	reloadMu   sync.Mutex

	// Subsystems, initialised in New and torn down in Shutdown.
	promReg     *prometheus.Registry
	metrics     *observe.Metrics
	rec         *recognizer.Recognizer
	ready       atomic.Bool
	sinks       *sink.Multi
	extraSinks  []namedSink
	vadEngine   vad.Engine
	offline     offline.Recognizer
	offlineName string
	health      *health.Handler
	checks      []health.Checker
	server      *server.Server
	httpSrv     *http.Server

	addrMu sync.Mutex
	addr   net.Addr

	// closers run in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithRecognizer injects a recognizer instead of loading the model files.
func WithRecognizer(r *recognizer.Recognizer) Option {
	return func(a *App) { a.rec = r }
}

// WithSink adds a sink next to the configured ones. The app closes it on
// shutdown.
func WithSink(name string, s sink.Sink) Option {
	return func(a *App) { a.extraSinks = append(a.extraSinks, namedSink{name, s}) }
}

// WithVADEngine injects the VAD engine used by offline transcription. It
// enables POST /v1/transcribe even when vad.model is unset.
func WithVADEngine(e vad.Engine) Option {
	return func(a *App) { a.vadEngine = e }
}

// WithOffline injects the offline recognizer instead of creating it from
// the offline config section.
func WithOffline(name string, r offline.Recognizer) Option {
	return func(a *App) {
		a.offlineName = name
		a.offline = r
	}
}

// WithLogLevel lets hot reloads change the level of the installed logger.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// WithConfigPath enables hot reload: the file is polled and changes that do
// not need a restart are applied to the running app.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg. reg resolves the offline, VAD and sink
// backends named in the config; it may be nil when every backend is
// injected. New performs all initialisation synchronously.
func New(ctx context.Context, cfg *config.Config, reg *config.Registry, opts ...Option) (*App, error) {
	if reg == nil {
		reg = config.NewRegistry()
	}
	a := &App{cfg: cfg, reg: reg}
	for _, o := range opts {
		o(a)
	}

	ok := false
	defer func() {
		if !ok {
			a.runClosers()
		}
	}()

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 2. Recognizer ────────────────────────────────────────────────────
	if err := a.initRecognizer(); err != nil {
		return nil, fmt.Errorf("app: init recognizer: %w", err)
	}

	// ── 3. Result sinks ──────────────────────────────────────────────────
	if err := a.initSinks(ctx); err != nil {
		return nil, fmt.Errorf("app: init sinks: %w", err)
	}

	// ── 4. Offline transcription ─────────────────────────────────────────
	if err := a.initOffline(); err != nil {
		return nil, fmt.Errorf("app: init offline: %w", err)
	}

	// ── 5. HTTP ──────────────────────────────────────────────────────────
	a.initHTTP()

	// ── 6. Config watcher ────────────────────────────────────────────────
	if a.configPath != "" {
		w, err := config.NewWatcher(a.configPath, a.onConfigChange)
		if err != nil {
			return nil, fmt.Errorf("app: watch config: %w", err)
		}
		a.watcher = w
		a.closers = append(a.closers, func() error { w.Stop(); return nil })
	}

	ok = true
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry installs the OTel providers on a private Prometheus registry
// and creates the instruments.
func (a *App) initTelemetry(ctx context.Context) error {
	a.promReg = prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: Version,
		Registry:       a.promReg,
		SampleRatio:    a.cfg.Server.TraceSampleRatio,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func() error {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return shutdown(sctx)
	})

	a.metrics, err = observe.NewMetrics(otel.GetMeterProvider())
	return err
}

// initRecognizer loads the transducer, its vocabulary and the hotwords
// unless a recognizer was injected.
func (a *App) initRecognizer() error {
	if a.rec == nil {
		rec, closeModel, err := LoadRecognizer(a.cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, closeModel)
		a.rec = rec
	}
	a.ready.Store(true)
	return nil
}

// LoadRecognizer initialises ONNX Runtime and builds the streaming
// recognizer described by cfg. The returned func releases the model.
func LoadRecognizer(cfg *config.Config) (*recognizer.Recognizer, func() error, error) {
	if !onnx.Initialized() {
		if err := onnx.Init(cfg.ONNX.LibraryPath); err != nil {
			return nil, nil, err
		}
	}
	model, err := transducer.LoadONNX(cfg.TransducerConfig())
	if err != nil {
		return nil, nil, err
	}
	syms, err := symbols.Load(cfg.Model.Tokens)
	if err != nil {
		model.Close()
		return nil, nil, err
	}
	phrases, err := loadHotwords(cfg.Hotwords, syms)
	if err != nil {
		model.Close()
		return nil, nil, err
	}
	rec, err := recognizer.New(model, syms, cfg.RecognizerConfig(), phrases...)
	if err != nil {
		model.Close()
		return nil, nil, err
	}
	meta := rec.Meta()
	slog.Info("model loaded",
		"type", cfg.Model.Type,
		"segment", meta.Segment,
		"offset", meta.Offset,
		"context_size", meta.ContextSize,
		"vocab", syms.Len(),
		"decoding", cfg.Decoding.Method,
		"hotwords", len(phrases),
	)
	return rec, model.Close, nil
}

func loadHotwords(hc config.HotwordsConfig, syms *symbols.Table) ([]contextgraph.Phrase, error) {
	if hc.File == "" {
		return nil, nil
	}
	return symbols.LoadHotwords(hc.File, syms, hc.IsStrict())
}

// initSinks creates the configured sinks, guards each with a circuit
// breaker and joins them in one fan-out.
func (a *App) initSinks(ctx context.Context) error {
	a.sinks = sink.NewMulti()
	a.sinks.OnError = func(name string, _ error) {
		a.metrics.RecordSinkError(context.Background(), name)
	}
	a.closers = append(a.closers, a.sinks.Close)

	add := func(name string, s sink.Sink) {
		if p, ok := s.(health.Pinger); ok {
			a.checks = append(a.checks, health.Ping("sink:"+name, p))
		}
		a.sinks.Add(name, resilience.NewSink(name, s, resilience.CircuitBreakerConfig{
			Name:          "sink:" + name,
			OnStateChange: logBreakerChange,
		}))
	}
	for _, entry := range a.cfg.Sinks {
		s, err := a.reg.CreateSink(ctx, entry)
		if err != nil {
			return fmt.Errorf("create sink %q: %w", entry.Name, err)
		}
		add(entry.Name, s)
		slog.Info("sink created", "name", entry.Name)
	}
	for _, ns := range a.extraSinks {
		add(ns.name, ns.sink)
	}
	return nil
}

// initOffline resolves the VAD engine and the recognizer behind
// POST /v1/transcribe. Without a VAD engine the endpoint stays disabled.
func (a *App) initOffline() error {
	if a.vadEngine == nil && a.cfg.VAD.Model != "" {
		e, err := a.reg.CreateVAD(config.ProviderEntry{Name: a.cfg.VAD.Name, Path: a.cfg.VAD.Model})
		if err != nil {
			return fmt.Errorf("create vad %q: %w", a.cfg.VAD.Name, err)
		}
		a.addCloser(e)
		a.vadEngine = e
	}
	if a.vadEngine == nil {
		if a.offline != nil {
			slog.Warn("offline recognizer configured without a VAD engine; POST /v1/transcribe is disabled")
		}
		a.offline = nil
		return nil
	}
	if a.offline != nil {
		return nil
	}

	entry := a.cfg.Offline
	if entry.Name == "" || entry.Name == "transducer" {
		a.offlineName = "transducer"
		a.offline = offline.NewTransducer(a.rec)
		return nil
	}

	rec, err := a.reg.CreateOffline(entry)
	if err != nil {
		return fmt.Errorf("create offline %q: %w", entry.Name, err)
	}
	a.addCloser(rec)
	a.offlineName = entry.Name
	a.offline = rec

	if fb, _ := entry.OptionString(offlineFallbackOption); fb == "transducer" {
		group := resilience.NewOfflineFallback(rec, entry.Name, resilience.FallbackConfig{
			CircuitBreaker: resilience.CircuitBreakerConfig{OnStateChange: logBreakerChange},
		})
		group.AddFallback("transducer", offline.NewTransducer(a.rec))
		a.offline = group
		slog.Info("offline fallback enabled", "order", group.Names())
	}
	return nil
}

// initHTTP builds the mux: recognition routes, health probes and metrics.
func (a *App) initHTTP() {
	opts := []server.Option{
		server.WithMetrics(a.metrics),
		server.WithSink(a.sinks),
	}
	if a.offline != nil {
		opts = append(opts, server.WithOffline(a.offlineName, a.offline, a.vadEngine, a.cfg.VAD.Config))
	}
	a.server = server.New(a.rec, server.Config{
		Format:     a.cfg.Stream.Format,
		SampleRate: a.cfg.Stream.SampleRate,
		MaxStreams: a.cfg.Server.MaxStreams,
	}, opts...)

	a.health = health.New(health.Flag("recognizer", &a.ready, "model not loaded"))
	for _, c := range a.checks {
		a.health.Add(c)
	}

	mux := http.NewServeMux()
	a.server.Register(mux)
	a.health.Register(mux)
	mux.Handle("GET /metrics", observe.MetricsHandler(a.promReg))

	a.httpSrv = &http.Server{
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (a *App) addCloser(v any) {
	if c, ok := v.(io.Closer); ok {
		a.closers = append(a.closers, c.Close)
	}
}

func logBreakerChange(name string, from, to resilience.State) {
	slog.Warn("backend circuit changed", "backend", name, "from", from, "to", to)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled. It
// returns ctx.Err() on cancellation and the serve error otherwise.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	a.addrMu.Lock()
	a.addr = ln.Addr()
	a.addrMu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if tlsCfg := a.cfg.Server.TLS; tlsCfg != nil {
			a.httpSrv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			errCh <- a.httpSrv.ServeTLS(ln, tlsCfg.CertFile, tlsCfg.KeyFile)
			return
		}
		errCh <- a.httpSrv.Serve(ln)
	}()
	slog.Info("listening", "addr", ln.Addr().String(), "tls", a.cfg.Server.TLS != nil, "offline", a.offlineName)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	}
}

// Addr returns the listening address, or nil before Run has bound it.
func (a *App) Addr() net.Addr {
	a.addrMu.Lock()
	defer a.addrMu.Unlock()
	return a.addr
}

// Recognizer returns the shared recognizer.
func (a *App) Recognizer() *recognizer.Recognizer { return a.rec }

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops accepting connections, waits for open requests within the
// ctx deadline and then closes every subsystem in reverse-init order. If ctx
// expires first, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers), "active_streams", a.server.ActiveStreams())
		a.ready.Store(false)

		if err := a.httpSrv.Shutdown(ctx); err != nil {
			slog.Warn("http shutdown error", "err", err)
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases what a failed New already acquired.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}

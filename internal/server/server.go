// Package server exposes the recognizer over HTTP.
//
// Routes:
//
//	GET  /v1/asr          websocket streaming recognition
//	POST /v1/transcribe   offline transcription of a WAV upload
//	GET  /v1/utterances   stored final results of one stream
//
// The server holds no per-stream state outside the handler goroutines. Hot
// reloads reach it through the shared [recognizer.Recognizer]: hotwords and
// endpoint rules set there apply to every stream opened afterwards.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/MrWong99/streamasr/internal/observe"
	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// Defaults for [Config].
const (
	DefaultReadLimit      = 1 << 20
	DefaultMaxUploadBytes = 100 << 20
	DefaultListLimit      = 100
)

// Config holds the server settings.
type Config struct {
	// Format and SampleRate are used when the client does not send them.
	Format     audio.InputFormat
	SampleRate int

	// MaxStreams caps concurrent websocket streams. Zero means no limit.
	MaxStreams int

	// ReadLimit is the largest websocket message accepted, in bytes.
	ReadLimit int64

	// MaxUploadBytes bounds the body of POST /v1/transcribe.
	MaxUploadBytes int64

	// OriginPatterns lists the browser origins allowed to open streams.
	// Clients that send no Origin header are always accepted.
	OriginPatterns []string
}

func (c Config) withDefaults() Config {
	if c.Format == "" {
		c.Format = audio.FormatPCM16
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = DefaultReadLimit
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return c
}

// Server serves streaming and offline recognition.
type Server struct {
	rec     *recognizer.Recognizer
	cfg     Config
	metrics *observe.Metrics
	sink    sink.Sink

	// offline is nil when POST /v1/transcribe is disabled.
	offline     offline.Recognizer
	offlineName string
	vadEngine   vad.Engine
	vadConfig   vad.Config

	active atomic.Int64
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics sets the metrics instruments. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithSink sends every final result to snk.
func WithSink(snk sink.Sink) Option {
	return func(s *Server) { s.sink = snk }
}

// WithOffline enables POST /v1/transcribe. Uploads are cut into speech
// segments by VAD sessions from engine and transcribed by rec. name labels
// the metrics.
func WithOffline(name string, rec offline.Recognizer, engine vad.Engine, cfg vad.Config) Option {
	return func(s *Server) {
		s.offlineName = name
		s.offline = rec
		s.vadEngine = engine
		s.vadConfig = cfg.WithDefaults()
	}
}

// New returns a server decoding streams with rec.
func New(rec *recognizer.Recognizer, cfg Config, opts ...Option) *Server {
	s := &Server{rec: rec, cfg: cfg.withDefaults()}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// ActiveStreams returns the number of open websocket streams.
func (s *Server) ActiveStreams() int { return int(s.active.Load()) }

// Register attaches the routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/asr", s.handleStream)
	if s.offline != nil {
		mux.HandleFunc("POST /v1/transcribe", s.handleTranscribe)
	}
	mux.HandleFunc("GET /v1/utterances", s.handleUtterances)
}

// handleUtterances lists what a readable sink stored for ?stream=<id>.
func (s *Server) handleUtterances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	streamID := q.Get("stream")
	if streamID == "" {
		httpError(w, http.StatusBadRequest, "stream is required")
		return
	}
	limit := DefaultListLimit
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			httpError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	rd, ok := sink.AsReader(s.sink)
	if !ok {
		httpError(w, http.StatusNotImplemented, sink.ErrNotReadable.Error())
		return
	}
	list, err := rd.List(r.Context(), streamID, limit)
	switch {
	case errors.Is(err, sink.ErrNotReadable):
		httpError(w, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		observe.Logger(r.Context()).Error("list utterances failed", "stream", streamID, "err", err)
		httpError(w, http.StatusInternalServerError, "list failed")
		return
	}
	if list == nil {
		list = []sink.Utterance{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"utterances": list})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("server: failed to write response", "err", err)
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

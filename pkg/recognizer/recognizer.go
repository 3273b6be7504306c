// Package recognizer drives streaming transducer recognition: it owns the
// model and the search strategy, creates [Stream] values and exposes the
// poll-style API
//
//	s, _ := rec.CreateStream()
//	s.AcceptWaveform(16000, samples)
//	for rec.IsReady(s) {
//	    rec.DecodeStream(s)
//	}
//	if rec.IsEndpoint(s) {
//	    res := rec.FinalResult(s)
//	    rec.Reset(s)
//	}
//
// A Recognizer is safe for concurrent use by many streams; each Stream must
// be decoded by one goroutine at a time.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamasr/pkg/contextgraph"
	"github.com/MrWong99/streamasr/pkg/decode"
	"github.com/MrWong99/streamasr/pkg/endpoint"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/inference"
	"github.com/MrWong99/streamasr/pkg/symbols"
	"github.com/MrWong99/streamasr/pkg/transducer"
)

// ErrUnsupportedMethod is returned for an unknown decoding method.
var ErrUnsupportedMethod = errors.New("recognizer: unsupported decoding method")

// DecodingMethod selects the search strategy.
type DecodingMethod string

const (
	GreedySearch       DecodingMethod = "greedy_search"
	ModifiedBeamSearch DecodingMethod = "modified_beam_search"
)

// IsValid reports whether m is a known decoding method.
func (m DecodingMethod) IsValid() bool {
	return m == GreedySearch || m == ModifiedBeamSearch
}

// DefaultHotwordsScore is the default per-token hotword bonus.
const DefaultHotwordsScore = 1.5

// Config configures a [Recognizer].
type Config struct {
	Features features.Config

	EnableEndpoint bool
	Endpoint       endpoint.Config

	DecodingMethod DecodingMethod

	// NumActivePaths is the beam width for modified beam search.
	NumActivePaths int

	// HotwordsScore is the per-token bonus for phrases without an explicit
	// score.
	HotwordsScore float32

	// HotwordsStrict makes unknown tokens in per-stream hotwords an error
	// instead of a skipped line.
	HotwordsStrict bool
}

// Recognizer owns a model and creates streams over it.
type Recognizer struct {
	cfg     Config
	model   transducer.Model
	meta    transducer.Meta
	decoder decode.Decoder
	symbols *symbols.Table

	graph    atomic.Pointer[contextgraph.Graph]
	endpoint atomic.Pointer[endpoint.Endpoint]
}

// New returns a recognizer. phrases, if any, become the default hotword
// graph for every stream; they only take effect with modified beam search.
func New(model transducer.Model, syms *symbols.Table, cfg Config, phrases ...contextgraph.Phrase) (*Recognizer, error) {
	if model == nil || syms == nil {
		return nil, errors.New("recognizer: model and symbol table are required")
	}
	if cfg.DecodingMethod == "" {
		cfg.DecodingMethod = GreedySearch
	}
	if cfg.HotwordsScore == 0 {
		cfg.HotwordsScore = DefaultHotwordsScore
	}
	cfg.Endpoint = cfg.Endpoint.WithDefaults()
	if err := cfg.Features.Validate(); err != nil {
		return nil, fmt.Errorf("recognizer: %w", err)
	}

	r := &Recognizer{cfg: cfg, model: model, meta: model.Meta(), symbols: syms}
	switch cfg.DecodingMethod {
	case GreedySearch:
		r.decoder = decode.NewGreedy(model)
	case ModifiedBeamSearch:
		r.decoder = decode.NewModifiedBeam(model, cfg.NumActivePaths)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedMethod, cfg.DecodingMethod)
	}

	r.SetEndpointConfig(cfg.Endpoint)
	r.SetHotwords(phrases)
	return r, nil
}

// Config returns the recognizer configuration.
func (r *Recognizer) Config() Config { return r.cfg }

// Meta returns the model framing.
func (r *Recognizer) Meta() transducer.Meta { return r.meta }

// Symbols returns the vocabulary.
func (r *Recognizer) Symbols() *symbols.Table { return r.symbols }

// SetHotwords replaces the default hotword graph. Existing streams keep the
// graph they were created with.
func (r *Recognizer) SetHotwords(phrases []contextgraph.Phrase) {
	if len(phrases) == 0 || r.cfg.DecodingMethod != ModifiedBeamSearch {
		if len(phrases) > 0 {
			slog.Warn("recognizer: hotwords ignored, they need modified_beam_search",
				"decoding_method", r.cfg.DecodingMethod, "phrases", len(phrases))
		}
		r.graph.Store(nil)
		return
	}
	r.graph.Store(contextgraph.New(phrases, r.cfg.HotwordsScore))
}

// SetContextGraph replaces the default hotword graph with g, which may carry
// its own bonus. A nil g removes hotwords.
func (r *Recognizer) SetContextGraph(g *contextgraph.Graph) {
	if r.cfg.DecodingMethod != ModifiedBeamSearch {
		g = nil
	}
	r.graph.Store(g)
}

// ContextGraph returns the default hotword graph, or nil.
func (r *Recognizer) ContextGraph() *contextgraph.Graph { return r.graph.Load() }

// SetEndpointConfig replaces the endpoint rules for streams created later.
// Rules without thresholds take their defaults.
func (r *Recognizer) SetEndpointConfig(cfg endpoint.Config) {
	r.endpoint.Store(endpoint.New(cfg.WithDefaults()))
}

// EndpointConfig returns the rules new streams will use.
func (r *Recognizer) EndpointConfig() endpoint.Config { return r.endpoint.Load().Config() }

// StreamOption configures a stream at creation.
type StreamOption func(*streamOptions)

type streamOptions struct {
	id       string
	hotwords string
	graph    *contextgraph.Graph
}

// WithID sets the stream ID. By default a random UUID is used.
func WithID(id string) StreamOption {
	return func(o *streamOptions) { o.id = id }
}

// WithHotwords gives the stream its own hotwords, one phrase per line or
// separated by '/'. They replace the recognizer-wide hotwords.
func WithHotwords(text string) StreamOption {
	return func(o *streamOptions) { o.hotwords = text }
}

// WithContextGraph gives the stream a prebuilt hotword graph.
func WithContextGraph(g *contextgraph.Graph) StreamOption {
	return func(o *streamOptions) { o.graph = g }
}

// CreateStream returns a new stream.
func (r *Recognizer) CreateStream(opts ...StreamOption) (*Stream, error) {
	var o streamOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}

	graph := r.graph.Load()
	switch {
	case o.graph != nil:
		graph = o.graph
	case strings.TrimSpace(o.hotwords) != "":
		phrases, err := symbols.ParseHotwords(strings.NewReader(symbols.SplitInline(o.hotwords)), r.symbols, r.cfg.HotwordsStrict)
		if err != nil {
			return nil, fmt.Errorf("recognizer: stream hotwords: %w", err)
		}
		if len(phrases) > 0 {
			graph = contextgraph.New(phrases, r.cfg.HotwordsScore)
		}
	}
	if r.cfg.DecodingMethod != ModifiedBeamSearch {
		if o.graph != nil || strings.TrimSpace(o.hotwords) != "" {
			slog.Warn("recognizer: stream hotwords ignored, they need modified_beam_search",
				"stream_id", o.id, "decoding_method", r.cfg.DecodingMethod)
		}
		graph = nil
	}

	return &Stream{
		id:       o.id,
		feat:     features.NewExtractor(r.cfg.Features),
		states:   r.model.InitStates(),
		result:   r.decoder.EmptyResult(),
		graph:    graph,
		endpoint: r.endpoint.Load(),
	}, nil
}

// IsReady reports whether s has enough frames for one encoder call.
func (r *Recognizer) IsReady(s *Stream) bool {
	return s.NumFramesReady()-s.processed >= r.meta.Segment
}

// DecodeStream runs one encoder call on s and decodes its output. Calling
// it on a stream that is not ready panics. After an error the stream's
// encoder state is unchanged but its read position has advanced; the stream
// should be abandoned.
func (r *Recognizer) DecodeStream(s *Stream) error {
	if !r.IsReady(s) {
		panic(fmt.Sprintf("recognizer: stream %s not ready: %d of %d frames", s.id, s.NumFramesReady()-s.processed, r.meta.Segment))
	}
	frames := s.GetFrames(s.processed, r.meta.Segment)
	s.processed += r.meta.Offset

	dim := int64(len(frames) / r.meta.Segment)
	x := inference.NewFloat([]int64{1, int64(r.meta.Segment), dim}, frames)
	enc, states, err := r.model.RunEncoder(x, s.states)
	if err != nil {
		return fmt.Errorf("recognizer: stream %s: %w", s.id, err)
	}
	s.states = states

	if err := r.decoder.Decode(enc, &s.result, s.graph); err != nil {
		return fmt.Errorf("recognizer: stream %s: %w", s.id, err)
	}
	return nil
}

// DecodeStreams decodes every stream until it is no longer ready. Streams
// are decoded concurrently; the first error cancels the rest.
func (r *Recognizer) DecodeStreams(ctx context.Context, streams ...*Stream) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range streams {
		g.Go(func() error {
			for r.IsReady(s) {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := r.DecodeStream(s); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Recognizer) frameShift() float32 {
	return float32(r.cfg.Features.FrameShiftSeconds())
}

// EndpointRule reports whether the current utterance of s has ended and
// which rule fired. It is always false when endpointing is disabled.
func (r *Recognizer) EndpointRule(s *Stream) (string, bool) {
	if !r.cfg.EnableEndpoint {
		return "", false
	}
	trailing := s.result.NumTrailingBlanks * r.meta.SubsamplingFactor
	return s.endpoint.Evaluate(s.processed, trailing, r.frameShift())
}

// IsEndpoint reports whether the current utterance of s has ended.
func (r *Recognizer) IsEndpoint(s *Stream) bool {
	_, ok := r.EndpointRule(s)
	return ok
}

// Reset starts a new utterance on s. Encoder state, feature history and the
// cached decoder output carry over.
func (r *Recognizer) Reset(s *Stream) {
	s.reset(r.decoder.EmptyResult())
}

// GetResult returns the current best transcript of s.
func (r *Recognizer) GetResult(s *Stream) Result {
	res := s.result.Clone()
	r.decoder.StripLeadingBlanks(&res)
	return r.render(s, res, false)
}

// FinalResult settles hotword bonuses for the current utterance and returns
// its transcript marked final. Call it once per utterance, before Reset.
func (r *Recognizer) FinalResult(s *Stream) Result {
	if !s.finalized {
		r.decoder.FinalizeResult(&s.result, s.graph)
		s.finalized = true
	}
	res := s.result.Clone()
	r.decoder.StripLeadingBlanks(&res)
	return r.render(s, res, true)
}

func (r *Recognizer) render(s *Stream, res decode.Result, final bool) Result {
	shift := r.frameShift()
	perFrame := shift * float32(r.meta.SubsamplingFactor)

	ts := make([]float32, len(res.Timestamps))
	for i, t := range res.Timestamps {
		ts[i] = float32(t) * perFrame
	}
	return Result{
		Text:       r.symbols.Text(res.Tokens),
		Tokens:     r.symbols.Tokens(res.Tokens),
		TokenIDs:   res.Tokens,
		Timestamps: ts,
		Segment:    s.segment,
		StartTime:  float32(s.start) * shift,
		IsFinal:    final,
	}
}

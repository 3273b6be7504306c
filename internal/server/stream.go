package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamasr/internal/observe"
	"github.com/MrWong99/streamasr/internal/sink"
	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
)

// Message types sent to streaming clients.
const (
	TypePartial = "partial"
	TypeFinal   = "final"
	TypeDone    = "done"
	TypeError   = "error"
)

// sinkTimeout bounds one sink write for a final result.
const sinkTimeout = 5 * time.Second

// ResultMessage carries a partial or final transcript.
type ResultMessage struct {
	Type       string    `json:"type"`
	Segment    int       `json:"segment"`
	Text       string    `json:"text"`
	Tokens     []string  `json:"tokens"`
	Timestamps []float32 `json:"timestamps"`
	StartTime  float32   `json:"start_time"`
}

// ControlMessage is any message without a transcript. Clients end input
// with {"type":"done"}; the server answers with the same once every result
// was sent.
type ControlMessage struct {
	Type     string `json:"type"`
	StreamID string `json:"stream_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

func resultMessage(r recognizer.Result) ResultMessage {
	typ := TypePartial
	if r.IsFinal {
		typ = TypeFinal
	}
	tokens, ts := r.Tokens, r.Timestamps
	if tokens == nil {
		tokens = []string{}
	}
	if ts == nil {
		ts = []float32{}
	}
	return ResultMessage{
		Type:       typ,
		Segment:    r.Segment,
		Text:       r.Text,
		Tokens:     tokens,
		Timestamps: ts,
		StartTime:  r.StartTime,
	}
}

// streamParams are the query parameters of GET /v1/asr.
type streamParams struct {
	format     audio.InputFormat
	sampleRate int
	channels   int
	hotwords   string
}

func (s *Server) parseStreamParams(r *http.Request) (streamParams, error) {
	q := r.URL.Query()
	p := streamParams{
		format:     s.cfg.Format,
		sampleRate: s.cfg.SampleRate,
		channels:   1,
		hotwords:   q.Get("hotwords"),
	}
	if v := q.Get("format"); v != "" {
		p.format = audio.InputFormat(v)
		if !p.format.IsValid() {
			return p, fmt.Errorf("format %q is invalid; valid values: pcm16, f32, opus", v)
		}
	}
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return p, fmt.Errorf("sample_rate %q must be a positive integer", v)
		}
		p.sampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 2 {
			return p, fmt.Errorf("channels %q must be 1 or 2", v)
		}
		p.channels = n
	}
	return p, nil
}

// handleStream runs one websocket recognition session.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	p, err := s.parseStreamParams(r)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	conv, err := audio.NewConverter(p.format, p.sampleRate, p.channels)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}
	var opts []recognizer.StreamOption
	if p.hotwords != "" {
		opts = append(opts, recognizer.WithHotwords(p.hotwords))
	}
	st, err := s.rec.CreateStream(opts...)
	if err != nil {
		httpError(w, http.StatusBadRequest, err.Error())
		return
	}

	if n := s.active.Add(1); s.cfg.MaxStreams > 0 && n > int64(s.cfg.MaxStreams) {
		s.active.Add(-1)
		httpError(w, http.StatusServiceUnavailable, "too many streams")
		return
	}
	defer s.active.Add(-1)

	w.Header().Set("X-Stream-ID", st.ID())
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.OriginPatterns})
	if err != nil {
		// Accept already wrote the response.
		observe.Logger(r.Context()).Warn("websocket accept failed", "err", err)
		return
	}
	conn.SetReadLimit(s.cfg.ReadLimit)

	ctx, span := observe.StartStreamSpan(r.Context(), st.ID(), string(p.format), p.sampleRate)
	defer span.End()
	log := observe.Logger(ctx).With("stream", st.ID())

	s.metrics.ActiveStreams.Add(ctx, 1)
	defer s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)

	log.Info("stream opened", "format", p.format, "sample_rate", p.sampleRate, "hotwords", p.hotwords != "")
	sess := &streamSession{
		srv:  s,
		conn: conn,
		st:   st,
		conv: conv,
		rate: p.sampleRate,
		out:  make(chan recognizer.Result, 16),
	}
	err = sess.run(ctx)

	switch {
	case err == nil:
		conn.Close(websocket.StatusNormalClosure, "")
		log.Info("stream closed", "segments", st.Segment())
	case errors.Is(err, errClientGone):
		log.Info("stream closed by client", "segments", st.Segment())
	default:
		observe.Fail(span, err)
		log.Warn("stream failed", "err", err)
		_ = wsjson.Write(context.WithoutCancel(ctx), conn, ControlMessage{Type: TypeError, Error: err.Error()})
		conn.Close(websocket.StatusInternalError, "recognition failed")
	}
}

// errClientGone ends a session whose client closed the connection or went
// away before sending done.
var errClientGone = errors.New("server: client closed the stream")

// streamSession pairs one reader goroutine, which owns the recognizer
// stream, with one writer goroutine, which owns the outgoing side of conn.
type streamSession struct {
	srv  *Server
	conn *websocket.Conn
	st   *recognizer.Stream
	conv *audio.Converter
	rate int
	out  chan recognizer.Result

	// lastPartial suppresses repeated partials of the same segment.
	lastPartial string
}

func (ss *streamSession) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ss.out)
		return ss.readLoop(gctx)
	})
	g.Go(func() error {
		return ss.writeLoop(gctx)
	})
	return g.Wait()
}

func (ss *streamSession) readLoop(ctx context.Context) error {
	for {
		typ, data, err := ss.conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return errClientGone
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("server: read: %w", err)
		}

		if typ == websocket.MessageText {
			var msg ControlMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("server: bad control message: %w", err)
			}
			if msg.Type != TypeDone {
				return fmt.Errorf("server: unknown control message %q", msg.Type)
			}
			return ss.finish(ctx)
		}

		samples, err := ss.conv.Convert(data)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			continue
		}
		if err := ss.st.AcceptWaveform(ss.rate, samples); err != nil {
			return err
		}
		if err := ss.decode(ctx); err != nil {
			return err
		}
	}
}

// decode runs the encoder while enough frames are buffered, then reports
// the partial result or closes the utterance on an endpoint.
func (ss *streamSession) decode(ctx context.Context) error {
	rec, m := ss.srv.rec, ss.srv.metrics
	for rec.IsReady(ss.st) {
		start := time.Now()
		before := ss.st.NumProcessedFrames()
		if err := rec.DecodeStream(ss.st); err != nil {
			return err
		}
		m.DecodeDuration.Record(ctx, time.Since(start).Seconds())
		m.EncoderFrames.Add(ctx, int64(ss.st.NumProcessedFrames()-before))
	}

	if rule, ok := rec.EndpointRule(ss.st); ok {
		m.RecordEndpoint(ctx, rule)
		final := rec.FinalResult(ss.st)
		rec.Reset(ss.st)
		ss.lastPartial = ""
		if final.Empty() {
			return nil
		}
		return ss.send(ctx, final)
	}

	res := rec.GetResult(ss.st)
	if res.Empty() || res.Text == ss.lastPartial {
		return nil
	}
	ss.lastPartial = res.Text
	return ss.send(ctx, res)
}

// finish flushes the stream after the client signalled the end of input.
func (ss *streamSession) finish(ctx context.Context) error {
	pad := make([]float32, int(float32(ss.rate)*offline.TailPadding))
	if err := ss.st.AcceptWaveform(ss.rate, pad); err != nil {
		return err
	}
	ss.st.InputFinished()
	if err := ss.decode(ctx); err != nil {
		return err
	}
	final := ss.srv.rec.FinalResult(ss.st)
	if final.Empty() {
		return nil
	}
	return ss.send(ctx, final)
}

func (ss *streamSession) send(ctx context.Context, r recognizer.Result) error {
	select {
	case ss.out <- r:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (ss *streamSession) writeLoop(ctx context.Context) error {
	for r := range ss.out {
		if err := wsjson.Write(ctx, ss.conn, resultMessage(r)); err != nil {
			return fmt.Errorf("server: write: %w", err)
		}
		if r.IsFinal {
			ss.srv.storeFinal(ctx, sink.FromResult(ss.st.ID(), r), len(r.TokenIDs))
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return wsjson.Write(ctx, ss.conn, ControlMessage{Type: TypeDone, StreamID: ss.st.ID()})
}

// storeFinal counts a final result and hands it to the sink. Sink failures
// are logged by the sink and never end the stream.
func (s *Server) storeFinal(ctx context.Context, u sink.Utterance, tokens int) {
	s.metrics.RecordUtterance(ctx, string(u.Source), tokens)
	if s.sink == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	if err := s.sink.Write(wctx, u); err != nil {
		observe.Logger(ctx).Debug("sink write failed", "stream", u.StreamID, "segment", u.Segment, "err", err)
	}
}

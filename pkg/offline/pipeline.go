package offline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/vad"
)

// ErrPipelineClosed is returned by Write after Close or after Run returned.
var ErrPipelineClosed = errors.New("offline: pipeline closed")

// Defaults for [PipelineConfig].
const (
	DefaultPartialInterval  = 200 * time.Millisecond
	DefaultPreSpeechWindows = 10
)

// PipelineConfig tunes a [Pipeline].
type PipelineConfig struct {
	// SampleRate is the rate the detector and recognizer run at. Input at
	// other rates is resampled. Defaults to the detector's rate.
	SampleRate int

	// PartialInterval is how much audio, in stream time, passes between two
	// partial transcriptions of an open segment.
	PartialInterval time.Duration

	// PreSpeechWindows is how many VAD windows are kept while no speech is
	// detected.
	PreSpeechWindows int

	// DisablePartials turns off partial transcriptions.
	DisablePartials bool
}

// Result is one transcription produced by a [Pipeline].
type Result struct {
	Transcript

	// Segment numbers the finished segments from zero. A partial carries the
	// number its segment will have.
	Segment int `json:"segment"`

	// Start and Duration locate the transcribed audio in the input, in
	// seconds.
	Start    float32 `json:"start"`
	Duration float32 `json:"duration"`

	IsFinal bool `json:"is_final"`
}

// Pipeline cuts a stream into speech segments with a VAD and transcribes
// them. While speech is open, the audio buffered so far is transcribed every
// PartialInterval to give early results.
//
// A producer goroutine calls Write and finally Close; a consumer calls Run.
type Pipeline struct {
	rec Recognizer
	det *vad.Detector
	cfg PipelineConfig

	mu      sync.Mutex
	queue   []audio.Chunk
	closed  bool
	stopped bool
	notify  chan struct{}
}

// NewPipeline returns a pipeline transcribing the segments det finds with
// rec. The pipeline owns det for the duration of Run.
func NewPipeline(rec Recognizer, det *vad.Detector, cfg PipelineConfig) *Pipeline {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = det.Config().SampleRate
	}
	if cfg.PartialInterval <= 0 {
		cfg.PartialInterval = DefaultPartialInterval
	}
	if cfg.PreSpeechWindows <= 0 {
		cfg.PreSpeechWindows = DefaultPreSpeechWindows
	}
	return &Pipeline{
		rec:    rec,
		det:    det,
		cfg:    cfg,
		notify: make(chan struct{}, 1),
	}
}

// Write queues a chunk of captured audio. It never blocks on the consumer.
func (p *Pipeline) Write(c audio.Chunk) error {
	p.mu.Lock()
	if p.closed || p.stopped {
		p.mu.Unlock()
		return ErrPipelineClosed
	}
	p.queue = append(p.queue, c)
	p.mu.Unlock()
	p.wake()
	return nil
}

// Close marks the end of input. Run transcribes what is left and returns.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wake()
}

func (p *Pipeline) wake() {
	select {
	case p.notify <- struct{}{}:
	default:
	}
}

// next blocks until a chunk is queued or input is closed.
func (p *Pipeline) next(ctx context.Context) (audio.Chunk, bool, error) {
	for {
		p.mu.Lock()
		if len(p.queue) > 0 {
			c := p.queue[0]
			p.queue[0] = audio.Chunk{}
			p.queue = p.queue[1:]
			p.mu.Unlock()
			return c, true, nil
		}
		if p.closed {
			p.mu.Unlock()
			return audio.Chunk{}, false, nil
		}
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			return audio.Chunk{}, false, ctx.Err()
		case <-p.notify:
		}
	}
}

// run holds the consumer state of one Run call.
type run struct {
	*Pipeline
	emit func(Result) error

	ws        int
	resampler *features.LinearResample
	inRate    int

	buf          []float32
	offset       int // first sample of buf not yet fed to the detector
	consumed     int // samples appended to buf since the start
	started      bool
	sincePartial int
	segment      int
}

// Run consumes queued audio until Close, calling emit for every partial and
// final result. emit runs on the caller's goroutine; an error from emit or
// from the recognizer stops the pipeline.
func (p *Pipeline) Run(ctx context.Context, emit func(Result) error) error {
	defer func() {
		p.mu.Lock()
		p.stopped = true
		p.queue = nil
		p.mu.Unlock()
	}()

	r := &run{Pipeline: p, emit: emit, ws: p.det.Config().WindowSize}
	for {
		c, ok, err := p.next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		samples, err := r.resample(c, false)
		if err != nil {
			return err
		}
		if err := r.feed(ctx, samples); err != nil {
			return err
		}
	}

	if r.resampler != nil {
		tail, _ := r.resample(audio.Chunk{SampleRate: r.inRate}, true)
		if err := r.feed(ctx, tail); err != nil {
			return err
		}
	}
	p.det.Flush()
	return r.finals(ctx)
}

func (r *run) resample(c audio.Chunk, flush bool) ([]float32, error) {
	rate := c.SampleRate
	if rate <= 0 {
		rate = r.cfg.SampleRate
	}
	if r.inRate == 0 {
		r.inRate = rate
		if rate != r.cfg.SampleRate {
			r.resampler = features.NewDefaultResample(rate, r.cfg.SampleRate)
		}
	}
	if rate != r.inRate {
		return nil, fmt.Errorf("offline: %w: %d then %d", features.ErrSampleRateChanged, r.inRate, rate)
	}
	if r.resampler == nil {
		return c.Samples, nil
	}
	return r.resampler.Resample(c.Samples, flush), nil
}

func (r *run) feed(ctx context.Context, samples []float32) error {
	r.buf = append(r.buf, samples...)
	r.consumed += len(samples)

	for ; r.offset+r.ws <= len(r.buf); r.offset += r.ws {
		if err := r.det.AcceptWaveform(r.buf[r.offset : r.offset+r.ws]); err != nil {
			return fmt.Errorf("offline: %w", err)
		}
		if !r.started && r.det.IsSpeechDetected() {
			r.started = true
			r.sincePartial = 0
		}
	}

	if keep := r.cfg.PreSpeechWindows * r.ws; !r.started && len(r.buf) > keep {
		drop := len(r.buf) - keep
		r.offset -= drop
		r.buf = append(r.buf[:0], r.buf[drop:]...)
	}

	if r.started && !r.cfg.DisablePartials {
		r.sincePartial += len(samples)
		if r.sincePartial >= int(r.cfg.PartialInterval.Seconds()*float64(r.cfg.SampleRate)) {
			r.sincePartial = 0
			if err := r.partial(ctx); err != nil {
				return err
			}
		}
	}
	return r.finals(ctx)
}

func (r *run) partial(ctx context.Context) error {
	tr, err := r.rec.Transcribe(ctx, r.buf, r.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("offline: partial: %w", err)
	}
	rate := float32(r.cfg.SampleRate)
	return r.emit(Result{
		Transcript: tr,
		Segment:    r.segment,
		Start:      float32(r.consumed-len(r.buf)) / rate,
		Duration:   float32(len(r.buf)) / rate,
	})
}

// finals transcribes every segment the detector has finished.
func (r *run) finals(ctx context.Context) error {
	for !r.det.Empty() {
		seg := r.det.Front()
		r.det.Pop()

		tr, err := r.rec.Transcribe(ctx, seg.Samples, r.cfg.SampleRate)
		if err != nil {
			return fmt.Errorf("offline: segment %d: %w", r.segment, err)
		}
		if err := r.emit(Result{
			Transcript: tr,
			Segment:    r.segment,
			Start:      float32(seg.StartSeconds(r.cfg.SampleRate)),
			Duration:   float32(seg.Duration(r.cfg.SampleRate)),
			IsFinal:    true,
		}); err != nil {
			return err
		}
		r.segment++
		r.buf = r.buf[:0]
		r.offset = 0
		r.started = false
	}
	return nil
}

// TranscribeWave runs wave through a fresh pipeline and returns the final
// results. The wave is fed in 100 ms chunks by a separate goroutine, the way
// a capture device would deliver it.
func TranscribeWave(ctx context.Context, rec Recognizer, det *vad.Detector, wave audio.Wave, cfg PipelineConfig) ([]Result, error) {
	if wave.SampleRate <= 0 {
		return nil, fmt.Errorf("offline: invalid sample rate %d", wave.SampleRate)
	}
	cfg.DisablePartials = true
	p := NewPipeline(rec, det, cfg)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer p.Close()
		step := max(wave.SampleRate/10, 1)
		for i := 0; i < len(wave.Samples); i += step {
			c := audio.Chunk{
				Samples:    wave.Samples[i:min(i+step, len(wave.Samples))],
				SampleRate: wave.SampleRate,
				Timestamp:  time.Duration(i) * time.Second / time.Duration(wave.SampleRate),
			}
			if err := p.Write(c); err != nil {
				return nil // consumer stopped; its error wins
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})

	var out []Result
	g.Go(func() error {
		return p.Run(ctx, func(r Result) error {
			out = append(out, r)
			return nil
		})
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

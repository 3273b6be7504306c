// Command decode-file runs the streaming recognizer over WAV files, feeding
// them in fixed-size chunks the way a live client would, and prints every
// endpointed utterance.
//
// Usage:
//
//	decode-file -config config.yaml [-chunk 100ms] [-json] file.wav...
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrWong99/streamasr/internal/app"
	"github.com/MrWong99/streamasr/internal/config"
	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/offline"
	"github.com/MrWong99/streamasr/pkg/recognizer"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	chunk := flag.Duration("chunk", 100*time.Millisecond, "audio fed per AcceptWaveform call")
	asJSON := flag.Bool("json", false, "print one JSON result per line")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] file.wav...\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decode-file: %v\n", err)
		return 1
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Server.LogLevel.Level()})))

	rec, closeModel, err := app.LoadRecognizer(cfg)
	if err != nil {
		slog.Error("failed to load model", "err", err)
		return 1
	}
	defer closeModel()

	out := &printer{json: *asJSON, enc: json.NewEncoder(os.Stdout)}
	status := 0
	for _, path := range flag.Args() {
		if err := decodeFile(rec, path, *chunk, out); err != nil {
			slog.Error("decode failed", "file", path, "err", err)
			status = 1
		}
	}
	return status
}

type printer struct {
	json bool
	enc  *json.Encoder
}

type line struct {
	File string `json:"file"`
	recognizer.Result
}

func (p *printer) print(file string, r recognizer.Result) {
	if p.json {
		_ = p.enc.Encode(line{File: file, Result: r})
		return
	}
	fmt.Printf("%s [%d] %.2fs: %s\n", file, r.Segment, r.StartTime, r.Text)
}

func decodeFile(rec *recognizer.Recognizer, path string, chunk time.Duration, out *printer) error {
	wave, err := audio.ReadWAVFile(path)
	if err != nil {
		return err
	}
	s, err := rec.CreateStream()
	if err != nil {
		return err
	}

	start := time.Now()
	step := max(1, int(float64(wave.SampleRate)*chunk.Seconds()))
	for i := 0; i < len(wave.Samples); i += step {
		end := min(i+step, len(wave.Samples))
		if err := s.AcceptWaveform(wave.SampleRate, wave.Samples[i:end]); err != nil {
			return err
		}
		if err := drain(rec, s, path, out); err != nil {
			return err
		}
	}

	// Tail padding lets the last words clear the encoder's right context.
	tail := make([]float32, int(float32(wave.SampleRate)*offline.TailPadding))
	if err := s.AcceptWaveform(wave.SampleRate, tail); err != nil {
		return err
	}
	s.InputFinished()
	if err := drain(rec, s, path, out); err != nil {
		return err
	}
	if r := rec.FinalResult(s); !r.Empty() {
		out.print(path, r)
	}

	elapsed := time.Since(start)
	dur := wave.Duration()
	slog.Info("decoded",
		"file", path,
		"audio_seconds", dur,
		"elapsed", elapsed,
		"rtf", float32(elapsed.Seconds())/max(dur, 1e-6),
	)
	return nil
}

// drain decodes while frames are ready and closes utterances at endpoints.
func drain(rec *recognizer.Recognizer, s *recognizer.Stream, path string, out *printer) error {
	for rec.IsReady(s) {
		if err := rec.DecodeStream(s); err != nil {
			return err
		}
		if rule, ok := rec.EndpointRule(s); ok {
			r := rec.FinalResult(s)
			rec.Reset(s)
			if !r.Empty() {
				slog.Debug("endpoint", "file", path, "rule", rule, "segment", r.Segment)
				out.print(path, r)
			}
		}
	}
	return nil
}

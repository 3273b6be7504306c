// Command vad-segments strips silence from a WAV file with Silero VAD. The
// speech segments are written back to back into a new WAV file and their
// positions are printed as "start -- stop" in seconds.
//
// Usage:
//
//	vad-segments -model silero_vad.onnx -in speech.wav -out speech-only.wav
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/MrWong99/streamasr/pkg/audio"
	"github.com/MrWong99/streamasr/pkg/features"
	"github.com/MrWong99/streamasr/pkg/inference/onnx"
	"github.com/MrWong99/streamasr/pkg/vad"
	"github.com/MrWong99/streamasr/pkg/vad/silero"
)

// sileroRate is the only rate the Silero model accepts.
const sileroRate = 16000

func main() {
	os.Exit(run())
}

func run() int {
	model := flag.String("model", "", "path to the Silero VAD onnx model")
	in := flag.String("in", "", "input WAV file")
	out := flag.String("out", "", "output WAV file with silence removed")
	lib := flag.String("onnx-lib", "", "path to libonnxruntime (default: platform search path)")
	threshold := flag.Float64("threshold", 0.5, "speech probability threshold")
	minSilence := flag.Float64("min-silence", 0.5, "seconds of silence that end a segment")
	minSpeech := flag.Float64("min-speech", 0.25, "seconds of speech that start a segment")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if *model == "" || *in == "" || *out == "" {
		fmt.Fprintln(os.Stderr, "vad-segments: -model, -in and -out are required")
		flag.Usage()
		return 2
	}

	cfg := vad.Config{
		SampleRate:         sileroRate,
		Threshold:          float32(*threshold),
		MinSilenceDuration: float32(*minSilence),
		MinSpeechDuration:  float32(*minSpeech),
	}.WithDefaults()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "vad-segments: %v\n", err)
		return 2
	}

	if err := onnx.Init(*lib); err != nil {
		slog.Error("onnx runtime init failed", "err", err)
		return 1
	}
	segments, err := strip(*model, *in, cfg)
	if err != nil {
		slog.Error("vad failed", "in", *in, "err", err)
		return 1
	}

	var speech []float32
	for _, seg := range segments {
		start := seg.StartSeconds(sileroRate)
		fmt.Printf("%.3f -- %.3f\n", start, start+seg.Duration(sileroRate))
		speech = append(speech, seg.Samples...)
	}
	if len(speech) == 0 {
		slog.Warn("no speech detected", "in", *in)
		return 0
	}
	if err := audio.WriteWAVFile(*out, speech, sileroRate); err != nil {
		slog.Error("write output failed", "out", *out, "err", err)
		return 1
	}
	slog.Info("wrote speech", "out", *out, "segments", len(segments), "seconds", float32(len(speech))/sileroRate)
	return 0
}

// strip runs the detector over the whole file and returns its segments.
func strip(modelPath, in string, cfg vad.Config) ([]vad.SpeechSegment, error) {
	wave, err := audio.ReadWAVFile(in)
	if err != nil {
		return nil, err
	}
	samples := wave.Samples
	if wave.SampleRate != sileroRate {
		slog.Info("resampling input", "from", wave.SampleRate, "to", sileroRate)
		samples = features.NewDefaultResample(wave.SampleRate, sileroRate).Resample(samples, true)
	}

	engine, err := silero.New(modelPath)
	if err != nil {
		return nil, err
	}
	sess, err := engine.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	det, err := vad.NewDetector(sess, cfg)
	if err != nil {
		sess.Close()
		return nil, err
	}
	defer det.Close()

	var segments []vad.SpeechSegment
	collect := func() {
		for !det.Empty() {
			segments = append(segments, det.Front())
			det.Pop()
		}
	}
	for i := 0; i < len(samples); i += cfg.WindowSize {
		end := min(i+cfg.WindowSize, len(samples))
		if err := det.AcceptWaveform(samples[i:end]); err != nil {
			return nil, err
		}
		collect()
	}
	det.Flush()
	collect()
	return segments, nil
}

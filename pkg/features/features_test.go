package features

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
)

func noise(n int, seed uint64) []float32 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(r.Float64()*2-1) * 0.3
	}
	return out
}

func TestNumFrames(t *testing.T) {
	fb := newFbank(DefaultConfig())
	tests := []struct {
		samples int64
		flush   bool
		want    int64
	}{
		{0, false, 0},
		{0, true, 0},
		{279, false, 0},
		{280, false, 1},
		{16000, false, 99},
		{16000, true, 100},
		{16080, true, 101},
	}
	for _, tc := range tests {
		if got := fb.numFrames(tc.samples, tc.flush); got != tc.want {
			t.Errorf("numFrames(%d, %v) = %d, want %d", tc.samples, tc.flush, got, tc.want)
		}
	}
}

func TestExtractor_SplitInputIsBitIdentical(t *testing.T) {
	t.Parallel()
	samples := noise(16000, 7)

	whole := NewExtractor(DefaultConfig())
	if err := whole.AcceptWaveform(16000, samples); err != nil {
		t.Fatal(err)
	}

	for _, chunk := range []int{1, 37, 160, 999, 4096} {
		split := NewExtractor(DefaultConfig())
		for i := 0; i < len(samples); i += chunk {
			end := min(i+chunk, len(samples))
			if err := split.AcceptWaveform(16000, samples[i:end]); err != nil {
				t.Fatal(err)
			}
		}
		if split.NumFramesReady() != whole.NumFramesReady() {
			t.Fatalf("chunk %d: frames %d, want %d", chunk, split.NumFramesReady(), whole.NumFramesReady())
		}
		n := whole.NumFramesReady()
		a := NewExtractor(DefaultConfig())
		_ = a.AcceptWaveform(16000, samples)
		want := a.GetFrames(0, n)
		got := split.GetFrames(0, n)
		for i := range want {
			if math.Float32bits(got[i]) != math.Float32bits(want[i]) {
				t.Fatalf("chunk %d: value %d = %v, want %v", chunk, i, got[i], want[i])
			}
		}
	}
}

func TestExtractor_SilenceHitsLogFloor(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	if err := e.AcceptWaveform(16000, make([]float32, 1600)); err != nil {
		t.Fatal(err)
	}
	e.InputFinished()
	if n := e.NumFramesReady(); n != 10 {
		t.Fatalf("NumFramesReady = %d, want 10", n)
	}
	want := float32(math.Log(logFloor))
	for i, v := range e.GetFrames(0, 10) {
		if v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestExtractor_PopIsMonotonic(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	_ = e.AcceptWaveform(16000, noise(8000, 3))
	ready := e.NumFramesReady()

	rows := e.GetFrames(10, 5)
	if len(rows) != 5*e.Dim() {
		t.Fatalf("len = %d, want %d", len(rows), 5*e.Dim())
	}
	if e.NumFramesReady() != ready {
		t.Errorf("NumFramesReady changed after pop: %d, want %d", e.NumFramesReady(), ready)
	}

	defer func() {
		if recover() == nil {
			t.Error("expected panic when reading a discarded frame")
		}
	}()
	e.GetFrames(5, 1)
}

func TestExtractor_GetFramesPastReadyPanics(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	_ = e.AcceptWaveform(16000, noise(1600, 1))
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	e.GetFrames(0, e.NumFramesReady()+1)
}

func TestExtractor_SampleRateBoundOnFirstCall(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	if err := e.AcceptWaveform(8000, noise(800, 2)); err != nil {
		t.Fatal(err)
	}
	err := e.AcceptWaveform(16000, noise(800, 2))
	if !errors.Is(err, ErrSampleRateChanged) {
		t.Errorf("err = %v, want ErrSampleRateChanged", err)
	}
}

func TestExtractor_ResampledInputProducesFrames(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	if err := e.AcceptWaveform(48000, noise(48000, 4)); err != nil {
		t.Fatal(err)
	}
	e.InputFinished()
	if n := e.NumFramesReady(); n < 99 || n > 101 {
		t.Errorf("NumFramesReady = %d, want about 100", n)
	}
	if err := e.AcceptWaveform(48000, noise(10, 4)); !errors.Is(err, ErrInputFinished) {
		t.Errorf("err = %v, want ErrInputFinished", err)
	}
}

func TestCompute(t *testing.T) {
	rows, n, err := Compute(DefaultConfig(), 16000, noise(16000, 9))
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 || len(rows) != 100*80 {
		t.Errorf("Compute = %d frames / %d values, want 100 / 8000", n, len(rows))
	}
}

func TestLinearResample_ChunkedMatchesWhole(t *testing.T) {
	in := noise(8000, 5)

	whole := NewDefaultResample(8000, 16000).Resample(in, true)

	r := NewDefaultResample(8000, 16000)
	var chunked []float32
	for i := 0; i < len(in); i += 333 {
		chunked = append(chunked, r.Resample(in[i:min(i+333, len(in))], false)...)
	}
	chunked = append(chunked, r.Resample(nil, true)...)

	if len(chunked) != len(whole) {
		t.Fatalf("len = %d, want %d", len(chunked), len(whole))
	}
	for i := range whole {
		if d := math.Abs(float64(chunked[i] - whole[i])); d > 1e-5 {
			t.Fatalf("sample %d differs by %g", i, d)
		}
	}
}

func TestLinearResample_PreservesLowFrequencyTone(t *testing.T) {
	const inRate, outRate, freq = 8000, 16000, 440.0
	in := make([]float32, inRate)
	for i := range in {
		in[i] = float32(math.Sin(2 * math.Pi * freq * float64(i) / inRate))
	}
	out := NewDefaultResample(inRate, outRate).Resample(in, true)
	if len(out) != outRate {
		t.Fatalf("len = %d, want %d", len(out), outRate)
	}
	for i := 1000; i < outRate-1000; i += 97 {
		want := math.Sin(2 * math.Pi * freq * float64(i) / outRate)
		if d := math.Abs(float64(out[i]) - want); d > 0.05 {
			t.Fatalf("sample %d = %v, want %v", i, out[i], want)
		}
	}
}

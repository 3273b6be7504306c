package features

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	preemphCoeff = 0.97

	// logFloor is FLT_EPSILON, the floor applied before taking the log of
	// mel energies.
	logFloor = 1.1920928955078125e-07
)

// melBin is one triangular filter, stored as a contiguous run of non-zero
// weights starting at FFT bin offset.
type melBin struct {
	offset  int
	weights []float64
}

// fbank computes one feature vector from one analysis window. It owns
// scratch buffers and is not safe for concurrent use.
type fbank struct {
	cfg    Config
	shift  int
	length int
	padded int

	window []float64
	bins   []melBin
	fft    *fourier.FFT

	frame  []float64
	coeffs []complex128
	power  []float64
}

func newFbank(cfg Config) *fbank {
	cfg = cfg.withDefaults()
	f := &fbank{
		cfg:    cfg,
		shift:  cfg.windowShift(),
		length: cfg.windowSize(),
		padded: cfg.paddedWindowSize(),
	}
	f.window = poveyWindow(f.length)
	f.bins = melBanks(cfg, f.padded)
	f.fft = fourier.NewFFT(f.padded)
	f.frame = make([]float64, f.padded)
	f.coeffs = make([]complex128, f.padded/2+1)
	f.power = make([]float64, f.padded/2+1)
	return f
}

// firstSample returns the index of the first sample of frame i. Frames are
// centred on multiples of the shift, so the first frame starts before 0.
func (f *fbank) firstSample(frame int64) int64 {
	mid := int64(f.shift)*frame + int64(f.shift)/2
	return mid - int64(f.length)/2
}

// numFrames returns how many frames numSamples samples yield. Without flush
// only frames whose window lies entirely inside the signal are counted.
func (f *fbank) numFrames(numSamples int64, flush bool) int64 {
	n := (numSamples + int64(f.shift)/2) / int64(f.shift)
	if flush {
		return n
	}
	end := f.firstSample(n-1) + int64(f.length)
	for n > 0 && end > numSamples {
		n--
		end -= int64(f.shift)
	}
	return n
}

// extract fills f.frame with the windowed samples of frame i. wave holds the
// signal from absolute sample offset onwards; indices outside the signal
// reflect back into it.
func (f *fbank) extract(offset int64, wave []float32, frame int64) {
	start := f.firstSample(frame) - offset
	n := int64(len(wave))
	if start >= 0 && start+int64(f.length) <= n {
		for i := range f.length {
			f.frame[i] = float64(wave[start+int64(i)])
		}
	} else {
		for i := range f.length {
			s := start + int64(i)
			for s < 0 || s >= n {
				if s < 0 {
					s = -s - 1
				} else {
					s = 2*n - 1 - s
				}
			}
			f.frame[i] = float64(wave[s])
		}
	}
	clear(f.frame[f.length:])

	w := f.frame[:f.length]
	var mean float64
	for _, v := range w {
		mean += v
	}
	mean /= float64(len(w))
	for i := range w {
		w[i] -= mean
	}
	for i := len(w) - 1; i > 0; i-- {
		w[i] -= preemphCoeff * w[i-1]
	}
	w[0] -= preemphCoeff * w[0]
	for i := range w {
		w[i] *= f.window[i]
	}
}

// compute writes the log-mel energies of the window in f.frame to out.
func (f *fbank) compute(out []float32) {
	f.coeffs = f.fft.Coefficients(f.coeffs, f.frame)
	for i, c := range f.coeffs {
		re, im := real(c), imag(c)
		f.power[i] = re*re + im*im
	}
	for i, b := range f.bins {
		var e float64
		for j, w := range b.weights {
			e += w * f.power[b.offset+j]
		}
		out[i] = float32(math.Log(max(e, logFloor)))
	}
}

func poveyWindow(n int) []float64 {
	w := make([]float64, n)
	a := 2 * math.Pi / float64(n-1)
	for i := range w {
		w[i] = math.Pow(0.5-0.5*math.Cos(a*float64(i)), 0.85)
	}
	return w
}

func melScale(hz float64) float64 {
	return 1127 * math.Log(1+hz/700)
}

func melBanks(cfg Config, padded int) []melBin {
	numFFTBins := padded / 2
	sr := float64(cfg.SampleRate)
	nyquist := 0.5 * sr
	high := cfg.HighFreq
	if high <= 0 {
		high += nyquist
	}
	binWidth := sr / float64(padded)
	melLow, melHigh := melScale(cfg.LowFreq), melScale(high)
	delta := (melHigh - melLow) / float64(cfg.FeatureDim+1)

	bins := make([]melBin, cfg.FeatureDim)
	for b := range bins {
		left := melLow + float64(b)*delta
		center := left + delta
		right := center + delta

		first := -1
		var weights []float64
		for i := range numFFTBins {
			mel := melScale(binWidth * float64(i))
			if mel <= left || mel >= right {
				if first >= 0 {
					break
				}
				continue
			}
			var w float64
			if mel <= center {
				w = (mel - left) / (center - left)
			} else {
				w = (right - mel) / (right - center)
			}
			if first < 0 {
				first = i
			}
			weights = append(weights, w)
		}
		if first < 0 {
			first = 0
		}
		bins[b] = melBin{offset: first, weights: weights}
	}
	return bins
}

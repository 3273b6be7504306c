package features

import "math"

// LinearResample converts a stream of samples between two rates with a
// Hann-windowed sinc filter. It keeps enough input history between calls
// that splitting the input into blocks does not change the output.
type LinearResample struct {
	inRate   int
	outRate  int
	cutoff   float64
	numZeros int

	inputUnit  int
	outputUnit int
	firstIndex []int
	weights    [][]float64

	inputOffset  int64
	outputOffset int64
	remainder    []float32
}

// NewLinearResample creates a resampler. cutoffHz must be below half of
// both rates; numZeros controls the filter width (Kaldi uses 6).
func NewLinearResample(inRate, outRate int, cutoffHz float64, numZeros int) *LinearResample {
	g := gcd(inRate, outRate)
	r := &LinearResample{
		inRate:     inRate,
		outRate:    outRate,
		cutoff:     cutoffHz,
		numZeros:   numZeros,
		inputUnit:  inRate / g,
		outputUnit: outRate / g,
	}
	r.setWeights()
	return r
}

// NewDefaultResample returns the resampler used for mismatched input:
// cutoff at 0.99 of the lower Nyquist frequency, filter width 6.
func NewDefaultResample(inRate, outRate int) *LinearResample {
	cutoff := 0.99 * 0.5 * float64(min(inRate, outRate))
	return NewLinearResample(inRate, outRate, cutoff, 6)
}

// InputRate returns the rate the resampler was built for.
func (r *LinearResample) InputRate() int { return r.inRate }

// OutputRate returns the rate the resampler produces.
func (r *LinearResample) OutputRate() int { return r.outRate }

// Reset discards all history so the next call starts a new signal.
func (r *LinearResample) Reset() {
	r.inputOffset = 0
	r.outputOffset = 0
	r.remainder = nil
}

// Resample consumes in and returns the output samples that can be computed
// so far. With flush set, the signal is treated as ended (zero-padded) and
// the resampler is reset afterwards.
func (r *LinearResample) Resample(in []float32, flush bool) []float32 {
	totalIn := r.inputOffset + int64(len(in))
	totalOut := r.numOutputSamples(totalIn, flush)
	out := make([]float32, max(totalOut-r.outputOffset, 0))

	for s := r.outputOffset; s < totalOut; s++ {
		firstIn, wrapped := r.indexes(s)
		w := r.weights[wrapped]
		first := firstIn - r.inputOffset

		var acc float64
		if first >= 0 && first+int64(len(w)) <= int64(len(in)) {
			for i, wt := range w {
				acc += wt * float64(in[first+int64(i)])
			}
		} else {
			for i, wt := range w {
				idx := first + int64(i)
				switch {
				case idx < 0 && int64(len(r.remainder))+idx >= 0:
					acc += wt * float64(r.remainder[int64(len(r.remainder))+idx])
				case idx >= 0 && idx < int64(len(in)):
					acc += wt * float64(in[idx])
				}
			}
		}
		out[s-r.outputOffset] = float32(acc)
	}

	if flush {
		r.Reset()
		return out
	}
	r.setRemainder(in)
	r.inputOffset = totalIn
	r.outputOffset = totalOut
	return out
}

func (r *LinearResample) windowWidth() float64 {
	return float64(r.numZeros) / (2 * r.cutoff)
}

func (r *LinearResample) numOutputSamples(inputSamples int64, flush bool) int64 {
	tick := int64(lcm(r.inRate, r.outRate))
	ticksPerIn := tick / int64(r.inRate)
	interval := inputSamples * ticksPerIn
	if !flush {
		interval -= int64(math.Floor(r.windowWidth() * float64(tick)))
	}
	if interval <= 0 {
		return 0
	}
	ticksPerOut := tick / int64(r.outRate)
	last := interval / ticksPerOut
	if last*ticksPerOut == interval {
		last--
	}
	return last + 1
}

func (r *LinearResample) indexes(sampleOut int64) (firstIn int64, wrapped int) {
	unit := sampleOut / int64(r.outputUnit)
	wrapped = int(sampleOut - unit*int64(r.outputUnit))
	firstIn = int64(r.firstIndex[wrapped]) + unit*int64(r.inputUnit)
	return firstIn, wrapped
}

func (r *LinearResample) setWeights() {
	r.firstIndex = make([]int, r.outputUnit)
	r.weights = make([][]float64, r.outputUnit)
	width := r.windowWidth()
	for i := range r.outputUnit {
		t := float64(i) / float64(r.outRate)
		minIn := int(math.Ceil((t - width) * float64(r.inRate)))
		maxIn := int(math.Floor((t + width) * float64(r.inRate)))
		r.firstIndex[i] = minIn
		w := make([]float64, maxIn-minIn+1)
		for j := range w {
			delta := float64(minIn+j)/float64(r.inRate) - t
			w[j] = r.filter(delta) / float64(r.inRate)
		}
		r.weights[i] = w
	}
}

func (r *LinearResample) filter(t float64) float64 {
	var window float64
	if math.Abs(t) < r.windowWidth() {
		window = 0.5 * (1 + math.Cos(2*math.Pi*r.cutoff/float64(r.numZeros)*t))
	}
	if t != 0 {
		return window * math.Sin(2*math.Pi*r.cutoff*t) / (math.Pi * t)
	}
	return window * 2 * r.cutoff
}

func (r *LinearResample) setRemainder(in []float32) {
	old := r.remainder
	need := int(math.Ceil(float64(r.inRate) * float64(r.numZeros) / r.cutoff))
	rem := make([]float32, need)
	for idx := -need; idx < 0; idx++ {
		inIdx := idx + len(in)
		switch {
		case inIdx >= 0:
			rem[idx+need] = in[inIdx]
		case inIdx+len(old) >= 0:
			rem[idx+need] = old[inIdx+len(old)]
		}
	}
	r.remainder = rem
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	return a / gcd(a, b) * b
}

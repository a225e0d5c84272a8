package features

import "math"

// hann generates a periodic Hann window of length n.
func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// hamming generates a Hamming window of length n.
func hamming(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

func hzToMel(hz float64) float64 {
	return 2595.0 * math.Log10(1.0+hz/700.0)
}

func melToHz(mel float64) float64 {
	return 700.0 * (math.Pow(10.0, mel/2595.0) - 1.0)
}

// filter is one triangular mel filter, stored sparsely as the range of FFT
// bins it covers and their weights.
type filter struct {
	start   int
	weights []float64
}

func (f filter) apply(power []float64) float64 {
	var sum float64
	for i, w := range f.weights {
		sum += w * power[f.start+i]
	}
	return sum
}

// melFilterBank builds numMels triangular filters over halfFFT = fftSize/2+1
// power bins, equally spaced on the HTK mel scale between lowFreq and highFreq.
func melFilterBank(numMels, fftSize, sampleRate int, lowFreq, highFreq float64) []filter {
	halfFFT := fftSize/2 + 1
	lowMel := hzToMel(lowFreq)
	highMel := hzToMel(highFreq)

	step := (highMel - lowMel) / float64(numMels+1)
	bins := make([]int, numMels+2)
	for i := range bins {
		hz := melToHz(lowMel + float64(i)*step)
		bin := int(math.Round(hz * float64(fftSize) / float64(sampleRate)))
		bins[i] = min(bin, halfFFT-1)
	}

	// At least one bin per filter edge, even for very dense banks.
	for i := 1; i < len(bins); i++ {
		if bins[i] <= bins[i-1] {
			bins[i] = bins[i-1] + 1
		}
	}

	bank := make([]filter, numMels)
	for m := range bank {
		left, center, right := bins[m], bins[m+1], bins[m+2]
		end := min(right, halfFFT-1)
		if left >= halfFFT-1 {
			// Pushed past Nyquist: the filter sees the top bin only.
			bank[m] = filter{start: halfFFT - 1, weights: []float64{1}}
			continue
		}
		weights := make([]float64, end-left+1)
		for k := left; k <= end; k++ {
			switch {
			case k < center:
				weights[k-left] = float64(k-left) / float64(center-left)
			default:
				weights[k-left] = float64(right-k) / float64(right-center)
			}
		}
		bank[m] = filter{start: left, weights: weights}
	}
	return bank
}

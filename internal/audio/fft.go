package audio

import (
	"fmt"
	"math"
)

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// hannWindow returns a periodic Hann window computed in float32, matching the
// feature extractor the models were trained with.
func hannWindow(length int) []float32 {
	w := make([]float32, length)
	for i := range w {
		angle := 2 * math.Pi * float32(i) / float32(length)
		w[i] = 0.5 * (1 - float32(math.Cos(float64(angle))))
	}
	return w
}

// fftInPlace runs an iterative radix-2 Cooley-Tukey FFT. buf holds n complex
// values interleaved as [re, im, re, im, ...]. n must be a power of two.
func fftInPlace(buf []float32, n int) {
	if !isPowerOfTwo(n) {
		panic(fmt.Sprintf("audio: FFT size %d is not a power of two", n))
	}

	// Bit-reversal permutation
	j := 0
	for i := 0; i < n; i++ {
		if i < j {
			buf[2*i], buf[2*j] = buf[2*j], buf[2*i]
			buf[2*i+1], buf[2*j+1] = buf[2*j+1], buf[2*i+1]
		}
		m := n >> 1
		for m >= 1 && j >= m {
			j -= m
			m >>= 1
		}
		j += m
	}

	for step := 1; step < n; {
		half := step
		step <<= 1

		angle := -math.Pi / float32(half)
		wRe := float32(math.Cos(float64(angle)))
		wIm := float32(math.Sin(float64(angle)))

		for k := 0; k < n; k += step {
			twRe, twIm := float32(1), float32(0)

			for m := 0; m < half; m++ {
				a := k + m
				b := a + half

				tr := twRe*buf[2*b] - twIm*buf[2*b+1]
				ti := twRe*buf[2*b+1] + twIm*buf[2*b]

				buf[2*b] = buf[2*a] - tr
				buf[2*b+1] = buf[2*a+1] - ti
				buf[2*a] += tr
				buf[2*a+1] += ti

				twRe, twIm = twRe*wRe-twIm*wIm, twRe*wIm+twIm*wRe
			}
		}
	}
}

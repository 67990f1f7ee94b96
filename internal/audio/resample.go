package audio

import (
	"errors"
	"fmt"
	"math"
)

// Windowed-sinc kernel parameters. The kernel spans sincLen input samples and
// is tabulated at sincOversampling points per sample.
const (
	sincLen          = 256
	sincCutoff       = 0.95
	sincOversampling = 256
)

// ErrResample is returned when resampling parameters are malformed
var ErrResample = errors.New("audio: resample failed")

type sincKernel struct {
	half  int
	table []float32
}

// newSincKernel tabulates h(x) = c·sinc(c·x)·w(x) for x in [0, half], where
// c is the cutoff relative to the input Nyquist and w is a squared
// Blackman-Harris window.
func newSincKernel(cutoff float64) *sincKernel {
	half := sincLen / 2
	n := half*sincOversampling + 2
	table := make([]float32, n)

	for i := 0; i < n; i++ {
		x := float64(i) / sincOversampling
		if x >= float64(half) {
			continue
		}
		table[i] = float32(cutoff * sinc(cutoff*x) * blackmanHarris2(x, float64(half)))
	}

	return &sincKernel{half: half, table: table}
}

func (k *sincKernel) at(x float64) float32 {
	if x < 0 {
		x = -x
	}
	if x >= float64(k.half) {
		return 0
	}
	pos := x * sincOversampling
	i0 := int(pos)
	frac := float32(pos - float64(i0))
	return k.table[i0]*(1-frac) + k.table[i0+1]*frac
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

// blackmanHarris2 is the squared Blackman-Harris window centred on zero with
// support [-half, half]
func blackmanHarris2(x, half float64) float64 {
	const (
		a0 = 0.35875
		a1 = 0.48829
		a2 = 0.14128
		a3 = 0.01168
	)
	p := math.Pi * x / half
	w := a0 + a1*math.Cos(p) + a2*math.Cos(2*p) + a3*math.Cos(3*p)
	return w * w
}

// Resample converts samples from one rate to another using band-limited sinc
// interpolation. Equal rates return an unchanged copy. The output length is
// len(samples)·to/from rounded to the nearest sample.
func Resample(samples []float32, from, to uint32) ([]float32, error) {
	if from == 0 || to == 0 {
		return nil, fmt.Errorf("%w: invalid rates %d -> %d", ErrResample, from, to)
	}

	if from == to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	if len(samples) == 0 {
		return []float32{}, nil
	}

	ratio := float64(to) / float64(from)
	outLen := int(math.Round(float64(len(samples)) * ratio))

	// Downsampling moves the cutoff below the output Nyquist
	kernel := newSincKernel(sincCutoff * math.Min(1, ratio))

	out := make([]float32, outLen)
	step := 1 / ratio
	for i := range out {
		pos := float64(i) * step
		center := int(math.Floor(pos))

		lo := center - kernel.half + 1
		if lo < 0 {
			lo = 0
		}
		hi := center + kernel.half
		if hi > len(samples)-1 {
			hi = len(samples) - 1
		}

		var acc float64
		for j := lo; j <= hi; j++ {
			acc += float64(samples[j]) * float64(kernel.at(pos-float64(j)))
		}
		out[i] = float32(acc)
	}

	return out, nil
}

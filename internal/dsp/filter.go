// Package dsp designs and applies the band-pass filter used on EEG channels.
//
// Filters are digital Butterworth band-pass designs held as a cascade of
// second-order sections. They are applied once to a whole recording as a
// single causal forward pass, so the output carries the filter's phase lag.
package dsp

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"sort"
)

var (
	ErrInvalidFilterSpec = errors.New("invalid filter spec")
	ErrEmptySeries       = errors.New("empty series")
)

// FilterSpec describes a band-pass filter.
type FilterSpec struct {
	Order        int     // prototype order; the band-pass has 2*Order poles
	LowHz        float64 // lower -3 dB edge
	HighHz       float64 // upper -3 dB edge
	SampleRateHz float64
}

// Validate enforces 0 < LowHz < HighHz < SampleRateHz/2 and Order >= 1.
func (s FilterSpec) Validate() error {
	switch {
	case s.Order < 1:
		return fmt.Errorf("%w: order %d < 1", ErrInvalidFilterSpec, s.Order)
	case !(s.SampleRateHz > 0) || math.IsInf(s.SampleRateHz, 0):
		return fmt.Errorf("%w: sample rate %g", ErrInvalidFilterSpec, s.SampleRateHz)
	case !(s.LowHz > 0):
		return fmt.Errorf("%w: low cutoff %g must be > 0", ErrInvalidFilterSpec, s.LowHz)
	case !(s.LowHz < s.HighHz):
		return fmt.Errorf("%w: low cutoff %g must be below high cutoff %g", ErrInvalidFilterSpec, s.LowHz, s.HighHz)
	case !(s.HighHz < s.SampleRateHz/2):
		return fmt.Errorf("%w: high cutoff %g must be below Nyquist %g", ErrInvalidFilterSpec, s.HighHz, s.SampleRateHz/2)
	}
	return nil
}

func (s FilterSpec) String() string {
	return fmt.Sprintf("butterworth order=%d band=[%g,%g]Hz fs=%gHz", s.Order, s.LowHz, s.HighHz, s.SampleRateHz)
}

// Section is one biquad: B are numerator and A denominator coefficients,
// A[0] normalised to 1.
type Section struct {
	B [3]float64
	A [3]float64
}

// SOS is a cascade of second-order sections.
type SOS []Section

// Design returns the digital Butterworth band-pass for spec.
func Design(spec FilterSpec) (SOS, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	n := spec.Order

	// Analog prototype: unit-cutoff Butterworth poles, no zeros, gain 1.
	proto := make([]complex128, n)
	for k := 0; k < n; k++ {
		m := float64(-n + 1 + 2*k)
		proto[k] = -cmplx.Exp(complex(0, math.Pi*m/float64(2*n)))
	}

	// Pre-warp the band edges for the bilinear transform (fs normalised to 2).
	const fs2 = 4.0
	w1 := fs2 * math.Tan(math.Pi*spec.LowHz/spec.SampleRateHz)
	w2 := fs2 * math.Tan(math.Pi*spec.HighHz/spec.SampleRateHz)
	bw := w2 - w1
	wo := math.Sqrt(w1 * w2)

	// Low-pass to band-pass: every prototype pole splits in two, and n
	// zeros appear at the origin.
	poles := make([]complex128, 0, 2*n)
	for _, p := range proto {
		pl := p * complex(bw/2, 0)
		d := cmplx.Sqrt(pl*pl - complex(wo*wo, 0))
		poles = append(poles, pl+d, pl-d)
	}
	gain := math.Pow(bw, float64(n))

	// Bilinear transform. Origin zeros map to z=+1; the n zeros at
	// infinity map to z=-1.
	num := complex(math.Pow(fs2, float64(n)), 0)
	den := complex(1, 0)
	zpoles := make([]complex128, len(poles))
	for i, p := range poles {
		zpoles[i] = (fs2 + p) / (fs2 - p)
		den *= fs2 - p
	}
	gain *= real(num / den)

	sections, err := pairPoles(zpoles)
	if err != nil {
		return nil, err
	}
	sos := make(SOS, len(sections))
	for i, pp := range sections {
		a1 := -real(pp[0] + pp[1])
		a2 := real(pp[0] * pp[1])
		sos[i] = Section{B: [3]float64{1, 0, -1}, A: [3]float64{1, a1, a2}}
	}
	for i := range sos[0].B {
		sos[0].B[i] *= gain
	}
	return sos, nil
}

// pairPoles groups digital poles into biquads: complex poles with their
// conjugates, real poles with each other. Sections are ordered by pole
// radius, smallest first.
func pairPoles(poles []complex128) ([][2]complex128, error) {
	const tol = 1e-10
	var (
		upper []complex128
		reals []complex128
		lower int
	)
	for _, p := range poles {
		switch {
		case math.Abs(imag(p)) <= tol*math.Max(1, cmplx.Abs(p)):
			reals = append(reals, complex(real(p), 0))
		case imag(p) > 0:
			upper = append(upper, p)
		default:
			lower++
		}
	}
	if lower != len(upper) || len(reals)%2 != 0 {
		return nil, fmt.Errorf("%w: unpaired poles", ErrInvalidFilterSpec)
	}

	out := make([][2]complex128, 0, len(poles)/2)
	for _, p := range upper {
		out = append(out, [2]complex128{p, cmplx.Conj(p)})
	}
	sort.Slice(reals, func(i, j int) bool { return real(reals[i]) < real(reals[j]) })
	for i := 0; i < len(reals); i += 2 {
		out = append(out, [2]complex128{reals[i], reals[i+1]})
	}
	sort.SliceStable(out, func(i, j int) bool { return cmplx.Abs(out[i][0]) < cmplx.Abs(out[j][0]) })
	return out, nil
}

// Filter runs x through the cascade once, forward, from zero state.
func (s SOS) Filter(x []float64) ([]float64, error) {
	if len(x) == 0 {
		return nil, ErrEmptySeries
	}
	y := make([]float64, len(x))
	copy(y, x)
	for _, sec := range s {
		var z0, z1 float64
		b0, b1, b2 := sec.B[0], sec.B[1], sec.B[2]
		a1, a2 := sec.A[1], sec.A[2]
		for i, v := range y {
			out := b0*v + z0
			z0 = b1*v - a1*out + z1
			z1 = b2*v - a2*out
			y[i] = out
		}
	}
	return y, nil
}

// Response evaluates the cascade's frequency response at freqHz.
func (s SOS) Response(freqHz, sampleRateHz float64) complex128 {
	w := 2 * math.Pi * freqHz / sampleRateHz
	z1 := cmplx.Exp(complex(0, -w))
	z2 := z1 * z1
	h := complex(1, 0)
	for _, sec := range s {
		num := complex(sec.B[0], 0) + complex(sec.B[1], 0)*z1 + complex(sec.B[2], 0)*z2
		den := complex(sec.A[0], 0) + complex(sec.A[1], 0)*z1 + complex(sec.A[2], 0)*z2
		h *= num / den
	}
	return h
}

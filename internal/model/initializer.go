package model

import "math"

// InitKind names a variable initialization rule, carried on every Variable
// node and on every SRM so lazily-created rows are reproducible.
type InitKind int

const (
	// InitZeros fills with zero.
	InitZeros InitKind = iota
	// InitConstant fills with p1.
	InitConstant
	// InitRandUniform draws from Uniform(p1, p2).
	InitRandUniform
	// InitRandNormal draws from Normal(mean=p1, stddev=p2).
	InitRandNormal
	// InitXavier draws from Uniform(-b, b). When p2 > 0 it is taken as
	// fan_out and b = p1 * sqrt(6/(fan_in+fan_out)); otherwise
	// b = p1 * sqrt(3/fan_in) (fan_in is K for an SRM row).
	InitXavier
)

// Initializer is the (kind, p1, p2) triple from"Graph"/"SRM".
type Initializer struct {
	Kind InitKind
	P1   Float
	P2   Float
}

// RNG is the minimal random source an Initializer needs. *rand.Rand
// satisfies it; it is abstracted so the same initializer logic is used by
// both TSR.RandInit and SRM.GetRow's lazy row creation with a per-shard
// deterministic engine.
type RNG interface {
	Float64() float64
	NormFloat64() float64
}

// Fill writes len(dst) initialized values into dst using the initializer's
// rule. fanIn is the row length (K for SRM, shape-derived for TSR); it is
// only consulted by InitXavier.
func (in Initializer) Fill(rng RNG, dst []Float, fanIn int) {
	switch in.Kind {
	case InitZeros:
		for i := range dst {
			dst[i] = 0
		}
	case InitConstant:
		for i := range dst {
			dst[i] = in.P1
		}
	case InitRandUniform:
		lo, hi := float64(in.P1), float64(in.P2)
		for i := range dst {
			dst[i] = Float(lo + rng.Float64()*(hi-lo))
		}
	case InitRandNormal:
		mean, stddev := float64(in.P1), float64(in.P2)
		for i := range dst {
			dst[i] = Float(mean + rng.NormFloat64()*stddev)
		}
	case InitXavier:
		fanOut := float64(in.P2)
		var b float64
		if fanOut > 0 {
			b = float64(in.P1) * math.Sqrt(6/(float64(fanIn)+fanOut))
		} else {
			b = float64(in.P1) * math.Sqrt(3/float64(max(fanIn, 1)))
		}
		for i := range dst {
			dst[i] = Float(-b + rng.Float64()*2*b)
		}
	}
}

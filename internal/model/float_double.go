//go:build deepx_double

package model

// Float is the compile-time element type for TSR/SRM storage, built with
// -tags deepx_double.
type Float = float64

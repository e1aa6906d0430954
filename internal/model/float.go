//go:build !deepx_double

package model

// Float is the compile-time element type for TSR/SRM storage. Build with
// -tags deepx_double to switch every tensor to float64; see float_double.go.
type Float = float32

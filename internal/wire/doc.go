// Package wire implements the framing and codecs behind every RPC:
// length-prefixed frames (frame.go), the zero-copy TensorMap
// binary layout shared with on-disk persistence (tensorcodec.go), the
// PullRequest binary layout (pullcodec.go), and the small JSON control
// messages that don't carry bulk tensor payloads (messages.go).
package wire

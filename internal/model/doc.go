// Package model holds the tensor data model described in: Shape,
// the dense TSR, the sparse-row SRM, the uniform TensorMap container, and
// the PullRequest envelope.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│              TensorMap               │
//	│   name → TSR (dense, fixed shape)    │
//	│   name → SRM (sparse, id → K-row)    │
//	└─────────────────────────────────────┘
//	                 │ view() / GetRow()
//	                 ▼
//	┌─────────────────────────────────────┐
//	│   TSR/Row: owned or non-owning view  │
//	│   views alias a connection's inbound │
//	│   wire buffer until the next RPC     │
//	└─────────────────────────────────────┘
//
// SRM rows are created lazily: GetRowNoInit inserts a zero-valued row
// without running the Initializer, GetRow is the only path that runs an
// Initializer, and outside tests it is only called from ModelShard.Pull on
// a training pull (a new row is initialized only for an id this shard has
// never seen).
package model

// Package coordinator implements the Coordinator Server: the process that
// hands workers their next input file for the current epoch, accumulates
// per-epoch loss/weight as workers report completions, advances epochs once
// every file in the current one has been both dispatched and acknowledged,
// and triggers a ModelSaveRequest against every Param Server at epoch
// boundaries on dump_model runs.
//
// There is exactly one Coordinator Server per job; it is a single point of
// failure by design and a restart recovers no state (jobState lives only in
// memory). Transport is the same length-prefixed wire.Frame scheme used by
// internal/psserver — control messages are JSON, never net/http, so the
// coordinator and a worker's polling loop share one simple request/response
// protocol per connection.
package coordinator

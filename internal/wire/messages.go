package wire

// Control-plane messages travel as JSON over the same length-prefixed frames —
// they are small and benefit from cobra/validator-style struct tags
// elsewhere, unlike the tensor payloads which need an exact binary layout
// for zero-copy views.

// FileRequest is sent by a worker to the coordinator asking for the next
// input file.
type FileRequest struct {
	WorkerID string `json:"worker_id"`
}

// FileResponse answers a FileRequest. An empty File means "no file yet,
// poll again".
type FileResponse struct {
	File  string `json:"file"`
	Epoch int    `json:"epoch"`
	Done  bool   `json:"done"`
}

// FileFinishNotify reports that a worker finished processing File,
// accumulating Loss weighted by Weight.
type FileFinishNotify struct {
	File   string  `json:"file"`
	Loss   float64 `json:"loss"`
	Weight float64 `json:"weight"`
}

// Ack is the generic empty acknowledgement for notify-style RPCs.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// ModelSaveRequest triggers a Save on a PS, sent by the coordinator at
// epoch boundaries.
type ModelSaveRequest struct {
	Epoch          int  `json:"epoch"`
	IsPrimary      bool `json:"is_primary"` // PS 0: also persists graph + shard manifest
	RemoveZeros    bool `json:"remove_zeros"`
	ExpireBeforeSave bool `json:"expire_before_save"`
	Now            int64 `json:"now"`
}

// TerminationNotify is a graceful-shutdown trigger.
type TerminationNotify struct {
	Reason string `json:"reason"`
}

// PredictRequest asks the predictor service to score
// one instance, identified by the sparse feature ids it touches (the same
// presence convention instreader.LibSVM uses).
type PredictRequest struct {
	IDs    []uint64 `json:"ids"`
	Weight float64  `json:"weight"`
}

// PredictResponse answers a PredictRequest with the instance's score.
type PredictResponse struct {
	Score float64 `json:"score"`
	Error string  `json:"error,omitempty"`
}

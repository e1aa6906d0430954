package model

// TensorMap is the uniform `name → (TSR | SRM)` container used for
// parameters, gradients, overwritten params, and pull responses. A single map holds both kinds; callers look a name up
// expecting one kind or the other based on what requested it.
type TensorMap struct {
	tsr map[string]*TSR
	srm map[string]*SRM
}

// NewTensorMap returns an empty TensorMap.
func NewTensorMap() *TensorMap {
	return &TensorMap{tsr: make(map[string]*TSR), srm: make(map[string]*SRM)}
}

// SetTSR installs a dense tensor under name.
func (m *TensorMap) SetTSR(name string, t *TSR) { m.tsr[name] = t }

// SetSRM installs a sparse row matrix under name.
func (m *TensorMap) SetSRM(name string, s *SRM) { m.srm[name] = s }

// TSR looks up a dense tensor by name.
func (m *TensorMap) TSR(name string) (*TSR, bool) { t, ok := m.tsr[name]; return t, ok }

// SRM looks up a sparse row matrix by name.
func (m *TensorMap) SRM(name string) (*SRM, bool) { s, ok := m.srm[name]; return s, ok }

// TSRNames returns the dense-tensor names present in the map.
func (m *TensorMap) TSRNames() []string {
	out := make([]string, 0, len(m.tsr))
	for n := range m.tsr {
		out = append(out, n)
	}
	return out
}

// SRMNames returns the sparse-matrix names present in the map.
func (m *TensorMap) SRMNames() []string {
	out := make([]string, 0, len(m.srm))
	for n := range m.srm {
		out = append(out, n)
	}
	return out
}

// Clear empties the map in place so it can be reused across requests
// without reallocating.
func (m *TensorMap) Clear() {
	for k := range m.tsr {
		delete(m.tsr, k)
	}
	for k := range m.srm {
		delete(m.srm, k)
	}
}

// Len reports the total number of entries (TSR + SRM).
func (m *TensorMap) Len() int { return len(m.tsr) + len(m.srm) }

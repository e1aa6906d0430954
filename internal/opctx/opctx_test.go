package opctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deepx/internal/model"
)

func TestStubGetPullRequest(t *testing.T) {
	s := &Stub{
		TSRNames: []string{"w"},
		SRMIds:   map[string][]uint64{"embedding": {1, 2, 3}},
	}
	req := model.NewPullRequest()
	require.NoError(t, s.GetPullRequest(req))

	_, ok := req.TSRSet["w"]
	assert.True(t, ok)
	assert.Len(t, req.SRMMap["embedding"], 3)
}

func TestStubForwardReturnsConfiguredLoss(t *testing.T) {
	s := &Stub{Loss: 0.5, Weight: 10}
	loss, weight, err := s.Forward()
	require.NoError(t, err)
	assert.Equal(t, 0.5, loss)
	assert.Equal(t, 10.0, weight)
}

func TestStubLoadBatchRecordsIDs(t *testing.T) {
	s := &Stub{}
	require.NoError(t, s.LoadBatch([]uint64{1, 2, 3}, nil, nil))
	assert.Equal(t, []uint64{1, 2, 3}, s.ids)
}

var _ OpContext = (*Stub)(nil)

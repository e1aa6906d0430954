package freqstore

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"deepx/internal/model"
)

func TestFilter_DropsBelowThreshold(t *testing.T) {
	f := New(3)

	req := model.NewPullRequest()
	req.IsTrain = true
	req.AddSRMID("emb", 42)
	req.AddSRMID("emb", 7)
	req.IDFreqMap[42] = 2
	req.IDFreqMap[7] = 5

	f.Filter(req)

	_, has42 := req.SRMMap["emb"][42]
	_, has7 := req.SRMMap["emb"][7]
	assert.False(t, has42, "id seen only twice must be dropped at threshold 3")
	assert.True(t, has7, "id seen five times must be admitted at threshold 3")
}

func TestFilter_NoOpWhenNotTraining(t *testing.T) {
	f := New(10)
	req := model.NewPullRequest()
	req.IsTrain = false
	req.AddSRMID("emb", 1)
	f.Filter(req)
	_, ok := req.SRMMap["emb"][1]
	assert.True(t, ok)
}

func TestFilter_ZeroThresholdDisabled(t *testing.T) {
	f := New(0)
	req := model.NewPullRequest()
	req.IsTrain = true
	req.AddSRMID("emb", 1)
	f.Filter(req)
	_, ok := req.SRMMap["emb"][1]
	assert.True(t, ok)
}

func TestCount_AccumulatesAcrossCalls(t *testing.T) {
	f := New(100)
	req := model.NewPullRequest()
	req.IsTrain = true
	req.AddSRMID("emb", 1)
	f.Filter(req)
	req2 := model.NewPullRequest()
	req2.IsTrain = true
	req2.AddSRMID("emb", 1)
	f.Filter(req2)
	assert.Equal(t, uint64(2), f.Count("emb", 1))
}

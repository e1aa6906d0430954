package tsstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpired_RespectsThreshold(t *testing.T) {
	s := New(0, 100)
	s.Bump("w", 1, 800)
	s.Bump("w", 2, 950)

	expired := s.Expired(1000)
	assert.ElementsMatch(t, []uint64{1}, expired["w"], "row X at ts 800 is older than now(1000)-threshold(100)=900")
}

func TestLastUpdate_Unknown(t *testing.T) {
	s := New(0, 100)
	_, ok := s.LastUpdate("w", 1)
	assert.False(t, ok)
}

func TestRemove(t *testing.T) {
	s := New(0, 100)
	s.Bump("w", 1, 1)
	s.Remove("w", 1)
	_, ok := s.LastUpdate("w", 1)
	assert.False(t, ok)
}

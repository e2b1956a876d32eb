package chatsync

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsensusTrackerClampsConfidence(t *testing.T) {
	var tr ConsensusTracker
	tr.SetConfidence(1.7)
	assert.Equal(t, 1.0, tr.State().Confidence)
	tr.SetConfidence(-0.2)
	assert.Equal(t, 0.0, tr.State().Confidence)
	tr.SetConfidence(math.NaN())
	assert.Equal(t, 0.0, tr.State().Confidence)
	tr.SetConfidence(0.42)
	assert.Equal(t, 0.42, tr.State().Confidence)
}

func TestConsensusTrackerRoundIsLastWriteWins(t *testing.T) {
	var tr ConsensusTracker
	tr.SetRound(3)
	tr.SetRound(2)
	tr.SetReached(true)
	assert.Equal(t, ConsensusState{Round: 2, Reached: true}, tr.State())

	tr.Reset()
	assert.Equal(t, ConsensusState{}, tr.State())
}

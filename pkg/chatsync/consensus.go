package chatsync

// ConsensusTracker is a last-write-wins store for collaboration progress.
// Rounds are not forced to be monotonic: an out-of-order round_start wins.
type ConsensusTracker struct {
	state ConsensusState
}

func (t *ConsensusTracker) SetRound(round int) {
	t.state.Round = round
}

func (t *ConsensusTracker) SetConfidence(confidence float64) {
	t.state.Confidence = clampConfidence(confidence)
}

func (t *ConsensusTracker) SetReached(reached bool) {
	t.state.Reached = reached
}

func (t *ConsensusTracker) State() ConsensusState { return t.state }

func (t *ConsensusTracker) Reset() { t.state = ConsensusState{} }

func clampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

package network

// InputHistory is the client's ring of sent-but-not-yet-acknowledged
// inputs paired with the predicted state produced by applying each one, so
// reconciliation can replay only what the host has not yet confirmed.
type InputHistory struct {
	inputs          [InputBufferSize]PlayerInput
	predictedStates [InputBufferSize]PlayerState
	head            uint32
	count           uint32
}

// AddInput appends a new (input, predicted-state) pair, evicting the
// oldest entry once the ring is full.
func (h *InputHistory) AddInput(in PlayerInput, predicted PlayerState) {
	idx := (h.head + h.count) % InputBufferSize
	h.inputs[idx] = in
	h.predictedStates[idx] = predicted
	if h.count < InputBufferSize {
		h.count++
	} else {
		h.head = (h.head + 1) % InputBufferSize
	}
}

// AcknowledgeUpTo drops every buffered input whose sequence is <= sequence,
// since the host has confirmed processing them.
func (h *InputHistory) AcknowledgeUpTo(sequence uint32) {
	for h.count > 0 && h.inputs[h.head].Sequence <= sequence {
		h.head = (h.head + 1) % InputBufferSize
		h.count--
	}
}

// GetUnacknowledged returns every buffered input still awaiting
// confirmation, oldest first, for prediction replay during reconciliation.
func (h *InputHistory) GetUnacknowledged() []PlayerInput {
	out := make([]PlayerInput, h.count)
	for i := uint32(0); i < h.count; i++ {
		out[i] = h.inputs[(h.head+i)%InputBufferSize]
	}
	return out
}

// Len reports how many unacknowledged inputs are currently buffered.
func (h *InputHistory) Len() int { return int(h.count) }

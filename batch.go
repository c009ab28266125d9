// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

// Batched producer calls.
//
// Each input is processed in order by the single-item call and yields
// exactly one output carrying that item's Result; one item failing never
// affects its neighbours. The top-level error is non-nil only when the
// queue is abandoned before the batch starts. In that case every output
// still carries ErrAbandoned.

// DequeueBuffers dequeues one slot per input.
func (q *BufferQueue) DequeueBuffers(in []DequeueBufferInput) ([]DequeueBufferOutput, error) {
	out := make([]DequeueBufferOutput, len(in))
	if q.IsAbandoned() {
		for i := range out {
			out[i] = DequeueBufferOutput{Slot: InvalidSlot, Fence: NoFence, Result: ErrAbandoned}
		}
		return out, ErrAbandoned
	}
	for i := range in {
		out[i], _ = q.DequeueBuffer(in[i])
	}
	return out, nil
}

// RequestBuffers requests the buffer of each slot.
func (q *BufferQueue) RequestBuffers(slots []int) ([]RequestBufferOutput, error) {
	out := make([]RequestBufferOutput, len(slots))
	if q.IsAbandoned() {
		for i := range out {
			out[i].Result = ErrAbandoned
		}
		return out, ErrAbandoned
	}
	for i, slot := range slots {
		out[i].Buffer, out[i].Result = q.RequestBuffer(slot)
	}
	return out, nil
}

// QueueBuffers queues in[i] into slot in[i].Slot.
func (q *BufferQueue) QueueBuffers(in []QueueBufferInput) ([]QueueBufferOutput, error) {
	out := make([]QueueBufferOutput, len(in))
	if q.IsAbandoned() {
		for i := range out {
			out[i].Result = ErrAbandoned
		}
		return out, ErrAbandoned
	}
	for i := range in {
		out[i], _ = q.QueueBuffer(in[i].Slot, in[i])
	}
	return out, nil
}

// CancelBuffers cancels each slot with its fence.
func (q *BufferQueue) CancelBuffers(in []CancelBufferInput) ([]error, error) {
	out := make([]error, len(in))
	if q.IsAbandoned() {
		for i := range out {
			out[i] = ErrAbandoned
		}
		return out, ErrAbandoned
	}
	for i := range in {
		out[i] = q.CancelBuffer(in[i].Slot, in[i].Fence)
	}
	return out, nil
}

// DetachBuffers detaches each slot.
func (q *BufferQueue) DetachBuffers(slots []int) ([]error, error) {
	out := make([]error, len(slots))
	if q.IsAbandoned() {
		for i := range out {
			out[i] = ErrAbandoned
		}
		return out, ErrAbandoned
	}
	for i, slot := range slots {
		out[i] = q.DetachBuffer(slot)
	}
	return out, nil
}

// AttachBuffers attaches each buffer into its own slot.
func (q *BufferQueue) AttachBuffers(bufs []*GraphicBuffer) ([]AttachBufferOutput, error) {
	out := make([]AttachBufferOutput, len(bufs))
	if q.IsAbandoned() {
		for i := range out {
			out[i] = AttachBufferOutput{Slot: InvalidSlot, Result: ErrAbandoned}
		}
		return out, ErrAbandoned
	}
	for i, buf := range bufs {
		out[i], _ = q.AttachBuffer(buf)
	}
	return out, nil
}

// Queries answers each selector.
func (q *BufferQueue) Queries(what []QueryWhat) ([]QueryOutput, error) {
	out := make([]QueryOutput, len(what))
	if q.IsAbandoned() {
		for i := range out {
			out[i].Result = ErrAbandoned
		}
		return out, ErrAbandoned
	}
	for i, w := range what {
		out[i].Value, out[i].Result = q.Query(w)
	}
	return out, nil
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// bufferSlot is one entry of the slot table. Guarded by BufferQueue.mu.
type bufferSlot struct {
	state  SlotState
	buffer *GraphicBuffer
	fence  Fence
	// frameNumber is assigned at queue time; 0 means never queued with the
	// current buffer.
	frameNumber uint64
	// requested is set once the producer has seen the buffer, via
	// RequestBuffer or AttachBuffer. Queueing requires it.
	requested bool

	// acquireCalled is set once the consumer has acquired the current
	// buffer.
	acquireCalled bool
	// item holds the metadata of the last queue.
	item BufferItem
}

// clear drops the buffer and returns the slot to the empty FREE state.
func (s *bufferSlot) clear() {
	*s = bufferSlot{state: SlotFree, fence: NoFence}
}

func (s *bufferSlot) bufferID() uuid.UUID {
	if s.buffer == nil {
		return uuid.Nil
	}
	return s.buffer.ID
}

// SlotInfo is a point-in-time view of one slot.
type SlotInfo struct {
	Index       int
	State       SlotState
	Buffer      *GraphicBuffer
	FrameNumber uint64
	Requested   bool

	// AcquireCalled is set once the consumer has acquired the current
	// buffer.
	AcquireCalled bool
}

// Slots returns a snapshot of every slot that is not FREE or still holds
// a buffer, ordered by index.
func (q *BufferQueue) Slots() []SlotInfo {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []SlotInfo
	for i := range q.slots {
		s := &q.slots[i]
		if s.state == SlotFree && s.buffer == nil {
			continue
		}
		out = append(out, SlotInfo{
			Index:         i,
			State:         s.state,
			Buffer:        s.buffer,
			FrameNumber:   s.frameNumber,
			Requested:     s.requested,
			AcquireCalled: s.acquireCalled,
		})
	}
	return out
}

// countLocked returns the number of slots in state st.
func (q *BufferQueue) countLocked(st SlotState) int {
	n := 0
	for i := range q.slots {
		if q.slots[i].state == st {
			n++
		}
	}
	return n
}

// freeSlotLocked picks a FREE slot inside the active window for a
// dequeue. A slot whose buffer already matches is preferred, oldest frame
// first; then an empty slot; then a slot whose buffer must be replaced.
func (q *BufferQueue) freeSlotLocked(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (slot int, ok bool) {
	matched, empty, mismatched := InvalidSlot, InvalidSlot, InvalidSlot
	for i := range q.windowLocked() {
		s := &q.slots[i]
		if s.state != SlotFree {
			continue
		}
		switch {
		case s.buffer == nil:
			if empty == InvalidSlot {
				empty = i
			}
		case s.buffer.Matches(width, height, format, usage):
			if matched == InvalidSlot || s.frameNumber < q.slots[matched].frameNumber {
				matched = i
			}
		default:
			if mismatched == InvalidSlot {
				mismatched = i
			}
		}
	}
	for _, i := range [...]int{matched, empty, mismatched} {
		if i != InvalidSlot {
			return i, true
		}
	}
	return InvalidSlot, false
}

// attachSlotLocked picks a FREE slot inside the active window for an
// attach, preferring empty slots.
func (q *BufferQueue) attachSlotLocked() (slot int, ok bool) {
	occupied := InvalidSlot
	for i := range q.windowLocked() {
		s := &q.slots[i]
		if s.state != SlotFree {
			continue
		}
		if s.buffer == nil {
			return i, true
		}
		if occupied == InvalidSlot || s.frameNumber < q.slots[occupied].frameNumber {
			occupied = i
		}
	}
	return occupied, occupied != InvalidSlot
}

// trimWindowLocked frees buffers held by FREE slots outside the active
// window.
func (q *BufferQueue) trimWindowLocked() {
	for i := q.windowLocked(); i < MaxSlots; i++ {
		q.dropOutsideWindowLocked(i)
	}
}

// dropOutsideWindowLocked frees the buffer of slot if the slot is FREE and
// lies outside the active window. Slots still held by the producer or the
// consumer are trimmed when they come back.
func (q *BufferQueue) dropOutsideWindowLocked(slot int) {
	if slot < q.windowLocked() {
		return
	}
	if s := &q.slots[slot]; s.state == SlotFree && s.buffer != nil {
		s.clear()
		q.buffersFreed = true
	}
}

// freeBuffersLocked frees every slot except ACQUIRED ones when keepAcquired
// is set, and drops all pending frames.
func (q *BufferQueue) freeBuffersLocked(keepAcquired bool) {
	q.pending.reset()
	for i := range q.slots {
		s := &q.slots[i]
		if keepAcquired && s.state == SlotAcquired {
			continue
		}
		s.clear()
	}
}

func validSlot(slot int) bool { return slot >= 0 && slot < MaxSlots }

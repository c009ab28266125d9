// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import "code.hybscloud.com/atomix"

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// pendingRing is the FIFO of QUEUED slot indices in queue order.
//
// It is a Lamport ring with cached indices. Push and pop run under the
// queue lock, so the cached views never race; the atomic head and tail let
// Len run without the lock. The ring holds MaxSlots entries and can never
// overflow, since each slot is queued at most once at a time.
type pendingRing struct {
	_          pad
	head       atomix.Uint64 // Acquire pops and async reclaim removes here
	_          pad
	cachedTail uint64
	_          pad
	tail       atomix.Uint64 // Queue pushes here
	_          pad
	cachedHead uint64
	_          pad
	buffer     [MaxSlots]int32
}

const ringMask = MaxSlots - 1

// push appends slot. Returns ErrWouldBlock if the ring is full.
func (r *pendingRing) push(slot int) error {
	tail := r.tail.LoadRelaxed()
	if tail-r.cachedHead > ringMask {
		r.cachedHead = r.head.LoadAcquire()
		if tail-r.cachedHead > ringMask {
			return ErrWouldBlock
		}
	}

	r.buffer[tail&ringMask] = int32(slot)
	r.tail.StoreRelease(tail + 1)
	return nil
}

// pop removes the oldest slot. Returns ErrWouldBlock if empty.
func (r *pendingRing) pop() (int, error) {
	head := r.head.LoadRelaxed()
	if head >= r.cachedTail {
		r.cachedTail = r.tail.LoadAcquire()
		if head >= r.cachedTail {
			return InvalidSlot, ErrWouldBlock
		}
	}

	slot := r.buffer[head&ringMask]
	r.buffer[head&ringMask] = InvalidSlot
	r.head.StoreRelease(head + 1)
	return int(slot), nil
}

// removeFirst removes the oldest slot for which match returns true. Older
// entries shift up by one so the remaining order is kept.
func (r *pendingRing) removeFirst(match func(slot int) bool) (int, bool) {
	head, tail := r.head.LoadRelaxed(), r.tail.LoadAcquire()
	for i := head; i < tail; i++ {
		slot := int(r.buffer[i&ringMask])
		if !match(slot) {
			continue
		}
		for j := i; j > head; j-- {
			r.buffer[j&ringMask] = r.buffer[(j-1)&ringMask]
		}
		r.buffer[head&ringMask] = InvalidSlot
		r.head.StoreRelease(head + 1)
		return slot, true
	}
	return InvalidSlot, false
}

// reset drops every pending entry.
func (r *pendingRing) reset() {
	tail := r.tail.LoadAcquire()
	r.cachedTail = tail
	r.cachedHead = tail
	r.head.StoreRelease(tail)
}

// len returns the number of pending slots. Safe without the queue lock.
func (r *pendingRing) len() int {
	head := r.head.LoadAcquire()
	tail := r.tail.LoadAcquire()
	if tail < head {
		return 0
	}
	return int(tail - head)
}

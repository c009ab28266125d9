// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package trace

import (
	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/spin"
)

// pad is cache line padding to prevent false sharing.
type pad [64]byte

// eventRing is a CAS-based multi-producer single-consumer bounded ring of
// events. Any goroutine may push; only the tracer's drain goroutine pops.
type eventRing struct {
	_        pad
	head     atomix.Uint64 // Drain goroutine reads from here
	_        pad
	tail     atomix.Uint64 // Emitters CAS here
	_        pad
	draining atomix.Bool
	_        pad
	buffer   []eventCell
	mask     uint64
	capacity uint64
}

type eventCell struct {
	seq atomix.Uint64
	ev  Event
}

func newEventRing(capacity int) *eventRing {
	n := uint64(roundToPow2(capacity))
	r := &eventRing{
		buffer:   make([]eventCell, n),
		mask:     n - 1,
		capacity: n,
	}
	for i := uint64(0); i < n; i++ {
		r.buffer[i].seq.StoreRelaxed(i)
	}
	return r
}

// push adds ev. Returns iox.ErrWouldBlock if the ring is full or closed
// for pushes.
func (r *eventRing) push(ev *Event) error {
	if r.draining.LoadAcquire() {
		return iox.ErrWouldBlock
	}
	sw := spin.Wait{}
	for {
		tail := r.tail.LoadAcquire()
		head := r.head.LoadAcquire()
		if tail >= head+r.capacity {
			return iox.ErrWouldBlock
		}

		cell := &r.buffer[tail&r.mask]
		seq := cell.seq.LoadAcquire()
		if seq == tail {
			if r.tail.CompareAndSwapAcqRel(tail, tail+1) {
				cell.ev = *ev
				cell.seq.StoreRelease(tail + 1)
				return nil
			}
		} else if seq < tail {
			return iox.ErrWouldBlock
		}
		sw.Once()
	}
}

// pop removes the oldest event (drain goroutine only).
func (r *eventRing) pop() (Event, error) {
	head := r.head.LoadRelaxed()
	cell := &r.buffer[head&r.mask]
	if cell.seq.LoadAcquire() != head+1 {
		return Event{}, iox.ErrWouldBlock
	}

	ev := cell.ev
	cell.ev = Event{}
	cell.seq.StoreRelease(head + r.capacity)
	r.head.StoreRelease(head + 1)
	return ev, nil
}

// drain stops further pushes.
func (r *eventRing) drain() {
	r.draining.StoreRelease(true)
}

func (r *eventRing) cap() int { return int(r.capacity) }

// roundToPow2 rounds n up to the next power of 2.
func roundToPow2(n int) int {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

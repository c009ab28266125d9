// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"fmt"

	"code.hybscloud.com/bufq/trace"
	"github.com/gogpu/gputypes"
)

// ConsumerConnect attaches the consumer. A producer can only connect
// after this.
func (q *BufferQueue) ConsumerConnect(listener ConsumerListener, controlledByApp bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.abandoned:
		return ErrAbandoned
	case listener == nil:
		return fmt.Errorf("%w: nil consumer listener", ErrBadValue)
	case q.consumerConnected:
		return fmt.Errorf("%w: consumer already connected", ErrBadValue)
	}
	q.consumerConnected = true
	q.consumerListener = listener
	q.consumerControlledByApp = controlledByApp
	q.log.WithField("controlledByApp", controlledByApp).Info("consumer connected")
	return nil
}

// ConsumerDisconnect abandons the queue. Every buffer is freed, blocked
// producers wake with ErrAbandoned and all later calls fail with NO_INIT.
func (q *BufferQueue) ConsumerDisconnect() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.consumerConnected {
		return ErrNoConsumer
	}
	q.abandoned = true
	q.consumerConnected = false
	q.consumerListener = nil
	q.producerListener = nil
	q.freeBuffersLocked(false)
	q.broadcastLocked()
	q.log.Info("buffer queue abandoned")
	return nil
}

// AcquireBuffer takes the oldest QUEUED buffer. Returns
// ErrNoBufferAvailable when nothing is pending.
func (q *BufferQueue) AcquireBuffer() (BufferItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return BufferItem{Slot: InvalidSlot}, ErrAbandoned
	}
	// One buffer beyond the negotiated count lets the consumer swap its
	// current frame for the next one before releasing.
	if acquired := q.countLocked(SlotAcquired); acquired > q.maxAcquired {
		return BufferItem{Slot: InvalidSlot}, fmt.Errorf("%w: %d buffers already acquired (max %d)", ErrInvalidOperation, acquired, q.maxAcquired)
	}
	slot, err := q.pending.pop()
	if err != nil {
		return BufferItem{Slot: InvalidSlot}, ErrNoBufferAvailable
	}

	s := &q.slots[slot]
	s.state = SlotAcquired
	s.acquireCalled = true
	item := s.item
	item.Fence = fenceOrNone(s.fence)
	item.Dropped = q.droppedSinceAcquire
	q.droppedSinceAcquire = 0
	// The consumer now owns the acquire fence.
	s.fence = NoFence
	q.historyLocked(s.frameNumber).Acquired = q.clock()
	q.stats.acquired.Add(1)
	q.traceLocked(trace.KindAcquire, slot)
	return item, nil
}

// ReleaseBuffer returns an ACQUIRED slot to FREE. The fence guards any
// consumer reads still in flight and is handed to the next dequeue of the
// slot.
func (q *BufferQueue) ReleaseBuffer(slot int, frameNumber uint64, fence Fence) error {
	q.mu.Lock()

	if q.abandoned {
		q.mu.Unlock()
		return ErrAbandoned
	}
	if !validSlot(slot) {
		q.mu.Unlock()
		return fmt.Errorf("%w: slot %d out of range", ErrBadValue, slot)
	}
	if fence == nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: nil fence", ErrBadValue)
	}
	s := &q.slots[slot]
	if s.frameNumber != frameNumber {
		q.mu.Unlock()
		return fmt.Errorf("%w: slot %d holds frame %d, not %d", ErrStaleBufferSlot, slot, s.frameNumber, frameNumber)
	}
	if s.state != SlotAcquired {
		q.mu.Unlock()
		q.logSlot(slot).WithField("state", s.state).Debug("release: slot not acquired")
		return fmt.Errorf("%w: slot %d is %s", ErrBadValue, slot, s.state)
	}

	s.state = SlotFree
	s.fence = fence
	q.historyLocked(frameNumber).Released = q.clock()
	q.stats.released.Add(1)
	q.traceLocked(trace.KindRelease, slot)
	q.traceFenceLocked(trace.KindRelease, slot, fence)
	q.dropOutsideWindowLocked(slot)
	q.broadcastLocked()
	listener := q.producerListener
	q.mu.Unlock()

	if listener != nil {
		listener.OnBufferReleased()
	}
	return nil
}

// SetMaxAcquiredBufferCount changes how many buffers the consumer may hold
// at once.
func (q *BufferQueue) SetMaxAcquiredBufferCount(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	if n < 1 || n > MaxSlots-2 {
		return fmt.Errorf("%w: max acquired %d outside [1, %d]", ErrBadValue, n, MaxSlots-2)
	}
	if q.maxDequeued+n+asyncExtra(q.async) > MaxSlots {
		return fmt.Errorf("%w: max acquired %d exceeds slot table", ErrBadValue, n)
	}
	q.maxAcquired = n
	q.trimWindowLocked()
	q.broadcastLocked()
	q.log.WithField("maxAcquired", n).Debug("max acquired buffer count changed")
	return nil
}

// SetDefaultBufferSize sets the size used for 0x0 dequeues.
func (q *BufferQueue) SetDefaultBufferSize(width, height uint32) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	if !validSize(width, height) {
		return fmt.Errorf("%w: invalid default size %dx%d", ErrBadValue, width, height)
	}
	q.defaultWidth, q.defaultHeight = width, height
	return nil
}

// SetDefaultBufferFormat sets the format used for dequeues that request
// TextureFormatUndefined.
func (q *BufferQueue) SetDefaultBufferFormat(format gputypes.TextureFormat) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	if !SupportedFormat(format) {
		return fmt.Errorf("%w: unsupported format %d", ErrBadValue, format)
	}
	q.defaultFormat = format
	return nil
}

// SetDefaultBufferDataspace sets the dataspace applied to frames queued
// with DataspaceUnknown.
func (q *BufferQueue) SetDefaultBufferDataspace(ds Dataspace) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	q.defaultDataspace = ds
	return nil
}

// SetConsumerUsageBits sets usage bits OR-ed into every allocation. Bit
// 31 is rejected with ErrBadValue.
func (q *BufferQueue) SetConsumerUsageBits(usage gputypes.TextureUsage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	if usage > maxUsage {
		return fmt.Errorf("%w: usage bits %#x exceed %#x", ErrBadValue, uint32(usage), uint32(maxUsage))
	}
	q.consumerUsage = usage
	return nil
}

// SetTransformHint sets the hint reported to the producer on connect and
// queue.
func (q *BufferQueue) SetTransformHint(hint Transform) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.abandoned {
		return ErrAbandoned
	}
	q.transformHint = hint
	return nil
}

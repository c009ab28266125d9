// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"fmt"
	"time"

	"code.hybscloud.com/bufq/trace"
	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"
)

// Connect attaches a producer to the queue.
//
// Fails with ErrAbandoned or ErrNoConsumer (both NO_INIT) when there is
// nobody to deliver frames to, and with ErrBadValue for an unknown api or
// a second connection. The listener may be nil.
func (q *BufferQueue) Connect(listener ProducerListener, api API, controlledByApp bool) (QueueBufferOutput, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	switch {
	case q.abandoned:
		return QueueBufferOutput{}, ErrAbandoned
	case !q.consumerConnected:
		return QueueBufferOutput{}, ErrNoConsumer
	case !api.valid():
		q.log.WithField("api", api).Debug("connect: unknown api")
		return QueueBufferOutput{}, fmt.Errorf("%w: unknown api %d", ErrBadValue, api)
	case q.api != APINone:
		q.log.WithFields(logrus.Fields{"api": api, "connected": q.api}).Debug("connect: already connected")
		return QueueBufferOutput{}, fmt.Errorf("%w: already connected as %s", ErrBadValue, q.api)
	}

	q.api = api
	q.connGen++
	q.producerListener = listener
	q.producerControlledByApp = controlledByApp
	q.frameCounter = 0
	q.buffersFreed = false
	q.stickyTransform = 0
	q.lastDequeuedAge = 0
	q.droppedSinceQueue = false
	q.history = [historySize]FrameTimestamps{}

	q.log.WithFields(logrus.Fields{"api": api, "controlledByApp": controlledByApp}).Info("producer connected")
	return q.queueOutputLocked(false), nil
}

// Disconnect detaches the producer. Every slot not held by the consumer
// is freed, pending frames are dropped and blocked dequeues fail with
// ErrNotConnected.
func (q *BufferQueue) Disconnect(api API) error {
	q.mu.Lock()

	switch {
	case q.abandoned:
		q.mu.Unlock()
		return ErrAbandoned
	case !api.valid():
		q.mu.Unlock()
		return fmt.Errorf("%w: unknown api %d", ErrBadValue, api)
	case q.api == APINone:
		q.mu.Unlock()
		return ErrNotConnected
	case q.api != api:
		q.mu.Unlock()
		return fmt.Errorf("%w: connected as %s, not %s", ErrBadValue, q.api, api)
	}

	q.api = APINone
	q.connGen++
	q.producerListener = nil
	q.freeBuffersLocked(true)
	q.broadcastLocked()
	listener := q.consumerListener
	q.log.WithField("api", api).Info("producer disconnected")
	q.mu.Unlock()

	if listener != nil {
		listener.OnBuffersReleased()
	}
	return nil
}

// DequeueBuffer hands a FREE slot to the producer.
//
// Width and height of 0x0 and TextureFormatUndefined select the queue
// defaults. When no slot is free, async mode reclaims the oldest pending
// frame and sync mode waits according to the dequeue timeout.
func (q *BufferQueue) DequeueBuffer(in DequeueBufferInput) (DequeueBufferOutput, error) {
	out, err := q.dequeue(in)
	out.Result = err
	return out, err
}

func (q *BufferQueue) dequeue(in DequeueBufferInput) (DequeueBufferOutput, error) {
	fail := DequeueBufferOutput{Slot: InvalidSlot, Fence: NoFence}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return fail, err
	}
	width, height, format, err := q.resolveRequestLocked(in)
	if err != nil {
		q.log.WithError(err).Debug("dequeue: rejected")
		return fail, err
	}
	usage := in.Usage | q.consumerUsage

	gen := q.connGen
	var timeout <-chan time.Time
	if q.dequeueTimeout > 0 {
		t := time.NewTimer(q.dequeueTimeout)
		defer t.Stop()
		timeout = t.C
	}

	slot := InvalidSlot
	for {
		if q.abandoned {
			return fail, ErrAbandoned
		}
		if q.api == APINone || q.connGen != gen {
			return fail, ErrNotConnected
		}
		if dequeued := q.countLocked(SlotDequeued); dequeued >= q.maxDequeued {
			q.log.WithField("dequeued", dequeued).Debug("dequeue: max dequeued buffer count reached")
			return fail, fmt.Errorf("%w: %d buffers already dequeued (max %d)", ErrInvalidOperation, dequeued, q.maxDequeued)
		}
		if i, ok := q.freeSlotLocked(width, height, format, usage); ok {
			slot = i
			break
		}
		if q.async {
			if !q.reclaimOldestLocked() {
				return fail, ErrWouldBlock
			}
			continue
		}
		if q.dequeueTimeout == 0 {
			return fail, ErrWouldBlock
		}

		wake := q.wake
		q.mu.Unlock()
		select {
		case <-wake:
			q.mu.Lock()
		case <-timeout:
			q.mu.Lock()
			return fail, ErrTimedOut
		}
	}

	s := &q.slots[slot]
	needsRealloc := s.buffer == nil || !s.buffer.Matches(width, height, format, usage)
	if needsRealloc {
		buf, err := q.alloc.Allocate(width, height, format, usage)
		if err != nil {
			q.logSlot(slot).WithError(err).Warn("dequeue: allocation failed")
			return fail, fmt.Errorf("%w: allocate %dx%d: %w", ErrNoMemory, width, height, err)
		}
		s.buffer = buf
		s.frameNumber = 0
		s.requested = false
		s.fence = NoFence
	}

	s.state = SlotDequeued
	s.acquireCalled = false
	age := uint64(0)
	if s.frameNumber != 0 && s.frameNumber <= q.frameCounter {
		age = q.frameCounter + 1 - s.frameNumber
	}
	q.lastDequeuedAge = age
	fence := s.fence
	s.fence = NoFence
	q.stats.dequeued.Add(1)
	q.traceLocked(trace.KindDequeue, slot)

	out := DequeueBufferOutput{
		Slot:              slot,
		Fence:             fence,
		BufferAge:         age,
		NeedsReallocation: needsRealloc,
		ReleaseAllBuffers: q.buffersFreed,
	}
	q.buffersFreed = false
	if in.GetTimestamps {
		out.Timestamps = q.timestampsLocked()
	}
	return out, nil
}

func (q *BufferQueue) resolveRequestLocked(in DequeueBufferInput) (uint32, uint32, gputypes.TextureFormat, error) {
	width, height := in.Width, in.Height
	switch {
	case width == 0 && height == 0:
		width, height = q.defaultWidth, q.defaultHeight
	case !validSize(width, height):
		return 0, 0, 0, fmt.Errorf("%w: invalid size %dx%d", ErrBadValue, in.Width, in.Height)
	}
	format := in.Format
	if format == gputypes.TextureFormatUndefined {
		format = q.defaultFormat
	}
	if !SupportedFormat(format) {
		return 0, 0, 0, fmt.Errorf("%w: unsupported format %d", ErrBadValue, format)
	}
	return width, height, format, nil
}

// reclaimOldestLocked drops the oldest pending frame whose slot lies in
// the active window and frees that slot. Frames outside the window stay
// queued for the consumer.
func (q *BufferQueue) reclaimOldestLocked() bool {
	window := q.windowLocked()
	slot, ok := q.pending.removeFirst(func(i int) bool { return i < window })
	if !ok {
		return false
	}
	s := &q.slots[slot]
	frame := s.frameNumber
	s.state = SlotFree
	q.droppedSinceQueue = true
	q.droppedSinceAcquire++
	q.stats.dropped.Add(1)
	q.traceLocked(trace.KindDrop, slot)
	q.logSlot(slot).WithField("frame", frame).Debug("async dequeue dropped pending frame")
	return true
}

// RequestBuffer returns the buffer held by a DEQUEUED slot and marks it
// as seen by the producer.
func (q *BufferQueue) RequestBuffer(slot int) (*GraphicBuffer, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return nil, err
	}
	if !validSlot(slot) {
		return nil, fmt.Errorf("%w: slot %d out of range", ErrBadValue, slot)
	}
	s := &q.slots[slot]
	if s.state != SlotDequeued {
		q.logSlot(slot).WithField("state", s.state).Debug("request: slot not dequeued")
		return nil, fmt.Errorf("%w: slot %d is %s", ErrBadValue, slot, s.state)
	}
	s.requested = true
	return s.buffer, nil
}

// QueueBuffer publishes a filled DEQUEUED slot to the consumer.
func (q *BufferQueue) QueueBuffer(slot int, in QueueBufferInput) (QueueBufferOutput, error) {
	out, err := q.queue(slot, in)
	out.Result = err
	return out, err
}

func (q *BufferQueue) queue(slot int, in QueueBufferInput) (QueueBufferOutput, error) {
	if in.Fence == nil {
		return QueueBufferOutput{}, fmt.Errorf("%w: nil fence", ErrBadValue)
	}
	if !in.ScalingMode.valid() {
		return QueueBufferOutput{}, fmt.Errorf("%w: unknown scaling mode %d", ErrBadValue, in.ScalingMode)
	}

	q.mu.Lock()
	if err := q.producerReadyLocked(); err != nil {
		q.mu.Unlock()
		return QueueBufferOutput{}, err
	}
	if err := q.checkQueueableLocked(slot, in.Crop); err != nil {
		q.mu.Unlock()
		q.logSlot(slot).WithError(err).Debug("queue: rejected")
		return QueueBufferOutput{}, err
	}

	s := &q.slots[slot]
	q.frameCounter++
	s.frameNumber = q.frameCounter
	s.state = SlotQueued
	s.fence = in.Fence
	ts := in.Timestamp
	if in.IsAutoTimestamp {
		ts = q.clock()
	}
	dataspace := in.Dataspace
	if dataspace == DataspaceUnknown {
		dataspace = q.defaultDataspace
	}
	s.item = BufferItem{
		Slot:            slot,
		Buffer:          s.buffer,
		Fence:           in.Fence,
		FrameNumber:     s.frameNumber,
		Timestamp:       ts,
		IsAutoTimestamp: in.IsAutoTimestamp,
		Dataspace:       dataspace,
		Crop:            in.Crop,
		ScalingMode:     in.ScalingMode,
		Transform:       in.Transform,
		StickyTransform: in.StickyTransform,
	}
	// Cannot fail: a slot is queued at most once and the ring holds MaxSlots.
	_ = q.pending.push(slot)
	q.stickyTransform = in.StickyTransform
	h := q.historyLocked(s.frameNumber)
	h.Requested = ts
	h.Queued = q.clock()
	q.stats.queued.Add(1)
	q.traceLocked(trace.KindQueue, slot)
	q.traceFenceLocked(trace.KindQueue, slot, in.Fence)

	out := q.queueOutputLocked(in.GetTimestamps)
	out.BufferReplaced = q.droppedSinceQueue
	q.droppedSinceQueue = false
	item := s.item
	listener := q.consumerListener
	q.mu.Unlock()

	if listener != nil {
		listener.OnFrameAvailable(item)
	}
	return out, nil
}

func (q *BufferQueue) checkQueueableLocked(slot int, crop Rect) error {
	if !validSlot(slot) {
		return fmt.Errorf("%w: slot %d out of range", ErrBadValue, slot)
	}
	s := &q.slots[slot]
	if s.state != SlotDequeued {
		return fmt.Errorf("%w: slot %d is %s", ErrBadValue, slot, s.state)
	}
	if !s.requested {
		return fmt.Errorf("%w: slot %d queued before its buffer was requested", ErrBadValue, slot)
	}
	bounds := NewRect(s.buffer.Width, s.buffer.Height)
	if crop.Intersect(bounds) != crop {
		return fmt.Errorf("%w: crop %v exceeds buffer %dx%d", ErrBadValue, crop, s.buffer.Width, s.buffer.Height)
	}
	return nil
}

// CancelBuffer returns a DEQUEUED slot to FREE without publishing it. The
// fence guards any producer work still in flight.
func (q *BufferQueue) CancelBuffer(slot int, fence Fence) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return err
	}
	if !validSlot(slot) {
		return fmt.Errorf("%w: slot %d out of range", ErrBadValue, slot)
	}
	s := &q.slots[slot]
	if s.state != SlotDequeued {
		q.logSlot(slot).WithField("state", s.state).Debug("cancel: slot not dequeued")
		return fmt.Errorf("%w: slot %d is %s", ErrBadValue, slot, s.state)
	}
	if fence == nil {
		return fmt.Errorf("%w: nil fence", ErrBadValue)
	}
	s.state = SlotFree
	s.fence = fence
	q.stats.canceled.Add(1)
	q.traceLocked(trace.KindCancel, slot)
	q.dropOutsideWindowLocked(slot)
	q.broadcastLocked()
	return nil
}

// SetMaxDequeuedBufferCount changes how many slots the producer may hold
// at once. The active window follows immediately.
func (q *BufferQueue) SetMaxDequeuedBufferCount(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return err
	}
	if n < 1 || n > MaxSlots-q.minUndequeuedLocked() {
		return fmt.Errorf("%w: max dequeued %d outside [1, %d]", ErrBadValue, n, MaxSlots-q.minUndequeuedLocked())
	}
	if dequeued := q.countLocked(SlotDequeued); dequeued > n {
		return fmt.Errorf("%w: %d buffers dequeued, cannot lower max to %d", ErrBadValue, dequeued, n)
	}
	q.maxDequeued = n
	q.trimWindowLocked()
	q.broadcastLocked()
	q.log.WithField("maxDequeued", n).Debug("max dequeued buffer count changed")
	return nil
}

// SetAsyncMode switches between blocking and frame-dropping dequeue.
func (q *BufferQueue) SetAsyncMode(async bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return err
	}
	if q.maxDequeued+q.maxAcquired+asyncExtra(async) > MaxSlots {
		return fmt.Errorf("%w: async mode needs %d slots", ErrBadValue, q.maxDequeued+q.maxAcquired+1)
	}
	q.async = async
	q.trimWindowLocked()
	q.broadcastLocked()
	q.log.WithField("async", async).Debug("async mode changed")
	return nil
}

// DetachBuffer removes the buffer from a DEQUEUED slot. The caller takes
// ownership of the buffer it obtained through RequestBuffer.
func (q *BufferQueue) DetachBuffer(slot int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return err
	}
	if !validSlot(slot) {
		return fmt.Errorf("%w: slot %d out of range", ErrBadValue, slot)
	}
	s := &q.slots[slot]
	if s.state != SlotDequeued {
		return fmt.Errorf("%w: slot %d is %s", ErrBadValue, slot, s.state)
	}
	if !s.requested {
		return fmt.Errorf("%w: slot %d detached before its buffer was requested", ErrBadValue, slot)
	}
	q.traceLocked(trace.KindDetach, slot)
	s.clear()
	q.broadcastLocked()
	return nil
}

// DetachNextBuffer removes and returns the FREE buffer with the oldest
// frame, together with its fence. Fails with ErrNoMemory when no FREE slot
// holds a buffer.
func (q *BufferQueue) DetachNextBuffer() (*GraphicBuffer, Fence, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return nil, NoFence, err
	}
	found := InvalidSlot
	for i := range q.slots {
		s := &q.slots[i]
		if s.state != SlotFree || s.buffer == nil {
			continue
		}
		if found == InvalidSlot || s.frameNumber < q.slots[found].frameNumber {
			found = i
		}
	}
	if found == InvalidSlot {
		return nil, NoFence, fmt.Errorf("%w: no free buffer to detach", ErrNoMemory)
	}
	s := &q.slots[found]
	buf, fence := s.buffer, fenceOrNone(s.fence)
	q.traceLocked(trace.KindDetach, found)
	s.clear()
	return buf, fence, nil
}

// AttachBuffer installs an externally owned buffer into a FREE slot in
// the DEQUEUED state, as if it had been dequeued and requested.
func (q *BufferQueue) AttachBuffer(buf *GraphicBuffer) (AttachBufferOutput, error) {
	out, err := q.attach(buf)
	out.Result = err
	return out, err
}

func (q *BufferQueue) attach(buf *GraphicBuffer) (AttachBufferOutput, error) {
	fail := AttachBufferOutput{Slot: InvalidSlot}

	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.producerReadyLocked(); err != nil {
		return fail, err
	}
	if buf == nil {
		return fail, fmt.Errorf("%w: nil buffer", ErrBadValue)
	}
	if !validSize(buf.Width, buf.Height) {
		return fail, fmt.Errorf("%w: invalid buffer size %dx%d", ErrBadValue, buf.Width, buf.Height)
	}
	if dequeued := q.countLocked(SlotDequeued); dequeued >= q.maxDequeued {
		return fail, fmt.Errorf("%w: %d buffers already dequeued (max %d)", ErrInvalidOperation, dequeued, q.maxDequeued)
	}
	slot, ok := q.attachSlotLocked()
	if !ok {
		q.log.Debug("attach: no free slot")
		return fail, ErrNoFreeSlot
	}

	s := &q.slots[slot]
	if s.buffer != nil {
		q.logSlot(slot).WithField("buffer", s.buffer.ID).Debug("attach: discarding free buffer")
	}
	*s = bufferSlot{
		state:     SlotDequeued,
		buffer:    buf,
		fence:     NoFence,
		requested: true,
	}
	q.traceLocked(trace.KindAttach, slot)
	needsRealloc := !buf.Matches(q.defaultWidth, q.defaultHeight, q.defaultFormat, q.consumerUsage)
	return AttachBufferOutput{Slot: slot, NeedsReallocation: needsRealloc}, nil
}

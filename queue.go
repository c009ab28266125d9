// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/bufq/trace"
	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"
)

var (
	_ Producer = (*BufferQueue)(nil)
	_ Consumer = (*BufferQueue)(nil)
)

// historySize is the number of frames kept for FrameTimestamps.
const historySize = 8

// BufferQueue is a bounded pool of graphics buffers shared by one producer
// and one consumer.
//
// All protocol state is guarded by a single mutex. Producers blocked in a
// sync-mode dequeue wait on a wake channel that is closed and replaced on
// every change that could free a slot. Listeners run outside the lock.
//
// BufferQueue implements both [Producer] and [Consumer].
type BufferQueue struct {
	mu sync.Mutex

	name   string
	log    logrus.FieldLogger
	alloc  Allocator
	tracer *trace.Tracer
	clock  func() int64

	slots   [MaxSlots]bufferSlot
	pending pendingRing
	wake    chan struct{}

	// Consumer side
	consumerConnected       bool
	consumerListener        ConsumerListener
	consumerControlledByApp bool
	abandoned               bool

	// Producer connection
	api                     API
	connGen                 uint64
	producerListener        ProducerListener
	producerControlledByApp bool
	frameCounter            uint64
	stickyTransform         Transform
	lastDequeuedAge         uint64
	droppedSinceQueue       bool
	droppedSinceAcquire     uint64
	dequeueTimeout          time.Duration

	// buffersFreed is set when slots lose their buffer behind the
	// producer's back; the next dequeue reports ReleaseAllBuffers.
	buffersFreed bool

	// Capacity negotiation
	maxDequeued int
	maxAcquired int
	async       bool

	// Consumer defaults
	defaultWidth     uint32
	defaultHeight    uint32
	defaultFormat    gputypes.TextureFormat
	defaultDataspace Dataspace
	consumerUsage    gputypes.TextureUsage
	transformHint    Transform

	history [historySize]FrameTimestamps

	stats queueStats
}

type queueStats struct {
	dequeued atomix.Uint64
	queued   atomix.Uint64
	acquired atomix.Uint64
	released atomix.Uint64
	dropped  atomix.Uint64
	canceled atomix.Uint64
}

// Stats is a snapshot of lifetime counters.
type Stats struct {
	Dequeued uint64
	Queued   uint64
	Acquired uint64
	Released uint64
	Dropped  uint64
	Canceled uint64
}

func newBufferQueue(o Options) *BufferQueue {
	q := &BufferQueue{
		name:             o.name,
		log:              o.logger.WithField("queue", o.name),
		alloc:            o.allocator,
		tracer:           o.tracer,
		clock:            o.clock,
		wake:             make(chan struct{}),
		dequeueTimeout:   o.dequeueTimeout,
		maxDequeued:      o.maxDequeued,
		maxAcquired:      o.maxAcquired,
		async:            o.async,
		defaultWidth:     o.defaultWidth,
		defaultHeight:    o.defaultHeight,
		defaultFormat:    o.defaultFormat,
		defaultDataspace: o.defaultDataspace,
		consumerUsage:    o.consumerUsage,
		transformHint:    o.transformHint,
	}
	for i := range q.slots {
		q.slots[i].clear()
	}
	return q
}

// Name returns the queue name.
func (q *BufferQueue) Name() string { return q.name }

// Pending returns the number of QUEUED buffers. It does not take the
// queue lock.
func (q *BufferQueue) Pending() int { return q.pending.len() }

// Stats returns lifetime counters. It does not take the queue lock.
func (q *BufferQueue) Stats() Stats {
	return Stats{
		Dequeued: q.stats.dequeued.Load(),
		Queued:   q.stats.queued.Load(),
		Acquired: q.stats.acquired.Load(),
		Released: q.stats.released.Load(),
		Dropped:  q.stats.dropped.Load(),
		Canceled: q.stats.canceled.Load(),
	}
}

// IsAbandoned reports whether the consumer has disconnected.
func (q *BufferQueue) IsAbandoned() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.abandoned
}

// ControlledByApp returns the flags the producer and consumer passed when
// connecting.
func (q *BufferQueue) ControlledByApp() (producer, consumer bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.producerControlledByApp, q.consumerControlledByApp
}

// ConnectedAPI returns the API of the connected producer, or APINone.
func (q *BufferQueue) ConnectedAPI() API {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.api
}

// SetDequeueTimeout bounds how long a sync-mode dequeue waits for a free
// slot. Negative waits forever; zero never waits.
func (q *BufferQueue) SetDequeueTimeout(d time.Duration) {
	q.mu.Lock()
	q.dequeueTimeout = d
	q.mu.Unlock()
}

// producerReadyLocked fails with a NO_INIT class error unless a producer
// is connected to a live queue.
func (q *BufferQueue) producerReadyLocked() error {
	if q.abandoned {
		return ErrAbandoned
	}
	if q.api == APINone {
		return ErrNotConnected
	}
	return nil
}

// broadcastLocked wakes every goroutine waiting for a slot.
func (q *BufferQueue) broadcastLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

func (q *BufferQueue) windowLocked() int {
	return activeWindow(q.maxDequeued, q.maxAcquired, q.async)
}

func (q *BufferQueue) minUndequeuedLocked() int {
	return q.maxAcquired + asyncExtra(q.async)
}

func (q *BufferQueue) queueOutputLocked(withTimestamps bool) QueueBufferOutput {
	out := QueueBufferOutput{
		Width:             q.defaultWidth,
		Height:            q.defaultHeight,
		TransformHint:     q.transformHint,
		NumPendingBuffers: uint32(q.pending.len()),
		NextFrameNumber:   q.frameCounter + 1,
	}
	if withTimestamps {
		out.Timestamps = q.timestampsLocked()
	}
	return out
}

// historyLocked returns the timing record for frame, creating it if the
// frame is newer than the one held in its history entry.
func (q *BufferQueue) historyLocked(frame uint64) *FrameTimestamps {
	h := &q.history[frame%historySize]
	if h.FrameNumber != frame {
		*h = FrameTimestamps{FrameNumber: frame}
	}
	return h
}

func (q *BufferQueue) timestampsLocked() []FrameTimestamps {
	out := make([]FrameTimestamps, 0, historySize)
	for _, h := range q.history {
		if h.FrameNumber != 0 {
			out = append(out, h)
		}
	}
	slices.SortFunc(out, func(a, b FrameTimestamps) int {
		return cmp.Compare(a.FrameNumber, b.FrameNumber)
	})
	return out
}

func (q *BufferQueue) traceLocked(kind trace.EventKind, slot int) {
	if q.tracer == nil {
		return
	}
	s := &q.slots[slot]
	q.tracer.TraceBuffer(q.name, s.bufferID(), slot, s.frameNumber, kind, q.clock())
}

func (q *BufferQueue) traceFenceLocked(kind trace.EventKind, slot int, f Fence) {
	if q.tracer == nil || f == nil || !f.IsValid() {
		return
	}
	s := &q.slots[slot]
	q.tracer.TraceFence(q.name, s.bufferID(), slot, s.frameNumber, kind, f.SignalTime())
}

func (q *BufferQueue) logSlot(slot int) logrus.FieldLogger {
	return q.log.WithField("slot", slot)
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package bufq exchanges a bounded pool of graphics buffers between one
// producer and one consumer.
//
// The producer renders frames into buffers it dequeues and publishes them
// by queueing; the consumer acquires published frames and releases them
// once done. Both sides run at their own pace. The queue decides which
// buffer the producer may fill next, when a filled buffer becomes visible
// and when a buffer may be reused. Buffer contents are never touched:
// hand-offs carry a [Fence] that the receiving side waits on.
//
// # Quick Start
//
//	q := bufq.New().DefaultSize(1280, 720).Build()
//
//	// Consumer first: a producer cannot connect to a queue nobody reads.
//	q.ConsumerConnect(listener, false)
//
//	// Producer
//	q.Connect(nil, bufq.APICPU, false)
//	out, err := q.DequeueBuffer(bufq.DequeueBufferInput{})
//	if err != nil {
//	    return err
//	}
//	buf, _ := q.RequestBuffer(out.Slot) // required after NeedsReallocation
//	render(buf)
//	q.QueueBuffer(out.Slot, bufq.QueueBufferInput{
//	    IsAutoTimestamp: true,
//	    Fence:           bufq.NoFence,
//	})
//
//	// Consumer
//	item, err := q.AcquireBuffer()
//	if bufq.IsWouldBlock(err) {
//	    // Nothing pending
//	}
//	item.Fence.Wait(-1)
//	compose(item.Buffer)
//	q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence)
//
// # Slot State Machine
//
// The queue owns MaxSlots slots. Each is in exactly one state:
//
//	FREE     --DequeueBuffer-->    DEQUEUED
//	DEQUEUED --RequestBuffer-->    DEQUEUED (requested)
//	DEQUEUED --QueueBuffer-->      QUEUED   (requires requested)
//	DEQUEUED --CancelBuffer-->     FREE
//	DEQUEUED --DetachBuffer-->     FREE, buffer removed
//	FREE     --DetachNextBuffer--> FREE, buffer removed
//	external --AttachBuffer-->     DEQUEUED (requested)
//	QUEUED   --AcquireBuffer-->    ACQUIRED
//	QUEUED   --async dequeue-->    FREE     (frame dropped)
//	ACQUIRED --ReleaseBuffer-->    FREE
//
// Any other transition fails with [ErrBadValue] and changes nothing.
//
// # Capacity
//
// The producer may hold up to maxDequeuedBufferCount slots (default 1) and
// the consumer maxAcquiredBufferCount (default 1). Dequeue and attach only
// use the first
//
//	maxDequeued + maxAcquired + (async ? 1 : 0)
//
// slots, capped at MaxSlots. The producer sees the consumer's share through
// [QueryMinUndequeuedBuffers].
//
// # Sync and Async Mode
//
// In sync mode a dequeue with no FREE slot waits until the consumer
// releases, the producer cancels or detaches, a capacity setting changes,
// or the connection ends. [Builder.DequeueTimeout] and
// [BufferQueue.SetDequeueTimeout] bound the wait: zero fails at once with
// [ErrWouldBlock], a positive timeout fails with [ErrTimedOut].
//
// In async mode a dequeue never waits. It reclaims the oldest QUEUED frame
// instead, or fails with [ErrWouldBlock] if none is pending.
//
// # Error Handling
//
// Every failure is a sentinel error, usually wrapped with context. Use
// errors.Is to test for it and [StatusOf] to get the numeric result code:
//
//	_, err := q.DequeueBuffer(in)
//	switch {
//	case errors.Is(err, bufq.ErrNoInit):
//	    // Abandoned, not connected or no consumer
//	case errors.Is(err, bufq.ErrBadValue):
//	    // Malformed request
//	case bufq.IsWouldBlock(err):
//	    // Try again later
//	}
//
// [ErrWouldBlock] is [code.hybscloud.com/iox.ErrWouldBlock], and
// [ErrNoBufferAvailable] matches it, so the consumer can poll with the
// usual iox backoff:
//
//	backoff := iox.Backoff{}
//	for {
//	    item, err := q.AcquireBuffer()
//	    if bufq.IsWouldBlock(err) {
//	        backoff.Wait()
//	        continue
//	    }
//	    backoff.Reset()
//	    ...
//	}
//
// # Batches
//
// Every producer operation has a list form (DequeueBuffers, QueueBuffers,
// ...) that returns one output per input, each with its own Result. The
// batch-level error is only set when the queue is already abandoned.
//
// # Dependencies
//
// This package uses [code.hybscloud.com/iox] for semantic errors,
// [code.hybscloud.com/atomix] for the pending FIFO and counters,
// [github.com/gogpu/gputypes] for buffer formats and usage bits,
// [github.com/google/uuid] for buffer identity and
// [github.com/sirupsen/logrus] for structured logging. Frame tracing lives
// in package trace and the per-process buffer cache in package clientcache.
package bufq

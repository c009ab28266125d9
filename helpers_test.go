// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq_test

import (
	"sync"
	"testing"

	"code.hybscloud.com/bufq"
)

// consumerRecorder records consumer callbacks.
type consumerRecorder struct {
	mu       sync.Mutex
	frames   []uint64
	released int
}

func (r *consumerRecorder) OnFrameAvailable(item bufq.BufferItem) {
	r.mu.Lock()
	r.frames = append(r.frames, item.FrameNumber)
	r.mu.Unlock()
}

func (r *consumerRecorder) OnBuffersReleased() {
	r.mu.Lock()
	r.released++
	r.mu.Unlock()
}

func (r *consumerRecorder) snapshot() ([]uint64, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.frames...), r.released
}

// producerRecorder counts OnBufferReleased callbacks.
type producerRecorder struct {
	mu       sync.Mutex
	released int
}

func (r *producerRecorder) OnBufferReleased() {
	r.mu.Lock()
	r.released++
	r.mu.Unlock()
}

func (r *producerRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// newBuilder returns a builder with a 64x32 default size.
func newBuilder() *bufq.Builder {
	return bufq.New().Name("test").DefaultSize(64, 32)
}

// newConnected builds a queue and connects a consumer and a CPU producer.
func newConnected(t *testing.T, b *bufq.Builder) (*bufq.BufferQueue, *consumerRecorder) {
	t.Helper()
	q := b.Build()
	rec := &consumerRecorder{}
	if err := q.ConsumerConnect(rec, false); err != nil {
		t.Fatalf("ConsumerConnect: %v", err)
	}
	if _, err := q.Connect(nil, bufq.APICPU, false); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return q, rec
}

// dequeueRequested dequeues a default buffer and requests it.
func dequeueRequested(t *testing.T, q *bufq.BufferQueue) (bufq.DequeueBufferOutput, *bufq.GraphicBuffer) {
	t.Helper()
	out, err := q.DequeueBuffer(bufq.DequeueBufferInput{})
	if err != nil {
		t.Fatalf("DequeueBuffer: %v", err)
	}
	buf, err := q.RequestBuffer(out.Slot)
	if err != nil {
		t.Fatalf("RequestBuffer(%d): %v", out.Slot, err)
	}
	return out, buf
}

// queueInput covers the whole buffer with no fence.
func queueInput(buf *bufq.GraphicBuffer) bufq.QueueBufferInput {
	return bufq.QueueBufferInput{
		IsAutoTimestamp: true,
		Crop:            bufq.NewRect(buf.Width, buf.Height),
		Fence:           bufq.NoFence,
	}
}

// produceFrame dequeues, requests and queues one frame. Returns its slot.
func produceFrame(t *testing.T, q *bufq.BufferQueue) int {
	t.Helper()
	out, buf := dequeueRequested(t, q)
	if _, err := q.QueueBuffer(out.Slot, queueInput(buf)); err != nil {
		t.Fatalf("QueueBuffer(%d): %v", out.Slot, err)
	}
	return out.Slot
}

func acquireFrame(t *testing.T, q *bufq.BufferQueue) bufq.BufferItem {
	t.Helper()
	item, err := q.AcquireBuffer()
	if err != nil {
		t.Fatalf("AcquireBuffer: %v", err)
	}
	return item
}

func releaseFrame(t *testing.T, q *bufq.BufferQueue, item bufq.BufferItem) {
	t.Helper()
	if err := q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence); err != nil {
		t.Fatalf("ReleaseBuffer(%d, %d): %v", item.Slot, item.FrameNumber, err)
	}
}

func slotState(q *bufq.BufferQueue, slot int) bufq.SlotState {
	for _, s := range q.Slots() {
		if s.Index == slot {
			return s.State
		}
	}
	return bufq.SlotFree
}

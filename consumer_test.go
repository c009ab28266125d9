// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/bufq"
	"github.com/gogpu/gputypes"
)

// =============================================================================
// Consumer connection
// =============================================================================

func TestConsumerConnect(t *testing.T) {
	q := newBuilder().Build()

	if err := q.ConsumerConnect(nil, false); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("ConsumerConnect(nil): got %v, want ErrBadValue", err)
	}
	if err := q.ConsumerDisconnect(); !errors.Is(err, bufq.ErrNoConsumer) {
		t.Fatalf("ConsumerDisconnect before connect: got %v, want ErrNoConsumer", err)
	}
	if err := q.ConsumerConnect(&consumerRecorder{}, true); err != nil {
		t.Fatalf("ConsumerConnect: %v", err)
	}
	if err := q.ConsumerConnect(&consumerRecorder{}, true); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("second ConsumerConnect: got %v, want ErrBadValue", err)
	}
	if producer, consumer := q.ControlledByApp(); producer || !consumer {
		t.Fatalf("ControlledByApp: got %v, %v, want false, true", producer, consumer)
	}
	if _, err := q.Connect(nil, bufq.APICPU, true); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if producer, _ := q.ControlledByApp(); !producer {
		t.Fatalf("ControlledByApp: producer flag not recorded")
	}
}

func TestConsumerDisconnectAbandons(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(2))
	produceFrame(t, q)
	item := acquireFrame(t, q)
	produceFrame(t, q)
	out, buf := dequeueRequested(t, q)

	if err := q.ConsumerDisconnect(); err != nil {
		t.Fatalf("ConsumerDisconnect: %v", err)
	}
	if !q.IsAbandoned() {
		t.Fatalf("IsAbandoned: want true")
	}
	if len(q.Slots()) != 0 || q.Pending() != 0 {
		t.Fatalf("buffers survived abandon: slots=%d pending=%d", len(q.Slots()), q.Pending())
	}

	checks := map[string]error{}
	_, checks["Connect"] = q.Connect(nil, bufq.APICPU, false)
	checks["Disconnect"] = q.Disconnect(bufq.APICPU)
	_, checks["DequeueBuffer"] = q.DequeueBuffer(bufq.DequeueBufferInput{})
	_, checks["RequestBuffer"] = q.RequestBuffer(out.Slot)
	_, checks["QueueBuffer"] = q.QueueBuffer(out.Slot, queueInput(buf))
	checks["CancelBuffer"] = q.CancelBuffer(out.Slot, bufq.NoFence)
	checks["DetachBuffer"] = q.DetachBuffer(out.Slot)
	_, _, checks["DetachNextBuffer"] = q.DetachNextBuffer()
	_, checks["AttachBuffer"] = q.AttachBuffer(buf)
	checks["SetMaxDequeuedBufferCount"] = q.SetMaxDequeuedBufferCount(2)
	checks["SetAsyncMode"] = q.SetAsyncMode(true)
	_, checks["Query"] = q.Query(bufq.QueryWidth)
	checks["ConsumerConnect"] = q.ConsumerConnect(&consumerRecorder{}, false)
	_, checks["AcquireBuffer"] = q.AcquireBuffer()
	checks["ReleaseBuffer"] = q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence)
	checks["SetMaxAcquiredBufferCount"] = q.SetMaxAcquiredBufferCount(1)
	checks["SetDefaultBufferSize"] = q.SetDefaultBufferSize(8, 8)
	checks["SetDefaultBufferFormat"] = q.SetDefaultBufferFormat(gputypes.TextureFormatR8Unorm)
	checks["SetDefaultBufferDataspace"] = q.SetDefaultBufferDataspace(bufq.DataspaceSRGB)
	checks["SetConsumerUsageBits"] = q.SetConsumerUsageBits(gputypes.TextureUsageCopySrc)
	checks["SetTransformHint"] = q.SetTransformHint(bufq.TransformRot90)

	for name, err := range checks {
		if !errors.Is(err, bufq.ErrAbandoned) {
			t.Errorf("%s after abandon: got %v, want ErrAbandoned", name, err)
		}
		if bufq.StatusOf(err) != bufq.StatusNoInit {
			t.Errorf("%s after abandon: status %v, want NO_INIT", name, bufq.StatusOf(err))
		}
	}
}

// =============================================================================
// Acquire and release
// =============================================================================

func TestAcquireEmpty(t *testing.T) {
	q, _ := newConnected(t, newBuilder())

	item, err := q.AcquireBuffer()
	if !errors.Is(err, bufq.ErrNoBufferAvailable) {
		t.Fatalf("AcquireBuffer on empty: got %v, want ErrNoBufferAvailable", err)
	}
	if !bufq.IsWouldBlock(err) {
		t.Fatalf("ErrNoBufferAvailable should be a would-block error")
	}
	if bufq.StatusOf(err) != bufq.StatusNoBufferAvailable {
		t.Fatalf("StatusOf: got %v, want NO_BUFFER_AVAILABLE", bufq.StatusOf(err))
	}
	if item.Slot != bufq.InvalidSlot {
		t.Fatalf("Slot: got %d, want InvalidSlot", item.Slot)
	}
}

func TestAcquireFIFO(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(3))

	for range 3 {
		produceFrame(t, q)
	}
	for want := uint64(1); want <= 3; want++ {
		item := acquireFrame(t, q)
		if item.FrameNumber != want {
			t.Fatalf("acquired frame %d, want %d", item.FrameNumber, want)
		}
		releaseFrame(t, q, item)
	}
	st := q.Stats()
	if st.Dequeued != 3 || st.Queued != 3 || st.Acquired != 3 || st.Released != 3 || st.Dropped != 0 {
		t.Fatalf("Stats: %+v", st)
	}
}

func TestAcquireLimit(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(3))

	for range 3 {
		produceFrame(t, q)
	}
	// One beyond maxAcquired is allowed.
	acquireFrame(t, q)
	acquireFrame(t, q)
	_, err := q.AcquireBuffer()
	if !errors.Is(err, bufq.ErrInvalidOperation) {
		t.Fatalf("third acquire: got %v, want ErrInvalidOperation", err)
	}
	if q.Pending() != 1 {
		t.Fatalf("Pending: got %d, want 1", q.Pending())
	}
}

func TestAcquireHandsOverFence(t *testing.T) {
	q, _ := newConnected(t, newBuilder())
	out, buf := dequeueRequested(t, q)
	fence := bufq.NewSyncFence()
	in := queueInput(buf)
	in.Fence = fence
	if _, err := q.QueueBuffer(out.Slot, in); err != nil {
		t.Fatalf("QueueBuffer: %v", err)
	}

	item := acquireFrame(t, q)
	if item.Fence != bufq.Fence(fence) {
		t.Fatalf("acquire fence not handed over")
	}
	releaseFrame(t, q, item)

	// The acquire fence is consumed; the next dequeue gets the release fence.
	again, err := q.DequeueBuffer(bufq.DequeueBufferInput{})
	if err != nil {
		t.Fatalf("DequeueBuffer: %v", err)
	}
	if again.Fence.IsValid() {
		t.Fatalf("dequeue returned a stale acquire fence")
	}
}

func TestReleaseBuffer(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(2))
	prod := &producerRecorder{}
	if err := q.Disconnect(bufq.APICPU); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if _, err := q.Connect(prod, bufq.APICPU, false); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	produceFrame(t, q)
	queued := produceFrame(t, q)
	item := acquireFrame(t, q)

	if err := q.ReleaseBuffer(bufq.MaxSlots, item.FrameNumber, bufq.NoFence); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("release out of range: got %v, want ErrBadValue", err)
	}
	if err := q.ReleaseBuffer(item.Slot, item.FrameNumber, nil); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("release nil fence: got %v, want ErrBadValue", err)
	}
	err := q.ReleaseBuffer(item.Slot, item.FrameNumber+10, bufq.NoFence)
	if !errors.Is(err, bufq.ErrStaleBufferSlot) {
		t.Fatalf("release stale frame: got %v, want ErrStaleBufferSlot", err)
	}
	if bufq.StatusOf(err) != bufq.StatusStaleBufferSlot {
		t.Fatalf("StatusOf: got %v", bufq.StatusOf(err))
	}
	if err := q.ReleaseBuffer(queued, 2, bufq.NoFence); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("release QUEUED slot: got %v, want ErrBadValue", err)
	}

	releaseFrame(t, q, item)
	if prod.count() != 1 {
		t.Fatalf("OnBufferReleased: got %d, want 1", prod.count())
	}
	if err := q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("release twice: got %v, want ErrBadValue", err)
	}
}

// =============================================================================
// Consumer settings
// =============================================================================

func TestSetMaxAcquiredBufferCount(t *testing.T) {
	q, _ := newConnected(t, newBuilder())

	for _, n := range []int{0, bufq.MaxSlots - 1} {
		if err := q.SetMaxAcquiredBufferCount(n); !errors.Is(err, bufq.ErrBadValue) {
			t.Fatalf("SetMaxAcquiredBufferCount(%d): got %v, want ErrBadValue", n, err)
		}
	}
	if err := q.SetMaxDequeuedBufferCount(10); err != nil {
		t.Fatalf("SetMaxDequeuedBufferCount: %v", err)
	}
	if err := q.SetMaxAcquiredBufferCount(bufq.MaxSlots - 2); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("window past the slot table: got %v, want ErrBadValue", err)
	}
	if err := q.SetMaxAcquiredBufferCount(3); err != nil {
		t.Fatalf("SetMaxAcquiredBufferCount(3): %v", err)
	}
	if got, _ := q.Query(bufq.QueryMinUndequeuedBuffers); got != 3 {
		t.Fatalf("MIN_UNDEQUEUED_BUFFERS: got %d, want 3", got)
	}
}

func TestConsumerDefaults(t *testing.T) {
	q, _ := newConnected(t, newBuilder())

	if err := q.SetDefaultBufferSize(0, 10); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("SetDefaultBufferSize(0, 10): got %v, want ErrBadValue", err)
	}
	if err := q.SetDefaultBufferFormat(gputypes.TextureFormatUndefined); !errors.Is(err, bufq.ErrBadValue) {
		t.Fatalf("SetDefaultBufferFormat(undefined): got %v, want ErrBadValue", err)
	}
	if err := q.SetDefaultBufferSize(40, 20); err != nil {
		t.Fatalf("SetDefaultBufferSize: %v", err)
	}
	if err := q.SetDefaultBufferFormat(gputypes.TextureFormatBGRA8Unorm); err != nil {
		t.Fatalf("SetDefaultBufferFormat: %v", err)
	}
	if err := q.SetConsumerUsageBits(gputypes.TextureUsageRenderAttachment); err != nil {
		t.Fatalf("SetConsumerUsageBits: %v", err)
	}
	if err := q.SetDefaultBufferDataspace(bufq.DataspaceSRGBLinear); err != nil {
		t.Fatalf("SetDefaultBufferDataspace: %v", err)
	}
	if err := q.SetTransformHint(bufq.TransformRot270); err != nil {
		t.Fatalf("SetTransformHint: %v", err)
	}

	out, buf := dequeueRequested(t, q)
	if buf.Width != 40 || buf.Height != 20 || buf.Format != gputypes.TextureFormatBGRA8Unorm {
		t.Fatalf("buffer: %v", buf)
	}
	if buf.Usage&gputypes.TextureUsageRenderAttachment == 0 {
		t.Fatalf("consumer usage bits not applied: %#x", uint32(buf.Usage))
	}
	qo, err := q.QueueBuffer(out.Slot, queueInput(buf))
	if err != nil {
		t.Fatalf("QueueBuffer: %v", err)
	}
	if qo.Width != 40 || qo.Height != 20 || qo.TransformHint != bufq.TransformRot270 {
		t.Fatalf("QueueBuffer output: %+v", qo)
	}
	if item := acquireFrame(t, q); item.Dataspace != bufq.DataspaceSRGBLinear {
		t.Fatalf("Dataspace: got %d", item.Dataspace)
	}
}

func TestSlotsSnapshot(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(2))

	produceFrame(t, q)
	item := acquireFrame(t, q)
	out, buf := dequeueRequested(t, q)

	slots := q.Slots()
	if len(slots) != 2 {
		t.Fatalf("Slots: got %d entries, want 2", len(slots))
	}
	for _, s := range slots {
		switch s.Index {
		case item.Slot:
			if s.State != bufq.SlotAcquired || s.FrameNumber != 1 || !s.AcquireCalled {
				t.Fatalf("acquired slot: %+v", s)
			}
		case out.Slot:
			if s.State != bufq.SlotDequeued || s.Buffer != buf || !s.Requested || s.AcquireCalled {
				t.Fatalf("dequeued slot: %+v", s)
			}
		default:
			t.Fatalf("unexpected slot %+v", s)
		}
	}
	if got := bufq.SlotQueued.String(); got != "QUEUED" {
		t.Fatalf("SlotState.String: got %q", got)
	}
}

// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq_test

import (
	"errors"
	"testing"

	"code.hybscloud.com/bufq"
)

func TestBatchRoundTrip(t *testing.T) {
	q, rec := newConnected(t, newBuilder().MaxDequeued(3))

	douts, err := q.DequeueBuffers(make([]bufq.DequeueBufferInput, 4))
	if err != nil {
		t.Fatalf("DequeueBuffers: %v", err)
	}
	if len(douts) != 4 {
		t.Fatalf("DequeueBuffers: got %d outputs, want 4", len(douts))
	}
	var slots []int
	for i, o := range douts[:3] {
		if o.Result != nil {
			t.Fatalf("DequeueBuffers[%d]: %v", i, o.Result)
		}
		slots = append(slots, o.Slot)
	}
	if !errors.Is(douts[3].Result, bufq.ErrInvalidOperation) {
		t.Fatalf("DequeueBuffers[3]: got %v, want ErrInvalidOperation", douts[3].Result)
	}

	routs, err := q.RequestBuffers(append(slots, bufq.MaxSlots))
	if err != nil {
		t.Fatalf("RequestBuffers: %v", err)
	}
	for i, o := range routs[:3] {
		if o.Result != nil || o.Buffer == nil {
			t.Fatalf("RequestBuffers[%d]: %+v", i, o)
		}
	}
	if !errors.Is(routs[3].Result, bufq.ErrBadValue) {
		t.Fatalf("RequestBuffers[3]: got %v, want ErrBadValue", routs[3].Result)
	}

	qin := make([]bufq.QueueBufferInput, 2)
	for i := range qin {
		qin[i] = queueInput(routs[i].Buffer)
		qin[i].Slot = slots[i]
	}
	qouts, err := q.QueueBuffers(qin)
	if err != nil {
		t.Fatalf("QueueBuffers: %v", err)
	}
	for i, o := range qouts {
		if o.Result != nil {
			t.Fatalf("QueueBuffers[%d]: %v", i, o.Result)
		}
		if o.NextFrameNumber != uint64(i+2) {
			t.Fatalf("QueueBuffers[%d]: NextFrameNumber %d", i, o.NextFrameNumber)
		}
	}
	if frames, _ := rec.snapshot(); len(frames) != 2 {
		t.Fatalf("OnFrameAvailable: got %v", frames)
	}

	cerrs, err := q.CancelBuffers([]bufq.CancelBufferInput{
		{Slot: slots[2], Fence: bufq.NoFence},
		{Slot: slots[2], Fence: bufq.NoFence},
	})
	if err != nil {
		t.Fatalf("CancelBuffers: %v", err)
	}
	if cerrs[0] != nil || !errors.Is(cerrs[1], bufq.ErrBadValue) {
		t.Fatalf("CancelBuffers: %v", cerrs)
	}

	qrs, err := q.Queries([]bufq.QueryWhat{bufq.QueryWidth, bufq.QueryTransformHint})
	if err != nil {
		t.Fatalf("Queries: %v", err)
	}
	if qrs[0].Value != 64 || qrs[0].Result != nil || !errors.Is(qrs[1].Result, bufq.ErrBadValue) {
		t.Fatalf("Queries: %+v", qrs)
	}
}

func TestBatchDetachAttach(t *testing.T) {
	q, _ := newConnected(t, newBuilder().MaxDequeued(2))

	a, bufA := dequeueRequested(t, q)
	b, bufB := dequeueRequested(t, q)
	errs, err := q.DetachBuffers([]int{a.Slot, b.Slot, a.Slot})
	if err != nil {
		t.Fatalf("DetachBuffers: %v", err)
	}
	if errs[0] != nil || errs[1] != nil || !errors.Is(errs[2], bufq.ErrBadValue) {
		t.Fatalf("DetachBuffers: %v", errs)
	}

	outs, err := q.AttachBuffers([]*bufq.GraphicBuffer{bufA, bufB, bufA})
	if err != nil {
		t.Fatalf("AttachBuffers: %v", err)
	}
	if outs[0].Result != nil || outs[1].Result != nil || outs[0].Slot == outs[1].Slot {
		t.Fatalf("AttachBuffers: %+v", outs)
	}
	if !errors.Is(outs[2].Result, bufq.ErrInvalidOperation) || outs[2].Slot != bufq.InvalidSlot {
		t.Fatalf("AttachBuffers[2]: %+v", outs[2])
	}
}

func TestBatchAbandoned(t *testing.T) {
	q, _ := newConnected(t, newBuilder())
	if err := q.ConsumerDisconnect(); err != nil {
		t.Fatalf("ConsumerDisconnect: %v", err)
	}

	douts, err := q.DequeueBuffers(make([]bufq.DequeueBufferInput, 2))
	if !errors.Is(err, bufq.ErrAbandoned) {
		t.Fatalf("DequeueBuffers: got %v, want ErrAbandoned", err)
	}
	for i, o := range douts {
		if !errors.Is(o.Result, bufq.ErrAbandoned) || o.Slot != bufq.InvalidSlot {
			t.Fatalf("DequeueBuffers[%d]: %+v", i, o)
		}
	}

	routs, err := q.RequestBuffers([]int{0, 1})
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(routs[1].Result, bufq.ErrAbandoned) {
		t.Fatalf("RequestBuffers: %v %+v", err, routs)
	}
	qouts, err := q.QueueBuffers(make([]bufq.QueueBufferInput, 1))
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(qouts[0].Result, bufq.ErrAbandoned) {
		t.Fatalf("QueueBuffers: %v %+v", err, qouts)
	}
	cerrs, err := q.CancelBuffers(make([]bufq.CancelBufferInput, 1))
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(cerrs[0], bufq.ErrAbandoned) {
		t.Fatalf("CancelBuffers: %v %v", err, cerrs)
	}
	derrs, err := q.DetachBuffers([]int{0})
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(derrs[0], bufq.ErrAbandoned) {
		t.Fatalf("DetachBuffers: %v %v", err, derrs)
	}
	aouts, err := q.AttachBuffers(make([]*bufq.GraphicBuffer, 1))
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(aouts[0].Result, bufq.ErrAbandoned) {
		t.Fatalf("AttachBuffers: %v %+v", err, aouts)
	}
	qrs, err := q.Queries([]bufq.QueryWhat{bufq.QueryWidth})
	if !errors.Is(err, bufq.ErrAbandoned) || !errors.Is(qrs[0].Result, bufq.ErrAbandoned) {
		t.Fatalf("Queries: %v %+v", err, qrs)
	}
}

func TestBatchEmpty(t *testing.T) {
	q, _ := newConnected(t, newBuilder())
	outs, err := q.DequeueBuffers(nil)
	if err != nil || len(outs) != 0 {
		t.Fatalf("DequeueBuffers(nil): %v %v", outs, err)
	}
}

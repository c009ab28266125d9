// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

//go:build !race

// The tracer drains its atomix ring on a separate goroutine, which the
// race detector cannot follow.

package trace_test

import (
	"bytes"
	"errors"
	"slices"
	"sync"
	"testing"

	"code.hybscloud.com/bufq/trace"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

func TestTracerDelivers(t *testing.T) {
	var got []trace.Event
	tr := trace.NewTracer(trace.SinkFunc(func(ev trace.Event) error {
		got = append(got, ev)
		return nil
	}), trace.Config{Capacity: 64})

	id := uuid.New()
	tr.TraceBuffer("layer", id, 3, 7, trace.KindQueue, 1000)
	tr.TraceFence("layer", id, 3, 7, trace.KindRelease, 0)
	tr.LogFrameDurations("layer", []int32{16, 17})
	tr.LogFrameDurations("layer", nil)

	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if got[0].Kind != trace.KindQueue || got[0].BufferID != id || got[0].Slot != 3 || got[0].FrameNumber != 7 || got[0].Timestamp != 1000 {
		t.Fatalf("buffer event: %+v", got[0])
	}
	if !got[1].Fence || got[1].FenceTime != 0 {
		t.Fatalf("fence event: %+v", got[1])
	}
	if got[2].Kind != trace.KindFrameDurations || !slices.Equal(got[2].Durations, []int32{16, 17}) {
		t.Fatalf("durations event: %+v", got[2])
	}
	for i := 1; i < len(got); i++ {
		if got[i].Seq <= got[i-1].Seq {
			t.Fatalf("sequence not increasing: %d after %d", got[i].Seq, got[i-1].Seq)
		}
	}
	st := tr.Stats()
	if st.Emitted != 3 || st.Written != 3 || st.Dropped != 0 {
		t.Fatalf("Stats: %+v", st)
	}

	// Emitting after Close is dropped.
	tr.TraceBuffer("layer", id, 0, 8, trace.KindQueue, 0)
	if tr.Stats().Dropped != 1 {
		t.Fatalf("emit after Close not dropped")
	}
}

func TestTracerDropsWhenFull(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	tr := trace.NewTracer(trace.SinkFunc(func(ev trace.Event) error {
		once.Do(func() { <-gate })
		return nil
	}), trace.Config{Capacity: 2})

	const total = 100
	for i := range total {
		tr.TraceBuffer("layer", uuid.Nil, i%4, uint64(i), trace.KindDequeue, 0)
	}
	st := tr.Stats()
	if st.Emitted+st.Dropped != total {
		t.Fatalf("emitted %d + dropped %d != %d", st.Emitted, st.Dropped, total)
	}
	if st.Dropped == 0 {
		t.Fatalf("nothing dropped with a stalled sink")
	}

	close(gate)
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if st := tr.Stats(); st.Written != st.Emitted {
		t.Fatalf("written %d, emitted %d", st.Written, st.Emitted)
	}
}

func TestTracerSinkErrors(t *testing.T) {
	tr := trace.NewTracer(trace.SinkFunc(func(trace.Event) error {
		return errors.New("disk full")
	}), trace.Config{})
	if tr.Cap() != trace.DefaultCapacity {
		t.Fatalf("Cap: got %d, want %d", tr.Cap(), trace.DefaultCapacity)
	}
	tr.TraceBuffer("layer", uuid.Nil, 0, 1, trace.KindAcquire, 0)
	tr.Close()
	if st := tr.Stats(); st.SinkErrors != 1 || st.Written != 0 {
		t.Fatalf("Stats: %+v", st)
	}
}

func TestMsgpackSinkRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	tr := trace.NewTracer(trace.NewMsgpackSink(&buf), trace.Config{})

	id := uuid.New()
	tr.TraceBuffer("surface", id, 1, 2, trace.KindAcquire, 42)
	tr.TraceFence("surface", id, 1, 2, trace.KindQueue, 43)
	tr.LogFrameDurations("surface", []int32{8, 9, 10})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	events, err := trace.ReadEvents(&buf)
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if ev := events[0]; ev.Layer != "surface" || ev.BufferID != id || ev.Kind != trace.KindAcquire || ev.Timestamp != 42 {
		t.Fatalf("event 0: %+v", ev)
	}
	if ev := events[1]; !ev.Fence || ev.FenceTime != 43 {
		t.Fatalf("event 1: %+v", ev)
	}
	if ev := events[2]; !slices.Equal(ev.Durations, []int32{8, 9, 10}) || ev.Slot != -1 {
		t.Fatalf("event 2: %+v", ev)
	}
}

func TestLogSink(t *testing.T) {
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)
	log.SetLevel(logrus.DebugLevel)
	log.SetFormatter(&logrus.JSONFormatter{})

	sink := trace.NewLogSink(log)
	if err := sink.Write(trace.Event{Seq: 1, Kind: trace.KindDrop, Layer: "l", Slot: 2, BufferID: uuid.New()}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !bytes.Contains(out.Bytes(), []byte(`"kind":"drop"`)) || !bytes.Contains(out.Bytes(), []byte(`"buffer"`)) {
		t.Fatalf("log line: %s", out.String())
	}
}

func TestNilTracer(t *testing.T) {
	var tr *trace.Tracer
	tr.TraceBuffer("l", uuid.Nil, 0, 0, trace.KindQueue, 0)
	tr.TraceFence("l", uuid.Nil, 0, 0, trace.KindQueue, 0)
	tr.LogFrameDurations("l", []int32{1})
	if err := tr.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if tr.Stats() != (trace.Stats{}) || tr.Cap() != 0 {
		t.Fatalf("nil tracer reported state")
	}
}

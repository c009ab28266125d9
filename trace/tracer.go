// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package trace records buffer lifecycle events and frame timing.
//
// Emitting never blocks: events go into a bounded multi-producer ring that
// a single goroutine drains into a [Sink]. When the ring is full the event
// is dropped and counted.
//
//	tr := trace.NewTracer(trace.NewLogSink(log), trace.Config{})
//	defer tr.Close()
//
//	tr.TraceBuffer("surface-0", buf.ID, slot, frame, trace.KindQueue, now)
//
// All Tracer methods are safe on a nil *Tracer and do nothing.
package trace

import (
	"io"
	"sync"

	"code.hybscloud.com/atomix"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultCapacity is the ring capacity used when Config.Capacity is 0.
const DefaultCapacity = 1024

// Config configures a Tracer.
type Config struct {
	// Capacity of the event ring. Rounds up to the next power of 2.
	Capacity int
	// Logger receives sink failures. Nil discards them.
	Logger logrus.FieldLogger
}

// Tracer is a fire-and-forget event recorder.
type Tracer struct {
	ring   *eventRing
	sink   Sink
	log    logrus.FieldLogger
	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	seq        atomix.Uint64
	emitted    atomix.Uint64
	dropped    atomix.Uint64
	written    atomix.Uint64
	sinkErrors atomix.Uint64
}

// Stats is a snapshot of tracer counters.
type Stats struct {
	Emitted    uint64
	Dropped    uint64
	Written    uint64
	SinkErrors uint64
}

// NewTracer starts a tracer draining into sink.
//
// Panics if sink is nil.
func NewTracer(sink Sink, cfg Config) *Tracer {
	if sink == nil {
		panic("trace: nil sink")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	t := &Tracer{
		ring:   newEventRing(cfg.Capacity),
		sink:   sink,
		log:    log.WithField("component", "trace"),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	t.wg.Add(1)
	go t.run()
	return t
}

// TraceBuffer records a slot transition of a buffer.
func (t *Tracer) TraceBuffer(layer string, id uuid.UUID, slot int, frame uint64, kind EventKind, ts int64) {
	if t == nil {
		return
	}
	t.emit(&Event{
		Kind:        kind,
		Layer:       layer,
		BufferID:    id,
		Slot:        slot,
		FrameNumber: frame,
		Timestamp:   ts,
	})
}

// TraceFence records a fence handed over with a buffer. signalTime is 0
// when the fence had not signaled yet.
func (t *Tracer) TraceFence(layer string, id uuid.UUID, slot int, frame uint64, kind EventKind, signalTime int64) {
	if t == nil {
		return
	}
	t.emit(&Event{
		Kind:        kind,
		Layer:       layer,
		BufferID:    id,
		Slot:        slot,
		FrameNumber: frame,
		Fence:       true,
		FenceTime:   signalTime,
	})
}

// LogFrameDurations records a window of per-frame durations in
// milliseconds.
func (t *Tracer) LogFrameDurations(layer string, durations []int32) {
	if t == nil || len(durations) == 0 {
		return
	}
	t.emit(&Event{
		Kind:      KindFrameDurations,
		Layer:     layer,
		Slot:      -1,
		Durations: append([]int32(nil), durations...),
	})
}

func (t *Tracer) emit(ev *Event) {
	ev.Seq = t.seq.AddAcqRel(1)
	if err := t.ring.push(ev); err != nil {
		t.dropped.Add(1)
		return
	}
	t.emitted.Add(1)
	select {
	case t.notify <- struct{}{}:
	default:
	}
}

func (t *Tracer) run() {
	defer t.wg.Done()
	for {
		t.flush()
		select {
		case <-t.notify:
		case <-t.done:
			t.flush()
			return
		}
	}
}

func (t *Tracer) flush() {
	for {
		ev, err := t.ring.pop()
		if err != nil {
			return
		}
		if err := t.sink.Write(ev); err != nil {
			t.sinkErrors.Add(1)
			t.log.WithError(err).WithField("kind", ev.Kind.String()).Warn("trace sink write failed")
			continue
		}
		t.written.Add(1)
	}
}

// Close stops accepting events, drains what is buffered into the sink and
// closes the sink if it is an io.Closer.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	var err error
	t.once.Do(func() {
		t.ring.drain()
		close(t.done)
		t.wg.Wait()
		if c, ok := t.sink.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}

// Stats returns the tracer counters.
func (t *Tracer) Stats() Stats {
	if t == nil {
		return Stats{}
	}
	return Stats{
		Emitted:    t.emitted.Load(),
		Dropped:    t.dropped.Load(),
		Written:    t.written.Load(),
		SinkErrors: t.sinkErrors.Load(),
	}
}

// Cap returns the event ring capacity.
func (t *Tracer) Cap() int {
	if t == nil {
		return 0
	}
	return t.ring.cap()
}

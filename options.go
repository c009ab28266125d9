// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"io"
	"time"

	"code.hybscloud.com/bufq/trace"
	"github.com/gogpu/gputypes"
	"github.com/sirupsen/logrus"
)

// Options configures queue creation.
type Options struct {
	name string

	// Consumer-side defaults
	defaultWidth     uint32
	defaultHeight    uint32
	defaultFormat    gputypes.TextureFormat
	defaultDataspace Dataspace
	consumerUsage    gputypes.TextureUsage
	transformHint    Transform

	// Capacity negotiation
	maxDequeued int
	maxAcquired int
	async       bool

	// Negative blocks forever
	dequeueTimeout time.Duration

	allocator Allocator
	logger    logrus.FieldLogger
	tracer    *trace.Tracer
	clock     func() int64
}

// Builder creates buffer queues with fluent configuration.
//
// Example:
//
//	// Default queue: 1x1 RGBA8, one dequeued and one acquired buffer
//	q := bufq.New().Build()
//
//	// Triple-buffered 1080p queue with logging and tracing
//	q := bufq.New().
//	    Name("surface-0").
//	    DefaultSize(1920, 1080).
//	    MaxAcquired(1).
//	    MaxDequeued(2).
//	    Logger(log).
//	    Tracer(tr).
//	    Build()
type Builder struct {
	opts Options
}

// New creates a queue builder with default settings.
func New() *Builder {
	return &Builder{opts: Options{
		name:           "bufq",
		defaultWidth:   1,
		defaultHeight:  1,
		defaultFormat:  gputypes.TextureFormatRGBA8Unorm,
		maxDequeued:    1,
		maxAcquired:    1,
		dequeueTimeout: -1,
	}}
}

// Name sets the queue name carried by every log line and trace event.
func (b *Builder) Name(name string) *Builder {
	b.opts.name = name
	return b
}

// DefaultSize sets the size used for dequeues that request 0x0.
//
// Panics if either dimension is zero or above MaxDimension.
func (b *Builder) DefaultSize(width, height uint32) *Builder {
	if !validSize(width, height) {
		panic("bufq: default size must be non-zero and at most MaxDimension")
	}
	b.opts.defaultWidth, b.opts.defaultHeight = width, height
	return b
}

// DefaultFormat sets the format used for dequeues that request
// TextureFormatUndefined.
//
// Panics if format is not supported.
func (b *Builder) DefaultFormat(format gputypes.TextureFormat) *Builder {
	if !SupportedFormat(format) {
		panic("bufq: unsupported default format")
	}
	b.opts.defaultFormat = format
	return b
}

// DefaultDataspace sets the dataspace reported to the producer.
func (b *Builder) DefaultDataspace(ds Dataspace) *Builder {
	b.opts.defaultDataspace = ds
	return b
}

// ConsumerUsage sets usage bits OR-ed into every allocation.
//
// Panics if usage sets bit 31.
func (b *Builder) ConsumerUsage(usage gputypes.TextureUsage) *Builder {
	if usage > maxUsage {
		panic("bufq: consumer usage must fit in 31 bits")
	}
	b.opts.consumerUsage = usage
	return b
}

// TransformHint sets the transform hint reported on connect.
func (b *Builder) TransformHint(hint Transform) *Builder {
	b.opts.transformHint = hint
	return b
}

// MaxDequeued sets the initial maxDequeuedBufferCount.
//
// Panics if n < 1.
func (b *Builder) MaxDequeued(n int) *Builder {
	if n < 1 {
		panic("bufq: max dequeued must be >= 1")
	}
	b.opts.maxDequeued = n
	return b
}

// MaxAcquired sets the initial maxAcquiredBufferCount.
//
// Panics if n is outside [1, MaxSlots-2].
func (b *Builder) MaxAcquired(n int) *Builder {
	if n < 1 || n > MaxSlots-2 {
		panic("bufq: max acquired out of range")
	}
	b.opts.maxAcquired = n
	return b
}

// Async starts the queue in async mode.
func (b *Builder) Async() *Builder {
	b.opts.async = true
	return b
}

// DequeueTimeout bounds how long a sync-mode dequeue waits for a free
// slot. Negative waits forever; zero never waits.
func (b *Builder) DequeueTimeout(d time.Duration) *Builder {
	b.opts.dequeueTimeout = d
	return b
}

// Allocator sets the buffer allocator. The default is HeapAllocator.
func (b *Builder) Allocator(a Allocator) *Builder {
	b.opts.allocator = a
	return b
}

// Logger sets the structured logger. The default discards output.
func (b *Builder) Logger(l logrus.FieldLogger) *Builder {
	b.opts.logger = l
	return b
}

// Tracer attaches a frame tracer that records every slot transition.
func (b *Builder) Tracer(t *trace.Tracer) *Builder {
	b.opts.tracer = t
	return b
}

// Clock replaces the nanosecond clock used for auto timestamps.
func (b *Builder) Clock(now func() int64) *Builder {
	b.opts.clock = now
	return b
}

// Build creates the BufferQueue.
//
// Panics if the configured counts do not fit in MaxSlots.
func (b *Builder) Build() *BufferQueue {
	o := b.opts
	if o.maxDequeued+o.maxAcquired+asyncExtra(o.async) > MaxSlots {
		panic("bufq: buffer counts exceed slot table")
	}
	if o.allocator == nil {
		o.allocator = HeapAllocator{}
	}
	if o.logger == nil {
		o.logger = discardLogger()
	}
	if o.clock == nil {
		o.clock = func() int64 { return time.Now().UnixNano() }
	}
	return newBufferQueue(o)
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func asyncExtra(async bool) int {
	if async {
		return 1
	}
	return 0
}

// activeWindow returns the number of slots dequeue and attach may use.
func activeWindow(maxDequeued, maxAcquired int, async bool) int {
	return min(MaxSlots, maxDequeued+maxAcquired+asyncExtra(async))
}

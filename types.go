// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"strconv"

	"github.com/gogpu/gputypes"
)

// MaxSlots is the fixed capacity of the buffer slot table.
const MaxSlots = 64

// InvalidSlot is the slot index reported when no slot was assigned.
const InvalidSlot = -1

// API identifies the kind of producer connected to a queue.
type API int32

// Recognized producer APIs.
const (
	APINone   API = 0
	APIEGL    API = 1
	APICPU    API = 2
	APIMedia  API = 3
	APICamera API = 4
)

func (a API) valid() bool { return a >= APIEGL && a <= APICamera }

func (a API) String() string {
	switch a {
	case APINone:
		return "none"
	case APIEGL:
		return "egl"
	case APICPU:
		return "cpu"
	case APIMedia:
		return "media"
	case APICamera:
		return "camera"
	}
	return "API(" + strconv.Itoa(int(a)) + ")"
}

// SlotState is the ownership state of a buffer slot.
type SlotState uint8

// Slot states.
const (
	SlotFree SlotState = iota
	SlotDequeued
	SlotQueued
	SlotAcquired
)

func (s SlotState) String() string {
	switch s {
	case SlotFree:
		return "FREE"
	case SlotDequeued:
		return "DEQUEUED"
	case SlotQueued:
		return "QUEUED"
	case SlotAcquired:
		return "ACQUIRED"
	}
	return "SlotState(" + strconv.Itoa(int(s)) + ")"
}

// ScalingMode controls how a buffer's crop region maps onto its
// presentation size.
type ScalingMode int32

// Recognized scaling modes. Anything else is rejected by QueueBuffer.
const (
	ScalingModeFreeze        ScalingMode = 0
	ScalingModeScaleToWindow ScalingMode = 1
	ScalingModeScaleCrop     ScalingMode = 2
	ScalingModeNoScaleCrop   ScalingMode = 3
)

func (m ScalingMode) valid() bool { return m >= ScalingModeFreeze && m <= ScalingModeNoScaleCrop }

// Transform is a bitmask of flips and rotations applied at presentation.
type Transform uint32

// Transform bits.
const (
	TransformFlipH          Transform = 0x01
	TransformFlipV          Transform = 0x02
	TransformRot90          Transform = 0x04
	TransformInverseDisplay Transform = 0x08
	TransformRot180                   = TransformFlipH | TransformFlipV
	TransformRot270                   = TransformRot180 | TransformRot90
)

// Dataspace tags the color interpretation of buffer contents.
type Dataspace int32

// A few common dataspaces. Any value is accepted; Unknown selects the
// queue's default dataspace.
const (
	DataspaceUnknown    Dataspace = 0
	DataspaceSRGB       Dataspace = 142671872
	DataspaceDisplayP3  Dataspace = 143261696
	DataspaceSRGBLinear Dataspace = 138477568
)

// Rect is a half-open rectangle [Left, Right) x [Top, Bottom).
type Rect struct {
	Left, Top, Right, Bottom int32
}

// NewRect returns the rectangle with origin (0, 0) and the given size.
func NewRect(width, height uint32) Rect {
	return Rect{Right: int32(width), Bottom: int32(height)}
}

// Width returns the horizontal extent.
func (r Rect) Width() int32 { return r.Right - r.Left }

// Height returns the vertical extent.
func (r Rect) Height() int32 { return r.Bottom - r.Top }

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Left >= r.Right || r.Top >= r.Bottom }

// Intersect returns the intersection of r and o. Disjoint rectangles
// produce the zero Rect.
func (r Rect) Intersect(o Rect) Rect {
	out := Rect{
		Left:   max(r.Left, o.Left),
		Top:    max(r.Top, o.Top),
		Right:  min(r.Right, o.Right),
		Bottom: min(r.Bottom, o.Bottom),
	}
	if out.Empty() {
		return Rect{}
	}
	return out
}

// QueueBufferInput describes a filled buffer being published.
type QueueBufferInput struct {
	// Timestamp in nanoseconds. Ignored when IsAutoTimestamp is set.
	Timestamp       int64
	IsAutoTimestamp bool
	Dataspace       Dataspace
	Crop            Rect
	ScalingMode     ScalingMode
	Transform       Transform
	// Fence signals when the producer's GPU writes are complete. Must not be
	// nil; use NoFence when there is nothing to wait for.
	Fence           Fence
	StickyTransform Transform
	GetTimestamps   bool
	// Slot is the target slot for QueueBuffers. QueueBuffer ignores it.
	Slot int
}

// QueueBufferOutput reports queue state after a connect or queue.
type QueueBufferOutput struct {
	Width             uint32
	Height            uint32
	TransformHint     Transform
	NumPendingBuffers uint32
	NextFrameNumber   uint64
	// BufferReplaced reports that a pending frame was dropped by an async
	// dequeue since the previous queue.
	BufferReplaced bool
	// Timestamps holds recent frame timing samples when requested.
	Timestamps []FrameTimestamps
	// Result is the per-item outcome in batched calls.
	Result error
}

// FrameTimestamps records when a frame passed each stage of the queue.
// Zero means the stage has not happened yet.
type FrameTimestamps struct {
	FrameNumber uint64
	Requested   int64 // producer timestamp from QueueBufferInput
	Queued      int64
	Acquired    int64
	Released    int64
}

// DequeueBufferInput is the request of a dequeue.
type DequeueBufferInput struct {
	// Width and Height of zero select the queue's default size.
	Width  uint32
	Height uint32
	// Format of TextureFormatUndefined selects the queue's default format.
	Format        gputypes.TextureFormat
	Usage         gputypes.TextureUsage
	GetTimestamps bool
}

// DequeueBufferOutput is the outcome of a dequeue.
type DequeueBufferOutput struct {
	Slot  int
	Fence Fence
	// BufferAge is the number of frames since the slot was last queued,
	// or 0 if it never was.
	BufferAge uint64
	// NeedsReallocation reports that the slot holds a freshly allocated
	// buffer; the producer must call RequestBuffer before using it.
	NeedsReallocation bool
	// ReleaseAllBuffers reports that the queue freed buffers of idle
	// slots since the previous dequeue; buffers the producer cached by
	// slot may be stale.
	ReleaseAllBuffers bool
	Timestamps        []FrameTimestamps
	Result            error
}

// Status encodes the outcome the way a transport boundary does: the
// result code with BufferNeedsReallocation and ReleaseAllBuffers OR-ed in
// on success.
func (o DequeueBufferOutput) Status() Status {
	s := StatusOf(o.Result)
	if s != StatusOK {
		return s
	}
	if o.NeedsReallocation {
		s |= BufferNeedsReallocation
	}
	if o.ReleaseAllBuffers {
		s |= ReleaseAllBuffers
	}
	return s
}

// DecodeDequeueStatus splits a boundary-encoded dequeue status into its
// result code and reallocation flag.
func DecodeDequeueStatus(s Status) (result Status, needsReallocation bool) {
	if s < 0 {
		return s, false
	}
	return s &^ (BufferNeedsReallocation | ReleaseAllBuffers), s&BufferNeedsReallocation != 0
}

// RequestBufferOutput is the per-item result of RequestBuffers.
type RequestBufferOutput struct {
	Buffer *GraphicBuffer
	Result error
}

// CancelBufferInput is the per-item request of CancelBuffers.
type CancelBufferInput struct {
	Slot  int
	Fence Fence
}

// AttachBufferOutput is the outcome of an attach.
type AttachBufferOutput struct {
	Slot              int
	NeedsReallocation bool
	Result            error
}

// QueryOutput is the per-item result of Queries.
type QueryOutput struct {
	Value  int32
	Result error
}

// BufferItem describes an acquired buffer to the consumer.
type BufferItem struct {
	Slot            int
	Buffer          *GraphicBuffer
	Fence           Fence
	FrameNumber     uint64
	Timestamp       int64
	IsAutoTimestamp bool
	Dataspace       Dataspace
	Crop            Rect
	ScalingMode     ScalingMode
	Transform       Transform
	StickyTransform Transform
	// Dropped counts frames reclaimed in async mode before this one.
	Dropped uint64
}

// ProducerListener receives notifications on the producer side.
type ProducerListener interface {
	// OnBufferReleased is called after the consumer releases a buffer.
	OnBufferReleased()
}

// ConsumerListener receives notifications on the consumer side.
type ConsumerListener interface {
	// OnFrameAvailable is called after a buffer is queued.
	OnFrameAvailable(item BufferItem)
	// OnBuffersReleased is called when the producer disconnects and the
	// queue drops its buffers.
	OnBuffersReleased()
}

// Producer is the producer side of the buffer exchange protocol.
type Producer interface {
	Connect(listener ProducerListener, api API, controlledByApp bool) (QueueBufferOutput, error)
	Disconnect(api API) error
	DequeueBuffer(in DequeueBufferInput) (DequeueBufferOutput, error)
	RequestBuffer(slot int) (*GraphicBuffer, error)
	QueueBuffer(slot int, in QueueBufferInput) (QueueBufferOutput, error)
	CancelBuffer(slot int, fence Fence) error
	DetachBuffer(slot int) error
	DetachNextBuffer() (*GraphicBuffer, Fence, error)
	AttachBuffer(buf *GraphicBuffer) (AttachBufferOutput, error)
	SetMaxDequeuedBufferCount(n int) error
	SetAsyncMode(async bool) error
	Query(what QueryWhat) (int32, error)
	BatchProducer
}

// BatchProducer is the list-taking counterpart of Producer. Every input
// produces exactly one output carrying its own Result.
type BatchProducer interface {
	DequeueBuffers(in []DequeueBufferInput) ([]DequeueBufferOutput, error)
	RequestBuffers(slots []int) ([]RequestBufferOutput, error)
	QueueBuffers(in []QueueBufferInput) ([]QueueBufferOutput, error)
	CancelBuffers(in []CancelBufferInput) ([]error, error)
	DetachBuffers(slots []int) ([]error, error)
	AttachBuffers(bufs []*GraphicBuffer) ([]AttachBufferOutput, error)
	Queries(what []QueryWhat) ([]QueryOutput, error)
}

// Consumer is the consumer side of the buffer exchange protocol.
type Consumer interface {
	ConsumerConnect(listener ConsumerListener, controlledByApp bool) error
	ConsumerDisconnect() error
	AcquireBuffer() (BufferItem, error)
	ReleaseBuffer(slot int, frameNumber uint64, fence Fence) error
	SetMaxAcquiredBufferCount(n int) error
	SetDefaultBufferSize(width, height uint32) error
	SetDefaultBufferFormat(format gputypes.TextureFormat) error
	SetDefaultBufferDataspace(ds Dataspace) error
	SetConsumerUsageBits(usage gputypes.TextureUsage) error
	SetTransformHint(hint Transform) error
}

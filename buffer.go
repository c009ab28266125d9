// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
)

// GraphicBuffer describes a block of image memory exchanged through the
// queue. The queue never touches pixel contents; only the descriptor
// moves between slots.
type GraphicBuffer struct {
	ID     uuid.UUID
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat
	Usage  gputypes.TextureUsage
	// Stride is the row pitch in pixels.
	Stride uint32
}

// Matches reports whether b can satisfy a request for the given geometry
// and usage without reallocation.
func (b *GraphicBuffer) Matches(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) bool {
	return b.Width == width && b.Height == height && b.Format == format && b.Usage&usage == usage
}

func (b *GraphicBuffer) String() string {
	return fmt.Sprintf("buffer %s %dx%d format=%d usage=%#x", b.ID, b.Width, b.Height, b.Format, uint32(b.Usage))
}

// Allocator creates graphics buffers on behalf of the queue.
//
// Allocate is called with the queue lock held and must not call back into
// the queue.
type Allocator interface {
	Allocate(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*GraphicBuffer, error)
}

// AllocatorFunc adapts a function to the Allocator interface.
type AllocatorFunc func(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*GraphicBuffer, error)

// Allocate calls f.
func (f AllocatorFunc) Allocate(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*GraphicBuffer, error) {
	return f(width, height, format, usage)
}

// MaxDimension bounds buffer width and height so that every extent fits
// a Rect coordinate.
const MaxDimension = math.MaxInt32

// maxUsage is the widest usage mask that Query can report.
const maxUsage gputypes.TextureUsage = math.MaxInt32

// validSize reports whether width x height is a non-empty size within
// MaxDimension.
func validSize(width, height uint32) bool {
	return width != 0 && height != 0 && width <= MaxDimension && height <= MaxDimension
}

// strideAlign is the pixel alignment of rows produced by HeapAllocator.
const strideAlign = 16

// HeapAllocator produces buffer descriptors without backing GPU memory.
type HeapAllocator struct{}

// Allocate returns a fresh descriptor with a random ID.
func (HeapAllocator) Allocate(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*GraphicBuffer, error) {
	if !validSize(width, height) {
		return nil, fmt.Errorf("%w: invalid allocation size %dx%d", ErrNoMemory, width, height)
	}
	return &GraphicBuffer{
		ID:     uuid.New(),
		Width:  width,
		Height: height,
		Format: format,
		Usage:  usage,
		Stride: (width + strideAlign - 1) &^ (strideAlign - 1),
	}, nil
}

// NewGraphicBuffer allocates a standalone buffer with HeapAllocator, for
// attaching to a queue.
func NewGraphicBuffer(width, height uint32, format gputypes.TextureFormat, usage gputypes.TextureUsage) (*GraphicBuffer, error) {
	return HeapAllocator{}.Allocate(width, height, format, usage)
}

// SupportedFormat reports whether f can be requested from a queue.
func SupportedFormat(f gputypes.TextureFormat) bool {
	switch f {
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatR8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return true
	}
	return false
}

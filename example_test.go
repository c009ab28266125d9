// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq_test

import (
	"errors"
	"fmt"

	"code.hybscloud.com/bufq"
	"github.com/gogpu/gputypes"
)

// frameLogger prints consumer callbacks.
type frameLogger struct{}

func (frameLogger) OnFrameAvailable(item bufq.BufferItem) {
	fmt.Println("frame available:", item.FrameNumber)
}

func (frameLogger) OnBuffersReleased() {
	fmt.Println("buffers released")
}

// Example shows one frame travelling through the queue.
func Example() {
	q := bufq.New().
		Name("surface").
		DefaultSize(320, 240).
		DefaultFormat(gputypes.TextureFormatBGRA8Unorm).
		Build()

	// The consumer connects first
	q.ConsumerConnect(frameLogger{}, false)
	out, _ := q.Connect(nil, bufq.APICPU, false)
	fmt.Println("next frame:", out.NextFrameNumber)

	// Producer: dequeue, fill, queue
	d, _ := q.DequeueBuffer(bufq.DequeueBufferInput{})
	buf, _ := q.RequestBuffer(d.Slot)
	fmt.Println("new buffer:", d.NeedsReallocation, buf.Width, buf.Height)
	q.QueueBuffer(d.Slot, bufq.QueueBufferInput{
		IsAutoTimestamp: true,
		Crop:            bufq.NewRect(buf.Width, buf.Height),
		Fence:           bufq.NoFence,
	})

	// Consumer: acquire, read, release
	item, _ := q.AcquireBuffer()
	fmt.Println("acquired frame:", item.FrameNumber)
	q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence)

	q.Disconnect(bufq.APICPU)

	// Output:
	// next frame: 1
	// new buffer: true 320 240
	// frame available: 1
	// acquired frame: 1
	// buffers released
}

// ExampleBufferQueue_DequeueBuffer_async shows async mode replacing the
// oldest pending frame instead of blocking.
func ExampleBufferQueue_DequeueBuffer_async() {
	q := bufq.New().DefaultSize(64, 64).Async().Build()
	q.ConsumerConnect(frameLogger{}, false)
	q.Connect(nil, bufq.APICPU, false)

	var replaced bool
	for range 4 {
		d, _ := q.DequeueBuffer(bufq.DequeueBufferInput{})
		q.RequestBuffer(d.Slot)
		out, _ := q.QueueBuffer(d.Slot, bufq.QueueBufferInput{Fence: bufq.NoFence})
		replaced = out.BufferReplaced
	}
	item, _ := q.AcquireBuffer()
	fmt.Println("replaced:", replaced)
	fmt.Println("acquired:", item.FrameNumber, "dropped:", item.Dropped)

	// Output:
	// frame available: 1
	// frame available: 2
	// frame available: 3
	// frame available: 4
	// replaced: true
	// acquired: 2 dropped: 1
}

// ExampleStatusOf maps errors to protocol status codes.
func ExampleStatusOf() {
	q := bufq.New().Build()
	_, err := q.Connect(nil, bufq.APIEGL, false)

	fmt.Println(errors.Is(err, bufq.ErrNoInit))
	fmt.Println(bufq.StatusOf(err))
	fmt.Println(bufq.StatusOf(bufq.ErrNoBufferAvailable))

	// Output:
	// true
	// NO_INIT
	// NO_BUFFER_AVAILABLE
}

// ExampleMergeFences waits for two pieces of work at once.
func ExampleMergeFences() {
	render, copyDone := bufq.NewSyncFence(), bufq.NewSyncFence()
	both := bufq.MergeFences(render, copyDone)

	render.Signal()
	fmt.Println(both.Wait(0) == nil)
	copyDone.Signal()
	fmt.Println(both.Wait(0) == nil)

	// Output:
	// false
	// true
}

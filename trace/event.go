// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package trace

import (
	"strconv"

	"github.com/google/uuid"
)

// EventKind identifies what happened to a buffer.
type EventKind uint8

// Event kinds.
const (
	KindDequeue EventKind = iota + 1
	KindQueue
	KindAcquire
	KindRelease
	KindCancel
	KindAttach
	KindDetach
	KindDrop
	KindFrameDurations
)

var kindNames = [...]string{
	KindDequeue:        "dequeue",
	KindQueue:          "queue",
	KindAcquire:        "acquire",
	KindRelease:        "release",
	KindCancel:         "cancel",
	KindAttach:         "attach",
	KindDetach:         "detach",
	KindDrop:           "drop",
	KindFrameDurations: "frame_durations",
}

func (k EventKind) String() string {
	if int(k) < len(kindNames) && kindNames[k] != "" {
		return kindNames[k]
	}
	return "EventKind(" + strconv.Itoa(int(k)) + ")"
}

// Event is one trace record.
type Event struct {
	Seq         uint64    `msgpack:"seq"`
	Kind        EventKind `msgpack:"kind"`
	Layer       string    `msgpack:"layer"`
	BufferID    uuid.UUID `msgpack:"buffer"`
	Slot        int       `msgpack:"slot"`
	FrameNumber uint64    `msgpack:"frame"`
	Timestamp   int64     `msgpack:"ts"`
	// Fence events carry the fence signal time, or 0 if it was still
	// pending when traced.
	Fence     bool    `msgpack:"fence,omitempty"`
	FenceTime int64   `msgpack:"fence_time,omitempty"`
	Durations []int32 `msgpack:"durations,omitempty"`
}

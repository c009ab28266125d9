// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"errors"
	"strconv"

	"code.hybscloud.com/iox"
)

// Status is the numeric result code of a protocol call.
//
// Status values are what a transport would carry across a process
// boundary. In Go code, operations return errors; [StatusOf] converts an
// error back to its Status.
type Status int32

// Result codes.
const (
	StatusOK                Status = 0
	StatusNoBufferAvailable Status = 1
	StatusStaleBufferSlot   Status = 3
	StatusWouldBlock        Status = -11
	StatusNoMemory          Status = -12
	StatusNoInit            Status = -19
	StatusBadValue          Status = -22
	StatusInvalidOperation  Status = -38
	StatusTimedOut          Status = -110
	StatusUnknown           Status = -2147483648
)

// Flag bits OR-ed into an otherwise successful dequeue status.
const (
	BufferNeedsReallocation Status = 0x1
	ReleaseAllBuffers       Status = 0x2
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNoBufferAvailable:
		return "NO_BUFFER_AVAILABLE"
	case StatusStaleBufferSlot:
		return "STALE_BUFFER_SLOT"
	case StatusWouldBlock:
		return "WOULD_BLOCK"
	case StatusNoMemory:
		return "NO_MEMORY"
	case StatusNoInit:
		return "NO_INIT"
	case StatusBadValue:
		return "BAD_VALUE"
	case StatusInvalidOperation:
		return "INVALID_OPERATION"
	case StatusTimedOut:
		return "TIMED_OUT"
	}
	return "Status(" + strconv.Itoa(int(s)) + ")"
}

// Validation errors. Detected before any state mutation.
var (
	// ErrBadValue reports a malformed argument, an out-of-range slot or a
	// slot in the wrong state.
	ErrBadValue = errors.New("bufq: bad value")

	// ErrStaleBufferSlot reports a release whose frame number no longer
	// matches the slot's current occupant.
	ErrStaleBufferSlot = errors.New("bufq: stale buffer slot")
)

// Lifecycle errors. All of them report [StatusNoInit].
var (
	// ErrNoInit is the common lifecycle error. ErrAbandoned,
	// ErrNotConnected and ErrNoConsumer all match it with errors.Is.
	ErrNoInit = errors.New("bufq: no init")

	// ErrAbandoned reports that the consumer has disconnected. The queue
	// never recovers from this state.
	ErrAbandoned = &lifecycleError{msg: "bufq: buffer queue has been abandoned"}

	// ErrNotConnected reports a producer call without a connected producer.
	ErrNotConnected = &lifecycleError{msg: "bufq: producer not connected"}

	// ErrNoConsumer reports a producer connect before any consumer.
	ErrNoConsumer = &lifecycleError{msg: "bufq: no consumer connected"}
)

// Capacity and flow-control errors.
var (
	// ErrWouldBlock indicates the operation cannot proceed immediately.
	//
	// DequeueBuffer returns it in async mode when nothing can be reclaimed,
	// and in sync mode when the dequeue timeout is zero.
	//
	// This is an alias for [iox.ErrWouldBlock] for ecosystem consistency.
	ErrWouldBlock = iox.ErrWouldBlock

	// ErrNoBufferAvailable is returned by AcquireBuffer when no buffer is
	// pending. It matches ErrWouldBlock.
	ErrNoBufferAvailable = &wouldBlockError{msg: "bufq: no buffer available"}

	// ErrTimedOut reports a blocking dequeue that ran out of time.
	ErrTimedOut = errors.New("bufq: timed out")

	// ErrInvalidOperation reports a call that exceeds a negotiated bound,
	// such as dequeueing more buffers than maxDequeuedBufferCount.
	ErrInvalidOperation = errors.New("bufq: invalid operation")

	// ErrNoMemory reports that no buffer or table entry is available.
	ErrNoMemory = errors.New("bufq: no memory")

	// ErrNoFreeSlot is returned by AttachBuffer when every slot in the
	// active window is occupied. It matches ErrNoMemory.
	ErrNoFreeSlot = &noMemoryError{msg: "bufq: no free slot"}
)

type lifecycleError struct{ msg string }

func (e *lifecycleError) Error() string        { return e.msg }
func (e *lifecycleError) Is(target error) bool { return target == ErrNoInit }

type wouldBlockError struct{ msg string }

func (e *wouldBlockError) Error() string        { return e.msg }
func (e *wouldBlockError) Unwrap() error        { return iox.ErrWouldBlock }
func (e *wouldBlockError) Is(target error) bool { return target == iox.ErrWouldBlock }

type noMemoryError struct{ msg string }

func (e *noMemoryError) Error() string        { return e.msg }
func (e *noMemoryError) Is(target error) bool { return target == ErrNoMemory }

// StatusOf returns the result code for err. A nil error is StatusOK.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrNoInit):
		return StatusNoInit
	case errors.Is(err, ErrBadValue):
		return StatusBadValue
	case errors.Is(err, ErrStaleBufferSlot):
		return StatusStaleBufferSlot
	case errors.Is(err, ErrInvalidOperation):
		return StatusInvalidOperation
	case errors.Is(err, ErrNoMemory):
		return StatusNoMemory
	case errors.Is(err, ErrTimedOut):
		return StatusTimedOut
	case errors.Is(err, ErrNoBufferAvailable):
		return StatusNoBufferAvailable
	case iox.IsWouldBlock(err):
		return StatusWouldBlock
	}
	return StatusUnknown
}

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Returns true for nil or ErrWouldBlock.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

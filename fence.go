// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package bufq

import (
	"sync"
	"time"

	"code.hybscloud.com/atomix"
)

// Fence is an opaque synchronization token attached to a buffer hand-off.
// The receiving side must wait on it before touching buffer contents.
//
// A Fence that reports IsValid() == false carries nothing to wait on;
// [NoFence] is the canonical one. A nil Fence is never accepted where a
// fence is required.
type Fence interface {
	// IsValid reports whether the fence refers to pending work.
	IsValid() bool
	// Wait blocks until the fence signals. A negative timeout waits
	// forever. Returns ErrTimedOut if the timeout elapses first.
	Wait(timeout time.Duration) error
	// SignalTime returns the signal time in nanoseconds, or 0 while the
	// fence is pending. Invalid fences return 0.
	SignalTime() int64
}

// NoFence is the valid placeholder for "nothing to wait for".
var NoFence Fence = noFence{}

type noFence struct{}

func (noFence) IsValid() bool            { return false }
func (noFence) Wait(time.Duration) error { return nil }
func (noFence) SignalTime() int64        { return 0 }
func (noFence) String() string           { return "NoFence" }

// SyncFence is an in-process fence signaled by calling Signal.
type SyncFence struct {
	once       sync.Once
	done       chan struct{}
	signaled   atomix.Bool
	signalTime atomix.Int64
}

// NewSyncFence returns a pending fence.
func NewSyncFence() *SyncFence {
	return &SyncFence{done: make(chan struct{})}
}

// Signal marks the fence complete and releases every waiter.
// Calling Signal more than once has no effect.
func (f *SyncFence) Signal() {
	f.once.Do(func() {
		f.signalTime.Store(time.Now().UnixNano())
		f.signaled.StoreRelease(true)
		close(f.done)
	})
}

// IsValid reports true; a SyncFence always refers to some work.
func (f *SyncFence) IsValid() bool { return true }

// SignalTime returns when Signal was called, or 0 while pending.
func (f *SyncFence) SignalTime() int64 {
	if !f.signaled.LoadAcquire() {
		return 0
	}
	return f.signalTime.Load()
}

// Wait blocks until Signal is called or timeout elapses.
func (f *SyncFence) Wait(timeout time.Duration) error {
	if timeout < 0 {
		<-f.done
		return nil
	}
	if timeout == 0 {
		if f.signaled.LoadAcquire() {
			return nil
		}
		return ErrTimedOut
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-f.done:
		return nil
	case <-t.C:
		return ErrTimedOut
	}
}

// MergeFences returns a fence that signals once both a and b have
// signaled. Invalid or nil inputs are ignored; merging two of them yields
// NoFence.
func MergeFences(a, b Fence) Fence {
	aValid := a != nil && a.IsValid()
	bValid := b != nil && b.IsValid()
	switch {
	case aValid && bValid:
		return mergedFence{a, b}
	case aValid:
		return a
	case bValid:
		return b
	}
	return NoFence
}

type mergedFence struct{ a, b Fence }

func (m mergedFence) IsValid() bool { return true }

func (m mergedFence) Wait(timeout time.Duration) error {
	if timeout < 0 {
		if err := m.a.Wait(-1); err != nil {
			return err
		}
		return m.b.Wait(-1)
	}
	deadline := time.Now().Add(timeout)
	if err := m.a.Wait(timeout); err != nil {
		return err
	}
	return m.b.Wait(max(time.Until(deadline), 0))
}

// SignalTime is the later of the two signal times, or 0 if either is
// still pending.
func (m mergedFence) SignalTime() int64 {
	ta, tb := m.a.SignalTime(), m.b.SignalTime()
	if ta == 0 || tb == 0 {
		return 0
	}
	return max(ta, tb)
}

func fenceOrNone(f Fence) Fence {
	if f == nil {
		return NoFence
	}
	return f
}

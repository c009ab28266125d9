// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package clientcache

import (
	"sync"

	"github.com/google/uuid"
)

// Liveness tracks client processes and runs cleanups when one terminates.
// A terminated process is remembered, so it cannot be registered again.
type Liveness struct {
	mu         sync.Mutex
	cleanups   map[uuid.UUID][]func()
	terminated map[uuid.UUID]struct{}
}

// NewLiveness returns an empty registry.
func NewLiveness() *Liveness {
	return &Liveness{
		cleanups:   make(map[uuid.UUID][]func()),
		terminated: make(map[uuid.UUID]struct{}),
	}
}

// Register arranges for cleanup to run when process terminates. It
// returns false without registering if process has already terminated.
func (l *Liveness) Register(process uuid.UUID, cleanup func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, dead := l.terminated[process]; dead {
		return false
	}
	l.cleanups[process] = append(l.cleanups[process], cleanup)
	return true
}

// ProcessTerminated runs and forgets every cleanup registered for process.
// Cleanups run outside the registry lock, in registration order.
func (l *Liveness) ProcessTerminated(process uuid.UUID) {
	l.mu.Lock()
	fns := l.cleanups[process]
	delete(l.cleanups, process)
	l.terminated[process] = struct{}{}
	l.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Terminated reports whether ProcessTerminated has run for process.
func (l *Liveness) Terminated(process uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.terminated[process]
	return ok
}

// Tracked reports whether any cleanup is registered for process.
func (l *Liveness) Tracked(process uuid.UUID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.cleanups[process]
	return ok
}

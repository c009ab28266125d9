// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package clientcache keeps the buffers each client process has sent, so
// later transactions can refer to a buffer by a small numeric ID.
//
// Entries are keyed by the owning process and a client-chosen ID. Other
// components may subscribe to an entry's removal; subscribers are notified
// outside the cache lock when the entry is erased or its process goes
// away. A cancelled subscription is skipped.
//
//	live := clientcache.NewLiveness()
//	cache := clientcache.New(clientcache.Config{Liveness: live})
//
//	id := clientcache.CacheID{Process: proc, ID: 7}
//	cache.Add(id, buf)
//	sub, _ := cache.RegisterErasedRecipient(id, layer)
//	...
//	live.ProcessTerminated(proc) // erases every entry of proc
package clientcache

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/bufq"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultMaxBuffersPerProcess bounds the entries a single process may hold.
const DefaultMaxBuffersPerProcess = 4096

var (
	// ErrInvalidProcess reports a CacheID without a process.
	ErrInvalidProcess = errors.New("clientcache: invalid process")
	// ErrNilBuffer reports an Add without a buffer.
	ErrNilBuffer = errors.New("clientcache: nil buffer")
	// ErrCacheFull reports that the process already holds the maximum
	// number of buffers.
	ErrCacheFull = errors.New("clientcache: cache is full")
	// ErrNotFound reports an unknown process or buffer ID.
	ErrNotFound = errors.New("clientcache: buffer not found")
	// ErrProcessTerminated reports an Add for a process whose liveness
	// has already ended.
	ErrProcessTerminated = errors.New("clientcache: process terminated")
)

// CacheID names one cached buffer.
type CacheID struct {
	Process uuid.UUID
	ID      uint64
}

func (id CacheID) String() string {
	return fmt.Sprintf("%s/%d", id.Process, id.ID)
}

// ErasedRecipient is notified when a cached buffer goes away.
type ErasedRecipient interface {
	BufferErased(id CacheID)
}

// ErasedFunc adapts a function to ErasedRecipient.
type ErasedFunc func(id CacheID)

// BufferErased calls f.
func (f ErasedFunc) BufferErased(id CacheID) { f(id) }

// Subscription is a registration returned by RegisterErasedRecipient.
type Subscription struct {
	id        CacheID
	recipient ErasedRecipient
	dead      atomix.Bool
}

// Cancel stops further notifications. It is safe to call at any time,
// including concurrently with a notification in flight.
func (s *Subscription) Cancel() {
	s.dead.StoreRelease(true)
}

// ID returns the entry the subscription watches.
func (s *Subscription) ID() CacheID { return s.id }

func (s *Subscription) live() bool { return !s.dead.LoadAcquire() }

type entry struct {
	buffer     *bufq.GraphicBuffer
	recipients []*Subscription
}

type process struct {
	buffers map[uint64]*entry
}

// Config configures a Cache.
type Config struct {
	// Liveness, when set, erases a process's entries once it terminates.
	Liveness *Liveness
	// MaxBuffersPerProcess defaults to DefaultMaxBuffersPerProcess.
	MaxBuffersPerProcess int
	Logger               logrus.FieldLogger
}

// Cache is a per-process buffer cache. It is safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	procs map[uuid.UUID]*process
	live  *Liveness
	max   int
	log   logrus.FieldLogger
}

// New creates an empty cache.
func New(cfg Config) *Cache {
	if cfg.MaxBuffersPerProcess <= 0 {
		cfg.MaxBuffersPerProcess = DefaultMaxBuffersPerProcess
	}
	log := cfg.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Cache{
		procs: make(map[uuid.UUID]*process),
		live:  cfg.Liveness,
		max:   cfg.MaxBuffersPerProcess,
		log:   log.WithField("component", "clientcache"),
	}
}

// Add stores buf under id, replacing any buffer already there. The first
// Add for a process links the cache to the process's liveness before the
// entry becomes visible.
func (c *Cache) Add(id CacheID, buf *bufq.GraphicBuffer) error {
	if id.Process == uuid.Nil {
		c.log.Error("add: invalid process")
		return ErrInvalidProcess
	}
	if buf == nil {
		c.log.WithField("id", id).Error("add: nil buffer")
		return ErrNilBuffer
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.procs[id.Process]
	if !ok {
		// The cleanup takes c.mu only after Liveness has released its own
		// lock, so registering here cannot deadlock.
		proc := id.Process
		if c.live != nil && !c.live.Register(proc, func() { c.RemoveProcess(proc) }) {
			c.log.WithField("process", proc).Error("add: process terminated")
			return fmt.Errorf("%w: %s", ErrProcessTerminated, proc)
		}
		p = &process{buffers: make(map[uint64]*entry)}
		c.procs[id.Process] = p
	}
	if e, ok := p.buffers[id.ID]; ok {
		e.buffer = buf
		return nil
	}
	if len(p.buffers) >= c.max {
		c.log.WithField("process", id.Process).Error("add: cache is full")
		return fmt.Errorf("%w: process %s holds %d buffers", ErrCacheFull, id.Process, c.max)
	}
	p.buffers[id.ID] = &entry{buffer: buf}
	return nil
}

// Get returns the buffer stored under id.
func (c *Cache) Get(id CacheID) (*bufq.GraphicBuffer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(id)
	if e == nil {
		return nil, false
	}
	return e.buffer, true
}

// Erase removes id and returns its buffer. Live recipients are notified
// after the entry is gone.
func (c *Cache) Erase(id CacheID) (*bufq.GraphicBuffer, bool) {
	c.mu.Lock()
	e := c.lookupLocked(id)
	if e == nil {
		c.mu.Unlock()
		c.log.WithField("id", id).Debug("erase: buffer not found")
		return nil, false
	}
	delete(c.procs[id.Process].buffers, id.ID)
	pending := liveRecipients(e.recipients)
	c.mu.Unlock()

	for _, s := range pending {
		s.recipient.BufferErased(id)
	}
	return e.buffer, true
}

// RegisterErasedRecipient subscribes r to the removal of id.
func (c *Cache) RegisterErasedRecipient(id CacheID, r ErasedRecipient) (*Subscription, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil recipient", bufq.ErrBadValue)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookupLocked(id)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s := &Subscription{id: id, recipient: r}
	e.recipients = append(e.recipients, s)
	return s, nil
}

// Unregister removes s from its entry and cancels it.
func (c *Cache) Unregister(s *Subscription) {
	if s == nil {
		return
	}
	s.Cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if e := c.lookupLocked(s.id); e != nil {
		e.recipients = slices.DeleteFunc(e.recipients, func(x *Subscription) bool { return x == s })
	}
}

// RemoveProcess erases every entry of process, notifying live recipients
// after the lock is released. Reports whether the process was known.
func (c *Cache) RemoveProcess(process uuid.UUID) bool {
	type notice struct {
		s  *Subscription
		id CacheID
	}
	var pending []notice

	c.mu.Lock()
	p, ok := c.procs[process]
	if !ok {
		c.mu.Unlock()
		return false
	}
	for _, id := range slices.Sorted(maps.Keys(p.buffers)) {
		for _, s := range liveRecipients(p.buffers[id].recipients) {
			pending = append(pending, notice{s, CacheID{Process: process, ID: id}})
		}
	}
	delete(c.procs, process)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"process": process, "buffers": len(p.buffers)}).Info("process removed from cache")
	for _, n := range pending {
		n.s.recipient.BufferErased(n.id)
	}
	return true
}

// Len returns the number of cached buffers across all processes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, p := range c.procs {
		n += len(p.buffers)
	}
	return n
}

// Dump writes one line per process and one per cached buffer.
func (c *Cache) Dump(w io.Writer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	procs := slices.SortedFunc(maps.Keys(c.procs), func(a, b uuid.UUID) int {
		return slices.Compare(a[:], b[:])
	})
	for _, proc := range procs {
		if _, err := fmt.Fprintf(w, " Cache owner: %s\n", proc); err != nil {
			return err
		}
		p := c.procs[proc]
		for _, id := range slices.Sorted(maps.Keys(p.buffers)) {
			b := p.buffers[id].buffer
			if _, err := fmt.Fprintf(w, "\tID: %d, size: %dx%d\n", id, b.Width, b.Height); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *Cache) lookupLocked(id CacheID) *entry {
	p, ok := c.procs[id.Process]
	if !ok {
		return nil
	}
	return p.buffers[id.ID]
}

func liveRecipients(subs []*Subscription) []*Subscription {
	var out []*Subscription
	for _, s := range subs {
		if s.live() {
			out = append(out, s)
		}
	}
	return out
}

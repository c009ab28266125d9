// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package sim drives a producer and a consumer over one BufferQueue.
package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/bufq"
	"code.hybscloud.com/bufq/clientcache"
	"code.hybscloud.com/bufq/trace"
	"code.hybscloud.com/iox"
	"github.com/gogpu/gputypes"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// durationWindow is how many frame durations go into one trace record.
const durationWindow = 16

// Config describes one simulation run.
type Config struct {
	Name   string
	Width  uint32
	Height uint32
	Format gputypes.TextureFormat

	MaxDequeued    int
	MaxAcquired    int
	Async          bool
	DequeueTimeout time.Duration

	Frames           int
	ProducerInterval time.Duration
	ConsumerInterval time.Duration
	// FenceDelay is how long after queueing the producer's fence signals.
	FenceDelay time.Duration
	// DetachEvery makes every Nth frame travel through detach and attach.
	// Zero disables it.
	DetachEvery int
}

// Result summarizes a run.
type Result struct {
	Produced      int
	Consumed      int
	Reallocations int
	Reattached    int
	Retries       int
	MaxBufferAge  uint64
	Elapsed       time.Duration
	Queue         bufq.Stats
	CachedBuffers int
	CacheErased   uint64
}

type consumerListener struct {
	available atomix.Uint64
	released  atomix.Uint64
}

func (l *consumerListener) OnFrameAvailable(bufq.BufferItem) { l.available.Add(1) }
func (l *consumerListener) OnBuffersReleased()               { l.released.Add(1) }

// Run executes the simulation until cfg.Frames frames have been queued or
// ctx is done.
func Run(ctx context.Context, cfg Config, log logrus.FieldLogger, tr *trace.Tracer) (Result, error) {
	if cfg.Frames <= 0 {
		return Result{}, fmt.Errorf("%w: frames must be positive", bufq.ErrBadValue)
	}
	b := bufq.New().
		Name(cfg.Name).
		DefaultSize(cfg.Width, cfg.Height).
		DefaultFormat(cfg.Format).
		ConsumerUsage(gputypes.TextureUsageTextureBinding).
		MaxAcquired(cfg.MaxAcquired).
		DequeueTimeout(cfg.DequeueTimeout).
		Logger(log).
		Tracer(tr)
	q := b.Build()

	live := clientcache.NewLiveness()
	cache := clientcache.New(clientcache.Config{Liveness: live, Logger: log})
	proc := uuid.New()

	listener := &consumerListener{}
	if err := q.ConsumerConnect(listener, false); err != nil {
		return Result{}, err
	}
	if _, err := q.Connect(nil, bufq.APICPU, false); err != nil {
		return Result{}, err
	}
	if err := q.SetMaxDequeuedBufferCount(cfg.MaxDequeued); err != nil {
		return Result{}, fmt.Errorf("max dequeued: %w", err)
	}
	if err := q.SetAsyncMode(cfg.Async); err != nil {
		return Result{}, fmt.Errorf("async mode: %w", err)
	}

	var (
		res       Result
		erased    atomix.Uint64
		done      atomix.Bool
		wg        sync.WaitGroup
		prodErr   error
		consErr   error
		consumed  int
		startTime = time.Now()
	)

	p := &producer{
		q:      q,
		cfg:    cfg,
		log:    log,
		cache:  cache,
		proc:   proc,
		erased: &erased,
	}

	// Disconnecting wakes a producer blocked in dequeue.
	stop := context.AfterFunc(ctx, func() {
		if err := q.Disconnect(bufq.APICPU); err != nil {
			log.WithError(err).Debug("disconnect on cancel")
		}
	})
	defer stop()

	wg.Add(2)
	go func() {
		defer wg.Done()
		defer done.Store(true)
		if err := p.run(ctx); err != nil && ctx.Err() == nil {
			prodErr = err
		}
	}()
	go func() {
		defer wg.Done()
		consumed, consErr = consume(ctx, q, cfg, tr, &done)
	}()
	wg.Wait()

	if err := q.Disconnect(bufq.APICPU); err != nil && !errors.Is(err, bufq.ErrNoInit) {
		log.WithError(err).Warn("disconnect failed")
	}
	res.CachedBuffers = cache.Len()
	live.ProcessTerminated(proc)
	if err := q.ConsumerDisconnect(); err != nil {
		log.WithError(err).Warn("consumer disconnect failed")
	}

	res.Produced = p.produced
	res.Consumed = consumed
	res.Reallocations = p.reallocations
	res.Reattached = p.reattached
	res.Retries = p.retries
	res.MaxBufferAge = p.maxAge
	res.Elapsed = time.Since(startTime)
	res.Queue = q.Stats()
	res.CacheErased = erased.Load()

	return res, errors.Join(prodErr, consErr)
}

type producer struct {
	q      *bufq.BufferQueue
	cfg    Config
	log    logrus.FieldLogger
	cache  *clientcache.Cache
	proc   uuid.UUID
	erased *atomix.Uint64

	produced      int
	reallocations int
	reattached    int
	retries       int
	maxAge        uint64
}

func (p *producer) run(ctx context.Context) error {
	backoff := iox.Backoff{}
	for p.produced < p.cfg.Frames {
		if err := ctx.Err(); err != nil {
			return nil
		}
		out, err := p.q.DequeueBuffer(bufq.DequeueBufferInput{})
		switch {
		case err == nil:
			backoff.Reset()
		case bufq.IsWouldBlock(err), errors.Is(err, bufq.ErrTimedOut), errors.Is(err, bufq.ErrInvalidOperation):
			p.retries++
			backoff.Wait()
			continue
		default:
			return fmt.Errorf("dequeue: %w", err)
		}
		p.maxAge = max(p.maxAge, out.BufferAge)

		slot := out.Slot
		if err := out.Fence.Wait(-1); err != nil {
			return fmt.Errorf("release fence: %w", err)
		}
		buf, err := p.q.RequestBuffer(slot)
		if err != nil {
			return fmt.Errorf("request: %w", err)
		}
		if out.NeedsReallocation {
			p.reallocations++
			p.remember(slot, buf)
		}

		if p.cfg.DetachEvery > 0 && (p.produced+1)%p.cfg.DetachEvery == 0 {
			if slot, err = p.reattach(slot, buf); err != nil {
				return err
			}
		}

		fence := bufq.NewSyncFence()
		time.AfterFunc(p.cfg.FenceDelay, fence.Signal)
		_, err = p.q.QueueBuffer(slot, bufq.QueueBufferInput{
			IsAutoTimestamp: true,
			Crop:            bufq.NewRect(buf.Width, buf.Height),
			ScalingMode:     bufq.ScalingModeFreeze,
			Fence:           fence,
		})
		if err != nil {
			return fmt.Errorf("queue slot %d: %w", slot, err)
		}
		p.produced++

		if p.cfg.ProducerInterval > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(p.cfg.ProducerInterval):
			}
		}
	}
	return nil
}

// remember caches buf under its slot number, replacing the previous
// occupant.
func (p *producer) remember(slot int, buf *bufq.GraphicBuffer) {
	id := clientcache.CacheID{Process: p.proc, ID: uint64(slot)}
	p.cache.Erase(id)
	if err := p.cache.Add(id, buf); err != nil {
		p.log.WithError(err).Warn("client cache add failed")
		return
	}
	if _, err := p.cache.RegisterErasedRecipient(id, clientcache.ErasedFunc(func(clientcache.CacheID) {
		p.erased.Add(1)
	})); err != nil {
		p.log.WithError(err).Warn("client cache subscribe failed")
	}
}

// reattach moves buf out of the queue and back in, possibly into a
// different slot.
func (p *producer) reattach(slot int, buf *bufq.GraphicBuffer) (int, error) {
	if err := p.q.DetachBuffer(slot); err != nil {
		return bufq.InvalidSlot, fmt.Errorf("detach slot %d: %w", slot, err)
	}
	p.cache.Erase(clientcache.CacheID{Process: p.proc, ID: uint64(slot)})
	out, err := p.q.AttachBuffer(buf)
	if err != nil {
		return bufq.InvalidSlot, fmt.Errorf("attach: %w", err)
	}
	p.reattached++
	p.remember(out.Slot, buf)
	return out.Slot, nil
}

func consume(ctx context.Context, q *bufq.BufferQueue, cfg Config, tr *trace.Tracer, done *atomix.Bool) (int, error) {
	var (
		consumed  int
		last      time.Time
		durations = make([]int32, 0, durationWindow)
		backoff   = iox.Backoff{}
	)
	defer func() {
		tr.LogFrameDurations(cfg.Name, durations)
	}()

	for ctx.Err() == nil {
		item, err := q.AcquireBuffer()
		if err != nil {
			if !bufq.IsWouldBlock(err) {
				return consumed, fmt.Errorf("acquire: %w", err)
			}
			if done.Load() && q.Pending() == 0 {
				return consumed, nil
			}
			backoff.Wait()
			continue
		}
		backoff.Reset()

		if err := item.Fence.Wait(-1); err != nil {
			return consumed, fmt.Errorf("acquire fence: %w", err)
		}
		if cfg.ConsumerInterval > 0 {
			time.Sleep(cfg.ConsumerInterval)
		}
		if err := q.ReleaseBuffer(item.Slot, item.FrameNumber, bufq.NoFence); err != nil {
			return consumed, fmt.Errorf("release slot %d: %w", item.Slot, err)
		}
		consumed++

		now := time.Now()
		if !last.IsZero() {
			durations = append(durations, int32(now.Sub(last).Milliseconds()))
			if len(durations) == durationWindow {
				tr.LogFrameDurations(cfg.Name, durations)
				durations = durations[:0]
			}
		}
		last = now
	}
	return consumed, nil
}

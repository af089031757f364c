package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ecoachlabs/ideamind-sub006/pkg/checkpoint"
	"github.com/ecoachlabs/ideamind-sub006/pkg/config"
	"github.com/ecoachlabs/ideamind-sub006/pkg/executor"
	"github.com/ecoachlabs/ideamind-sub006/pkg/observability"
	"github.com/ecoachlabs/ideamind-sub006/pkg/streamqueue"
	"github.com/ecoachlabs/ideamind-sub006/pkg/taskrepo"
)

// workerHandle is what the pool keeps per spawned Worker: the means
// to stop it and learn when it actually has.
type workerHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Pool owns the consumer loops: it spawns, scales and retires Workers
// against a single queue topic and consumer group, the way a
// supervising goroutine fans out over an errgroup, except individual
// members can be retired without tearing down the whole group.
type Pool struct {
	repo        *taskrepo.Store
	checkpoints *checkpoint.Manager
	executors   *executor.Registry
	queue       *streamqueue.Queue
	cfg         config.WorkerConfig
	obs         *observability.Manager

	topic         string
	consumerGroup string

	mu            sync.Mutex
	running       bool
	workers       map[string]workerHandle
	seq           int
	eg            *errgroup.Group
	egCtx         context.Context
	cancelPool    context.CancelFunc
	stopAutoScale chan struct{}
	autoScaleWG   sync.WaitGroup
}

// NewPool constructs a Pool consuming topic "tasks" under consumerGroup
// ("phase-workers" if empty).
func NewPool(repo *taskrepo.Store, checkpoints *checkpoint.Manager, executors *executor.Registry, queue *streamqueue.Queue, cfg config.WorkerConfig, consumerGroup string) *Pool {
	if consumerGroup == "" {
		consumerGroup = "phase-workers"
	}
	return &Pool{
		repo:          repo,
		checkpoints:   checkpoints,
		executors:     executors,
		queue:         queue,
		cfg:           cfg,
		topic:         "tasks",
		consumerGroup: consumerGroup,
	}
}

// WithObservability attaches a Manager used to trace and instrument
// every Worker this Pool spawns. Nil is safe and disables both.
func (p *Pool) WithObservability(obs *observability.Manager) *Pool {
	p.obs = obs
	return p
}

// defaultConcurrency is min(CPU_COUNT, 4).
func defaultConcurrency() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	if n < 1 {
		return 1
	}
	return n
}

// Start connects the queue, spawns the configured number of Workers
// (defaulting to defaultConcurrency), and starts auto-scaling if enabled.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker: pool already running")
	}
	if err := p.queue.EnsureGroup(p.topic, p.consumerGroup); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("worker: ensure group %s/%s: %w", p.topic, p.consumerGroup, err)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	eg, egCtx := errgroup.WithContext(poolCtx)
	p.eg = eg
	p.egCtx = egCtx
	p.cancelPool = cancel
	p.workers = make(map[string]workerHandle)
	p.running = true

	target := p.cfg.PoolSize
	if target <= 0 {
		target = defaultConcurrency()
	}
	for i := 0; i < target; i++ {
		p.spawnWorkerLocked()
	}
	p.mu.Unlock()

	if p.cfg.AutoScale {
		p.stopAutoScale = make(chan struct{})
		p.autoScaleWG.Add(1)
		go p.autoScaleLoop()
	}
	return nil
}

// spawnWorkerLocked must be called with p.mu held.
func (p *Pool) spawnWorkerLocked() {
	p.seq++
	id := fmt.Sprintf("%s-%d", p.consumerGroup, p.seq)

	wCtx, cancel := context.WithCancel(p.egCtx)
	done := make(chan struct{})
	p.workers[id] = workerHandle{cancel: cancel, done: done}

	w := New(id, p.repo, p.checkpoints, p.executors, p.queue).WithObservability(p.obs)
	p.eg.Go(func() error {
		defer close(done)
		err := p.queue.Consume(wCtx, p.topic, p.consumerGroup, id, w.Handle)
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			slog.Warn("worker: consume loop exited with error", "worker_id", id, "error", err)
		}
		return nil
	})
}

// Scale adds/removes workers to converge to targetSize, clamped to
// [MinWorkers, MaxWorkers] when those are configured. Removal cancels
// the worker's consume loop (stopConsumer) then awaits ShutdownGracePeriod
// for the in-flight handler to return.
func (p *Pool) Scale(targetSize int) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker: pool is not running")
	}
	if p.cfg.MinWorkers > 0 && targetSize < p.cfg.MinWorkers {
		targetSize = p.cfg.MinWorkers
	}
	if p.cfg.MaxWorkers > 0 && targetSize > p.cfg.MaxWorkers {
		targetSize = p.cfg.MaxWorkers
	}

	current := len(p.workers)
	var toStop []workerHandle
	switch {
	case targetSize > current:
		for i := 0; i < targetSize-current; i++ {
			p.spawnWorkerLocked()
		}
	case targetSize < current:
		n := current - targetSize
		for id, h := range p.workers {
			if n == 0 {
				break
			}
			toStop = append(toStop, h)
			delete(p.workers, id)
			n--
		}
	}
	grace := p.cfg.ShutdownGracePeriod
	p.mu.Unlock()

	for _, h := range toStop {
		h.cancel()
	}
	waitGrace(toStop, grace)
	return nil
}

// Size returns the current worker count.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// Stop flips the running flag, stops every consumer, waits a grace
// interval for in-flight handlers, then tears down the pool's context.
func (p *Pool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false

	handles := make([]workerHandle, 0, len(p.workers))
	for _, h := range p.workers {
		handles = append(handles, h)
	}
	p.workers = nil

	stopAutoScale := p.stopAutoScale
	p.stopAutoScale = nil
	grace := p.cfg.ShutdownGracePeriod
	cancelPool := p.cancelPool
	p.mu.Unlock()

	if stopAutoScale != nil {
		close(stopAutoScale)
		p.autoScaleWG.Wait()
	}

	for _, h := range handles {
		h.cancel()
	}
	waitGrace(handles, grace)

	cancelPool()
	return p.eg.Wait()
}

func waitGrace(handles []workerHandle, grace time.Duration) {
	if grace <= 0 {
		grace = 2 * time.Second
	}
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func(done chan struct{}) {
			defer wg.Done()
			select {
			case <-done:
			case <-time.After(grace):
			}
		}(h.done)
	}
	wg.Wait()
}

// autoScaleLoop evaluates queue depth against worker count on a fixed
// tick: depth>5w ∧ w<maxWorkers scales up by one; depth<2w ∧ w>minWorkers
// scales down by one.
func (p *Pool) autoScaleLoop() {
	defer p.autoScaleWG.Done()

	interval := p.cfg.AutoScaleInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopAutoScale:
			return
		case <-ticker.C:
			if err := p.autoScaleTick(); err != nil {
				slog.Warn("worker: autoscale tick failed", "error", err)
			}
		}
	}
}

func (p *Pool) autoScaleTick() error {
	depth, err := p.queue.GetQueueDepth(context.Background(), p.topic)
	if err != nil {
		return fmt.Errorf("worker: autoscale queue depth: %w", err)
	}
	p.obs.Metrics().SetQueueDepth(p.topic, depth)

	p.mu.Lock()
	w := len(p.workers)
	maxWorkers := p.cfg.MaxWorkers
	minWorkers := p.cfg.MinWorkers
	p.mu.Unlock()

	if w == 0 {
		return nil
	}
	switch {
	case depth > int64(5*w) && (maxWorkers <= 0 || w < maxWorkers):
		return p.Scale(w + 1)
	case depth < int64(2*w) && w > minWorkers:
		return p.Scale(w - 1)
	}
	return nil
}

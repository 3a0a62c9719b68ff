package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/stackclass/backend/internal/platform/logger"
)

// Processor consumes one push event end to end. Implementations never
// return an error: every failure mode ends in a log line, a dead
// letter, or both, so the dispatcher has nothing to do with one.
type Processor interface {
	Process(ctx context.Context, ev PushEvent)
}

// Intake is the enqueue-only view handed to the git gateway and the
// webhook handler.
type Intake interface {
	Enqueue(ev PushEvent)
}

// Dispatcher fans events out to one drainer goroutine per enrollment.
// Events for the same enrollment are processed strictly in arrival
// order; distinct enrollments proceed in parallel without a cap. A
// drainer exits as soon as its queue is empty, so idle enrollments
// cost nothing.
type Dispatcher struct {
	log  *logger.Logger
	proc Processor

	mu     sync.Mutex
	queues map[uuid.UUID][]PushEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewDispatcher(proc Processor, baseLog *logger.Logger) *Dispatcher {
	return &Dispatcher{
		log:    baseLog.With("component", "PushDispatcher"),
		proc:   proc,
		queues: make(map[uuid.UUID][]PushEvent),
	}
}

// Start arms the dispatcher. Events enqueued before Start are dropped,
// matching the delivery contract: intake is fire-and-forget and the
// pipeline only promises at-least-once handling while running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ctx != nil {
		return
	}
	d.ctx, d.cancel = context.WithCancel(ctx)
}

// Stop cancels in-flight processing and waits for every drainer to
// exit. Queued events that were not reached are dropped with a log
// line; replays arrive on the next push anyway.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.cancel == nil {
		d.mu.Unlock()
		return
	}
	d.cancel()
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) Enqueue(ev PushEvent) {
	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		d.log.Warn("dispatcher not running, push event dropped",
			"enrollment_id", ev.EnrollmentID, "ref", ev.Ref)
		return
	}

	pending, owned := d.queues[ev.EnrollmentID]
	d.queues[ev.EnrollmentID] = append(pending, ev)
	if !owned {
		d.wg.Add(1)
		go d.drain(ev.EnrollmentID)
	}
	d.mu.Unlock()
}

// drain owns the queue for one enrollment: the map entry exists exactly
// as long as this goroutine runs, which is what keeps per-enrollment
// ordering strict.
func (d *Dispatcher) drain(key uuid.UUID) {
	defer d.wg.Done()
	for {
		d.mu.Lock()
		queue := d.queues[key]
		if len(queue) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		if d.ctx.Err() != nil {
			delete(d.queues, key)
			d.mu.Unlock()
			d.log.Warn("dispatcher stopping, queued push events dropped",
				"enrollment_id", key, "dropped", len(queue))
			return
		}
		ev := queue[0]
		d.queues[key] = queue[1:]
		d.mu.Unlock()

		d.handle(ev)
	}
}

// If the processor panics we log and move on to the next event; one
// poisoned push must not wedge the enrollment's queue.
func (d *Dispatcher) handle(ev PushEvent) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("push processor panic",
				"enrollment_id", ev.EnrollmentID, "ref", ev.Ref, "after", ev.After, "panic", r)
		}
	}()
	d.proc.Process(d.ctx, ev)
}

package workerfsm

import (
	"context"
	"sync"
	"time"

	"github.com/golem-go/golem/pkg/golem"
	"github.com/golem-go/golem/pkg/log"
	"github.com/golem-go/golem/pkg/metrics"
	"github.com/rs/zerolog"
)

// Dispatcher looks up (or cold-starts) the Worker for a component and
// delivers one invocation to it. The wasm host provides the concrete
// implementation; the scheduler only needs this narrow seam.
type Dispatcher interface {
	Dispatch(ctx context.Context, inv Invocation) error
}

// Scheduler drains each active component's invocation queue on a fixed
// tick, the Go counterpart of the teacher's pkg/scheduler ticker loop that
// reconciles desired vs actual container placement -- generalized here to
// reconcile "invocations queued" vs "invocations delivered" instead of
// "replicas desired" vs "containers running".
type Scheduler struct {
	queue      *InvocationQueue
	dispatcher Dispatcher
	logger     zerolog.Logger

	mu        sync.Mutex
	active    map[golem.ComponentId]struct{}
	stopCh    chan struct{}
	tickEvery time.Duration
}

// NewScheduler builds a Scheduler that dispatches via the given Dispatcher.
func NewScheduler(queue *InvocationQueue, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		queue:      queue,
		dispatcher: dispatcher,
		logger:     log.WithComponent("workerfsm-scheduler"),
		active:     make(map[golem.ComponentId]struct{}),
		stopCh:     make(chan struct{}),
		tickEvery:  250 * time.Millisecond,
	}
}

// Watch registers componentId as having a non-empty queue worth polling.
// The invocation queue is swept lazily: a component only needs watching
// once an Enqueue has actually happened for it.
func (s *Scheduler) Watch(componentId golem.ComponentId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[componentId] = struct{}{}
}

// Start begins the scheduler loop in a background goroutine.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the scheduler loop.
func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.tickEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *Scheduler) sweep() {
	s.mu.Lock()
	components := make([]golem.ComponentId, 0, len(s.active))
	for c := range s.active {
		components = append(components, c)
	}
	s.mu.Unlock()

	ctx := context.Background()
	for _, componentId := range components {
		for {
			inv, ok, err := s.queue.Dequeue(ctx, componentId)
			if err != nil {
				s.logger.Error().Err(err).Str("component", componentId.UUID.String()).Msg("failed to dequeue invocation")
				break
			}
			if !ok {
				break
			}
			timer := metrics.NewTimer()
			err = s.dispatcher.Dispatch(ctx, inv)
			timer.ObserveDurationVec(metrics.InvocationDuration, inv.FunctionName)
			if err != nil {
				metrics.InvocationsTotal.WithLabelValues("error").Inc()
				s.logger.Error().Err(err).Str("function", inv.FunctionName).Msg("invocation dispatch failed")
				continue
			}
			metrics.InvocationsTotal.WithLabelValues("success").Inc()
		}
	}
}

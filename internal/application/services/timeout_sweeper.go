package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/approveflow/backend/internal/domain/ports"
	"github.com/approveflow/backend/pkg/constants"
)

// TimeoutSweeper periodically scans for overdue tasks and hands each one to
// the executor's timeout handler. One sweep failure never stops the rest of
// the batch; every task is retried on the next sweep until its node acts.
type TimeoutSweeper struct {
	store    ports.TaskStore
	executor *WorkflowExecutor
	cron     *cron.Cron
	spec     string
	batch    int
	now      func() time.Time

	mu      sync.Mutex
	running bool
}

// NewTimeoutSweeper creates a new TimeoutSweeper. An empty spec falls back
// to an every-minute sweep.
func NewTimeoutSweeper(store ports.TaskStore, executor *WorkflowExecutor, spec string) *TimeoutSweeper {
	if spec == "" {
		spec = "@every 1m"
	}
	return &TimeoutSweeper{
		store:    store,
		executor: executor,
		cron:     cron.New(),
		spec:     spec,
		batch:    constants.TimeoutSweepBatchSize,
		now:      time.Now,
	}
}

// Start schedules the sweep loop and runs one sweep immediately so overdue
// tasks are handled right after a restart.
func (s *TimeoutSweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return err
	}
	s.cron.Start()
	s.running = true
	log.Printf("⏰ Timeout sweeper started (schedule %s)", s.spec)

	go s.Sweep(context.Background())
	return nil
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *TimeoutSweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	log.Println("⏰ Timeout sweeper stopped")
}

// Sweep processes one batch of overdue tasks. Exposed for tests and for a
// manual admin trigger.
func (s *TimeoutSweeper) Sweep(ctx context.Context) {
	due, err := s.store.ListDueTasks(ctx, s.now(), s.batch)
	if err != nil {
		log.Printf("❌ Timeout sweep failed to list due tasks: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	handled := 0
	for _, task := range due {
		if err := s.executor.HandleTimeout(ctx, task.ID); err != nil {
			// Lost CAS races and concurrent completions are expected here.
			log.Printf("⚠️ Timeout handling failed for task %s: %v", task.ID, err)
			continue
		}
		handled++
	}
	log.Printf("⏰ Timeout sweep handled %d/%d due tasks", handled, len(due))
}

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/voxnote/internal/model"
)

type Claimer interface {
	ClaimNext(ctx context.Context, now int64) (*model.Job, error)
}

// Pool runs a fixed number of workers that poll the durable queue and hand
// claimed jobs to the orchestrator. Claim contention between workers is
// resolved in the database, so workers share no state here.
type Pool struct {
	claimer      Claimer
	orchestrator *Orchestrator
	workers      int
	pollInterval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPool(claimer Claimer, orchestrator *Orchestrator, workers int, pollInterval time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Pool{
		claimer:      claimer,
		orchestrator: orchestrator,
		workers:      workers,
		pollInterval: pollInterval,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	logutil.GetLogger(ctx).Info("worker pool started",
		zap.Int("workers", p.workers),
		zap.Duration("poll_interval", p.pollInterval))
}

// Stop drains the pool: in-flight jobs finish, no new jobs are claimed.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, worker int) {
	defer p.wg.Done()
	logger := logutil.GetLogger(ctx).With(zap.Int("worker", worker))
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		job, err := p.claimer.ClaimNext(ctx, nowMillis())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("claim job failed", zap.Error(err))
		} else if job != nil {
			p.orchestrator.Execute(ctx, job)
			// drain eagerly while the queue has runnable work
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/kacperjurak/lawfit/pkg/models"
	"github.com/kacperjurak/lawfit/pkg/profiling"
)

// ErrShutdown is returned when jobs are submitted to a stopped pool.
var ErrShutdown = errors.New("worker pool is shut down")

// Pool manages concurrent fitting workers
type Pool struct {
	jobs      chan task
	workers   int
	shutdown  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	processor ProcessorFunc
	profile   bool
	stats     *profiling.FitStats
}

// ProcessorFunc defines the signature for fitting one target
type ProcessorFunc func(job models.FitJob) models.FitOutcome

// Options holds configuration for creating a new worker pool
type Options struct {
	Workers   int
	Processor ProcessorFunc
	// Profile logs per-fit timing and memory.
	Profile bool
	// Stats receives a timing for every job. It may be nil.
	Stats *profiling.FitStats
}

type task struct {
	job   models.FitJob
	reply chan<- models.FitOutcome
}

// New creates a new worker pool with specified configuration
func New(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}

	pool := &Pool{
		jobs:      make(chan task, opts.Workers*2),
		workers:   opts.Workers,
		shutdown:  make(chan struct{}),
		processor: opts.Processor,
		profile:   opts.Profile,
		stats:     opts.Stats,
	}

	pool.start()
	return pool
}

// start initializes and starts all workers
func (p *Pool) start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	log.Printf("🔧 Worker pool started with %d workers", p.workers)
}

// worker processes fitting jobs from the jobs channel
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case t := <-p.jobs:
			t.reply <- p.processJob(id, t.job)
		case <-p.shutdown:
			return
		}
	}
}

func (p *Pool) processJob(id int, job models.FitJob) (outcome models.FitOutcome) {
	fp := profiling.StartFit(id, targetOf(job), paramsOf(job), p.profile)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("❌ Worker[%d] panicked on job %d: %v", id, job.ID, r)
			outcome = models.FitOutcome{
				ID:        job.ID,
				RequestID: job.RequestID,
				Target:    targetOf(job),
				Err:       fmt.Errorf("worker panic: %v", r),
			}
		}
		p.stats.Record(fp.Finish(outcome.Success))
	}()
	return p.processor(job)
}

func targetOf(job models.FitJob) string {
	if job.Model == nil {
		return ""
	}
	return job.Model.Target
}

func paramsOf(job models.FitJob) int {
	if job.Model == nil {
		return 0
	}
	return len(job.Model.InitialParams())
}

// SubmitJob queues a job whose outcome is delivered on reply
func (p *Pool) SubmitJob(ctx context.Context, job models.FitJob, reply chan<- models.FitOutcome) error {
	t := task{job: job, reply: reply}
	select {
	case p.jobs <- t:
		return nil
	default:
		log.Printf("⚠️  Worker pool jobs channel full, job may be delayed")
	}
	select {
	case p.jobs <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-p.shutdown:
		return ErrShutdown
	}
}

// Run submits jobs and waits for all outcomes. Outcomes are returned in the
// order of jobs.
func (p *Pool) Run(ctx context.Context, jobs []models.FitJob) ([]models.FitOutcome, error) {
	reply := make(chan models.FitOutcome, len(jobs))
	index := make(map[int]int, len(jobs))
	for i, job := range jobs {
		index[job.ID] = i
	}

	submitted := 0
	for _, job := range jobs {
		if err := p.SubmitJob(ctx, job, reply); err != nil {
			return nil, err
		}
		submitted++
	}

	out := make([]models.FitOutcome, len(jobs))
	for received := 0; received < submitted; received++ {
		select {
		case o := <-reply:
			out[index[o.ID]] = o
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return out, nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown() {
	p.closeOnce.Do(func() {
		log.Printf("🛑 Shutting down worker pool...")
		close(p.shutdown)
		p.wg.Wait()
		log.Printf("✅ Worker pool shutdown complete")
	})
}

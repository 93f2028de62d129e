package queries

import (
	"context"

	"github.com/rs/zerolog/log"
)

// job is one queued background run: its definition, its persisted Run
// record, and the already variable-injected pipeline to execute.
type job struct {
	query    *Query
	run      *Run
	pipeline []any
}

// Worker is the bounded background pool spec §5 names: "a single logical
// worker (or bounded pool) dequeues pending QueryRuns, executes them, and
// advances the state machine". Jobs are handed off in-process via a
// buffered channel rather than re-polled from the query_runs table, since
// the injected pipeline (runtime variables already substituted) has no
// column to persist to — a crash between CreateRun and a worker picking
// the job up leaves it stranded in pending, which is consistent with
// spec §5's "no at-least-once delivery guarantee between process
// crashes".
type Worker struct {
	engine   *Engine
	jobs     chan job
	poolSize int
}

// NewWorker constructs a Worker with the given pool size and queue depth.
func NewWorker(engine *Engine, poolSize, queueDepth int) *Worker {
	if poolSize < 1 {
		poolSize = 1
	}
	if queueDepth < 1 {
		queueDepth = 1
	}
	return &Worker{engine: engine, jobs: make(chan job, queueDepth), poolSize: poolSize}
}

// Start fails every run still RunRunning (spec §5: a restart finds no
// in-memory job for them, so the ledger must be corrected rather than
// left silently stuck) and spawns poolSize goroutines draining the job
// queue until ctx is canceled.
func (w *Worker) Start(ctx context.Context) {
	if n, err := w.engine.store.FailRunningRuns(ctx, "worker restarted while run was in progress"); err != nil {
		log.Error().Err(err).Msg("failing orphaned running query runs")
	} else if n > 0 {
		log.Warn().Int64("count", n).Msg("failed orphaned running query runs on startup")
	}

	for i := 0; i < w.poolSize; i++ {
		go w.loop(ctx)
	}
}

func (w *Worker) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			w.engine.execute(ctx, j.run.Requester, j.query, j.run, j.pipeline)
		}
	}
}

// Enqueue hands a job to the pool, returning false if the queue is full —
// the caller (Engine.Submit) surfaces that as DatabaseError rather than
// blocking the request indefinitely.
func (w *Worker) Enqueue(query *Query, run *Run, injectedPipeline []any) bool {
	select {
	case w.jobs <- job{query: query, run: run, pipeline: injectedPipeline}:
		return true
	default:
		return false
	}
}

package async

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/logger"
)

// Committer persists one batch atomically: every item or none.
// Implementations own connections, statements and transactions.
type Committer[T any] interface {
	CommitBatch(ctx context.Context, batch *Batch[T]) error
}

// CommitterFunc adapts a function to the Committer interface
type CommitterFunc[T any] func(ctx context.Context, batch *Batch[T]) error

// CommitBatch calls f(ctx, batch)
func (f CommitterFunc[T]) CommitBatch(ctx context.Context, batch *Batch[T]) error {
	return f(ctx, batch)
}

// pulseLogger separates pipeline lifecycle lines by glyph:
// ✿ for startup, ❀ for drain and shutdown, ꩜ for batch traffic.
type pulseLogger struct {
	open  *zap.SugaredLogger
	close *zap.SugaredLogger
	pulse *zap.SugaredLogger
}

func newPulseLogger(base *zap.SugaredLogger) pulseLogger {
	named := base.Named("pulse")
	return pulseLogger{
		open:  logger.AddPulseOpenSymbol(named),
		close: logger.AddPulseCloseSymbol(named),
		pulse: logger.AddPulseSymbol(named),
	}
}

// PipelineConfig sizes the commit pipeline. Zero values are replaced by
// defaults derived from the host (see DefaultWorkers).
type PipelineConfig struct {
	BatchSize        int     `json:"batch_size"`         // items per batch
	Workers          int     `json:"workers"`            // concurrent committers
	QueueDepth       int     `json:"queue_depth"`        // max sealed, unreaped batches
	DrainEvery       int     `json:"drain_every"`        // submissions between non-blocking drains
	CommitsPerSecond float64 `json:"commits_per_second"` // 0 = unthrottled
}

// WithDefaults fills zero fields
func (c PipelineConfig) WithDefaults() PipelineConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers()
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 2 * c.Workers
	}
	if c.DrainEvery <= 0 {
		c.DrainEvery = 4 * c.Workers
	}
	return c
}

// MaxResident is the backpressure bound: items held by the pipeline
// (filling, queued, committing or awaiting reap) never exceed it.
func (c PipelineConfig) MaxResident() int {
	return c.QueueDepth * c.BatchSize
}

// Stats summarises a pipeline run
type Stats struct {
	Submitted     int64 `json:"submitted"`
	Batches       int64 `json:"batches"`
	BatchesFailed int64 `json:"batches_failed"`
	Committed     int64 `json:"committed"`
	Failed        int64 `json:"failed"`
	PeakResident  int   `json:"peak_resident"`
}

// Pipeline groups submitted items into batches and commits them on a fixed
// pool of workers.
//
// Submit, Drain and Close must be called from a single goroutine (the
// producer). Completed batches travel back to the producer over a channel
// and are handed to the onDone callback there, so callers never need locks.
type Pipeline[T any] struct {
	cfg       PipelineConfig
	committer Committer[T]
	onDone    func(*Batch[T])
	limiter   *rate.Limiter
	logger    pulseLogger

	jobs  chan *Batch[T]
	done  chan *Batch[T]
	group errgroup.Group

	current  *Batch[T]
	nextID   int64
	inflight int // sealed batches not yet reaped
	resident int // items in current + inflight batches
	started  bool
	closed   bool
	stats    Stats
}

// NewPipeline creates a pipeline. onDone may be nil.
func NewPipeline[T any](cfg PipelineConfig, committer Committer[T], onDone func(*Batch[T]), log *zap.SugaredLogger) *Pipeline[T] {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	var limiter *rate.Limiter
	if cfg.CommitsPerSecond > 0 {
		burst := cfg.Workers
		limiter = rate.NewLimiter(rate.Limit(cfg.CommitsPerSecond), burst)
	}

	p := &Pipeline[T]{
		cfg:       cfg,
		committer: committer,
		onDone:    onDone,
		limiter:   limiter,
		logger:    newPulseLogger(log),
		// inflight never exceeds QueueDepth, so neither channel blocks its sender
		jobs: make(chan *Batch[T], cfg.QueueDepth),
		done: make(chan *Batch[T], cfg.QueueDepth),
	}
	p.current = p.newBatch()
	return p
}

// Config returns the effective configuration
func (p *Pipeline[T]) Config() PipelineConfig {
	return p.cfg
}

// Start launches the committer workers.
// ctx cancellation fails batches that have not started; a batch already
// handed to the committer runs to completion.
func (p *Pipeline[T]) Start(ctx context.Context) {
	if p.started {
		return
	}
	p.started = true

	if warning := checkMemoryPressure(p.cfg); warning != "" {
		p.logger.open.Warnw("Memory pressure warning", "warning", warning, logger.FieldWorkers, p.cfg.Workers)
	}

	p.logger.open.Debugw("Starting commit pipeline",
		logger.FieldWorkers, p.cfg.Workers,
		logger.FieldBatchSize, p.cfg.BatchSize,
		logger.FieldQueueDepth, p.cfg.QueueDepth,
		"max_resident", p.cfg.MaxResident(),
	)

	for i := 0; i < p.cfg.Workers; i++ {
		id := i
		p.group.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}
	workersGauge.Set(float64(p.cfg.Workers))
}

// Submit adds item to the current batch, blocking while the pipeline already
// holds MaxResident items. It returns only ctx errors or misuse errors.
func (p *Pipeline[T]) Submit(ctx context.Context, item T) error {
	if !p.started {
		return errors.New("pipeline not started")
	}
	if p.closed {
		return errors.New("pipeline closed")
	}

	// Backpressure: wait for a committer to hand a batch back
	for p.resident >= p.cfg.MaxResident() {
		if err := p.reapOne(ctx); err != nil {
			return err
		}
	}

	p.current.Items = append(p.current.Items, item)
	p.resident++
	p.stats.Submitted++
	if p.resident > p.stats.PeakResident {
		p.stats.PeakResident = p.resident
	}
	residentGauge.Set(float64(p.resident))

	if p.current.Len() >= p.cfg.BatchSize {
		p.dispatch()
	}
	if p.stats.Submitted%int64(p.cfg.DrainEvery) == 0 {
		p.Drain()
	}
	return nil
}

// Drain reaps every batch that has already completed without blocking.
// Returns the number of batches reaped.
func (p *Pipeline[T]) Drain() int {
	n := 0
	for {
		select {
		case b := <-p.done:
			p.reap(b)
			n++
		default:
			return n
		}
	}
}

// Close flushes the partial batch, waits for every outstanding batch and
// stops the workers. It always waits: batches are never abandoned.
func (p *Pipeline[T]) Close() Stats {
	if p.closed {
		return p.stats
	}
	p.closed = true

	if p.current.Len() > 0 {
		p.dispatch()
	}
	close(p.jobs)

	p.logger.close.Debugw("Draining commit pipeline", "inflight", p.inflight)
	for p.inflight > 0 {
		p.reap(<-p.done)
	}
	_ = p.group.Wait()
	workersGauge.Set(0)

	p.logger.close.Infow("Commit pipeline closed",
		"batches", p.stats.Batches,
		"batches_failed", p.stats.BatchesFailed,
		"committed", p.stats.Committed,
		"failed", p.stats.Failed,
		"peak_resident", p.stats.PeakResident,
	)
	return p.stats
}

// Stats returns counters for batches reaped so far
func (p *Pipeline[T]) Stats() Stats {
	return p.stats
}

// Resident returns the number of items currently held by the pipeline
func (p *Pipeline[T]) Resident() int {
	return p.resident
}

func (p *Pipeline[T]) newBatch() *Batch[T] {
	p.nextID++
	return newBatch[T](p.nextID, p.cfg.BatchSize)
}

func (p *Pipeline[T]) dispatch() {
	b := p.current
	b.seal()
	p.inflight++
	p.jobs <- b
	p.current = p.newBatch()
}

func (p *Pipeline[T]) reapOne(ctx context.Context) error {
	if p.inflight == 0 {
		return errors.AssertionFailedf("backpressure with no batch in flight (resident=%d)", p.resident)
	}
	select {
	case b := <-p.done:
		p.reap(b)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline[T]) reap(b *Batch[T]) {
	p.inflight--
	p.resident -= b.Len()
	residentGauge.Set(float64(p.resident))

	p.stats.Batches++
	n := int64(b.Len())
	if err := b.Err(); err != nil {
		p.stats.BatchesFailed++
		p.stats.Failed += n
		batchesFailedCounter.Inc()
		itemsFailedCounter.Add(float64(n))

		ec := ClassifyError("commit", err)
		p.logger.pulse.Warnw("Batch commit failed",
			logger.FieldBatchID, b.ID,
			logger.FieldBatchSize, b.Len(),
			logger.FieldErrorCode, ec.Code,
			logger.FieldError, err,
		)
	} else {
		p.stats.Committed += n
		batchesCommittedCounter.Inc()
		itemsCommittedCounter.Add(float64(n))
		p.logger.pulse.Debugw("Batch committed",
			logger.FieldBatchID, b.ID,
			logger.FieldBatchSize, b.Len(),
			"worker_id", b.worker,
			logger.FieldDurationMS, b.Duration().Milliseconds(),
		)
	}

	if p.onDone != nil {
		p.onDone(b)
	}
}

// worker commits batches until the jobs channel is closed
func (p *Pipeline[T]) worker(ctx context.Context, id int) {
	for b := range p.jobs {
		b.start(id)
		b.finish(p.commit(ctx, b))
		commitDuration.Observe(b.Duration().Seconds())
		p.done <- b
	}
}

func (p *Pipeline[T]) commit(ctx context.Context, b *Batch[T]) (err error) {
	if err := ctx.Err(); err != nil {
		return p.markCommit(b, errors.Wrap(err, "batch not started"))
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return p.markCommit(b, errors.Wrap(err, "commit throttle"))
		}
	}

	defer func() {
		if r := recover(); r != nil {
			err = p.markCommit(b, errors.Newf("committer panic: %v", r))
		}
	}()

	// A started batch runs to completion even if the run is interrupted
	start := time.Now()
	if err := p.committer.CommitBatch(context.WithoutCancel(ctx), b); err != nil {
		return p.markCommit(b, err)
	}
	if elapsed := time.Since(start); elapsed > slowCommitThreshold {
		p.logger.pulse.Infow("Slow batch commit", logger.FieldBatchID, b.ID, logger.FieldElapsed, elapsed)
	}
	return nil
}

// slowCommitThreshold flags commits that will eventually stall the producer
const slowCommitThreshold = 10 * time.Second

func (p *Pipeline[T]) markCommit(b *Batch[T], err error) error {
	err = errors.WithDetail(errors.Wrapf(err, "commit batch %d", b.ID), fmt.Sprintf("batch_size=%d", b.Len()))
	return errors.Mark(err, errors.ErrCommit)
}

package dblp

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/logger"
	"github.com/teranos/dblpix/pulse"
	"github.com/teranos/dblpix/pulse/async"
)

const (
	// ProgressInterval defines how many assembled records pass between progress updates
	ProgressInterval = 10000
)

// Store is where a run ends up. It commits batches, seeds the identity map
// from rows an earlier run left behind, and keeps a row per run.
type Store interface {
	async.Committer[*LogicalRecord]
	LoadIdentities(ctx context.Context, ids *IdentityMap) error
	RecordRun(ctx context.Context, s *Summary) error
}

// DiscardStore accepts everything and keeps nothing. Used for dry runs.
type DiscardStore struct{}

func (DiscardStore) CommitBatch(context.Context, *async.Batch[*LogicalRecord]) error { return nil }
func (DiscardStore) LoadIdentities(context.Context, *IdentityMap) error             { return nil }
func (DiscardStore) RecordRun(context.Context, *Summary) error                      { return nil }

// Options configure one ingest run
type Options struct {
	Input          string
	ExpectedEvents int64 // progress estimate only
	QuarantinePath string
	Assembler      AssemblerOptions
	Pipeline       async.PipelineConfig
}

// Summary is the outcome of a run. It is produced even when the run aborts.
type Summary struct {
	RunID         string        `json:"run_id"`
	Input         string        `json:"input"`
	Total         int64         `json:"total"`
	Committed     int64         `json:"committed"`
	Failed        int64         `json:"failed"`
	FailedKeys    []string      `json:"failed_keys,omitempty"`
	Batches       int64         `json:"batches"`
	BatchesFailed int64         `json:"batches_failed"`
	PeakResident  int           `json:"peak_resident"`
	Events        int64         `json:"events,omitempty"`
	Persons       int           `json:"persons"`
	Publishers    int           `json:"publishers"`
	Schools       int           `json:"schools"`
	Series        int           `json:"series"`
	Aborted       string        `json:"aborted,omitempty"`
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

// Success reports whether the run finished the stream without aborting
func (s *Summary) Success() bool {
	return s.Aborted == ""
}

// Fields flattens the summary for progress emitters
func (s *Summary) Fields() map[string]interface{} {
	return map[string]interface{}{
		"run_id":         s.RunID,
		"total":          s.Total,
		"committed":      s.Committed,
		"failed":         s.Failed,
		"batches":        s.Batches,
		"batches_failed": s.BatchesFailed,
		"persons":        s.Persons,
		"elapsed":        s.Elapsed.Round(time.Millisecond).String(),
	}
}

// eventCounter is implemented by sources that can report parser progress
type eventCounter interface {
	Events() int64
}

// Processor runs the ingest: assemble, resolve, commit, quarantine
type Processor struct {
	store    Store
	table    *TranslationTable
	opts     Options
	progress pulse.ProgressEmitter
	logger   *zap.SugaredLogger
}

// NewProcessor creates a processor. progress may be nil.
func NewProcessor(store Store, opts Options, progress pulse.ProgressEmitter, log *zap.SugaredLogger) *Processor {
	if progress == nil {
		progress = pulse.NopEmitter{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Processor{
		store:    store,
		table:    DefaultTable(),
		opts:     opts,
		progress: progress,
		logger:   log,
	}
}

// Run consumes src to the end (or MaxRecords) and returns the run summary.
// The error is non-nil only if the run aborted; per-record and per-batch
// failures are reported in the summary.
func (p *Processor) Run(ctx context.Context, src EventSource) (*Summary, error) {
	s := &Summary{
		RunID:     uuid.NewString(),
		Input:     p.opts.Input,
		StartTime: time.Now(),
	}
	ctx = logger.WithRunID(ctx, s.RunID)
	log := logger.AddIXSymbol(p.logger.Named("dblp")).With(logger.FieldRunID, s.RunID)

	q, err := p.openQuarantine(s.RunID)
	if err != nil {
		return s, err
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Warnw("Quarantine file incomplete", logger.FieldError, err)
		}
	}()

	ids := NewIdentityMap()
	if err := p.store.LoadIdentities(ctx, ids); err != nil {
		return s, errors.Wrap(err, "failed to load existing identities")
	}
	if n := ids.Persons(); n > 0 {
		log.Infow("Continuing identities from existing store", "persons", n)
	}

	asm := NewAssembler(p.table, NewResolver(ids), q, p.opts.Assembler, p.logger)
	pipe := async.NewPipeline[*LogicalRecord](p.opts.Pipeline, p.store, func(b *async.Batch[*LogicalRecord]) {
		if err := b.Err(); err != nil {
			q.AddBatch(b.ID, b.Items, err)
		}
	}, p.logger)

	cfg := pipe.Config()
	log.Infow("Starting dblp ingest",
		logger.FieldFile, p.opts.Input,
		logger.FieldWorkers, cfg.Workers,
		logger.FieldBatchSize, cfg.BatchSize,
		logger.FieldQueueDepth, cfg.QueueDepth,
		"max_records", p.opts.Assembler.MaxRecords,
		"permissive", p.opts.Assembler.Permissive,
	)
	p.progress.EmitStage("ingest", fmt.Sprintf("streaming %s into %d committers", p.opts.Input, cfg.Workers))

	pipe.Start(ctx)
	runErr := p.feed(ctx, src, asm, pipe, q)
	stats := pipe.Close()

	s.EndTime = time.Now()
	s.Elapsed = s.EndTime.Sub(s.StartTime)
	s.Total = asm.Stats().Closed()
	s.Committed = stats.Committed
	s.Failed = int64(q.Count())
	s.FailedKeys = q.Keys()
	s.Batches = stats.Batches
	s.BatchesFailed = stats.BatchesFailed
	s.PeakResident = stats.PeakResident
	s.Persons = ids.Persons()
	s.Publishers = ids.Lookups(LookupPublisher)
	s.Schools = ids.Lookups(LookupSchool)
	s.Series = ids.Lookups(LookupSeries)
	if ec, ok := src.(eventCounter); ok {
		s.Events = ec.Events()
	}
	if runErr != nil {
		s.Aborted = runErr.Error()
	}

	// Recorded even for an interrupted run
	if err := p.store.RecordRun(context.WithoutCancel(ctx), s); err != nil {
		log.Warnw("Failed to record run", logger.FieldError, err)
	}

	log.Infow(fmt.Sprintf("total: %d / parsed: %d / failed: %d / db batches: %d / db errors: %d",
		s.Total, asm.Stats().Assembled, s.Failed, s.Batches, s.BatchesFailed),
		logger.FieldElapsed, s.Elapsed,
	)

	if runErr != nil {
		p.progress.EmitError("ingest", runErr)
		return s, runErr
	}
	p.progress.EmitComplete(s.Fields())
	return s, nil
}

// feed pulls records from the assembler into the pipeline until the stream
// ends, a fatal error occurs or ctx is cancelled
func (p *Processor) feed(ctx context.Context, src EventSource, asm *Assembler, pipe *async.Pipeline[*LogicalRecord], q *Quarantine) error {
	for {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "ingest interrupted")
		}

		rec, err := asm.Next(src)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var unmapped *UnmappedElementError
			if errors.As(err, &unmapped) {
				return errors.WithHint(err, "re-run with --permissive to quarantine records with unknown elements")
			}
			return err
		}

		if err := pipe.Submit(ctx, rec); err != nil {
			// The record never reached a batch
			q.Add(Failure{Key: rec.Key, Category: rec.Category, Stage: StageCommit, Error: err.Error()})
			return errors.Wrap(err, "ingest interrupted")
		}

		if n := asm.Stats().Assembled; n%ProgressInterval == 0 {
			p.emitProgress(int(n), src, pipe)
		}
	}
}

func (p *Processor) emitProgress(assembled int, src EventSource, pipe *async.Pipeline[*LogicalRecord]) {
	stats := pipe.Stats()
	meta := map[string]interface{}{
		"type":      "records",
		"committed": stats.Committed,
		"failed":    stats.Failed,
		"resident":  pipe.Resident(),
	}
	if ec, ok := src.(eventCounter); ok {
		meta["events"] = ec.Events()
		if p.opts.ExpectedEvents > 0 {
			meta["expected_events"] = p.opts.ExpectedEvents
		}
	}
	p.progress.EmitProgress(assembled, meta)
}

func (p *Processor) openQuarantine(runID string) (*Quarantine, error) {
	if p.opts.QuarantinePath == "" {
		return NewQuarantine(nil, runID, p.logger), nil
	}
	return OpenQuarantine(p.opts.QuarantinePath, runID, p.logger)
}

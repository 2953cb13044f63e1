package async

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dblpix/errors"
)

// ============================================================================
// Stacks Test Universe
// ============================================================================
//
// Characters:
//   - The Clerk: producer who hands index cards to the pipeline one at a time
//   - The Shelvers: committer workers who file a whole tray of cards at once
//   - The Cart: the bounded set of trays between them
//
// A tray is either shelved whole or returned whole. When the cart is full
// the Clerk waits.
// ============================================================================

type card struct {
	key string
}

func cards(n int) []card {
	out := make([]card, n)
	for i := range out {
		out[i] = card{key: string(rune('a' + i%26))}
	}
	return out
}

func TestPipelineCommitsEverything(t *testing.T) {
	var shelved atomic.Int64
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		shelved.Add(int64(b.Len()))
		return nil
	})

	var reaped []int64
	p := NewPipeline[card](PipelineConfig{BatchSize: 4, Workers: 3, QueueDepth: 2},
		shelvers, func(b *Batch[card]) { reaped = append(reaped, b.ID) }, zaptest.NewLogger(t).Sugar())
	p.Start(context.Background())

	for _, c := range cards(10) {
		require.NoError(t, p.Submit(context.Background(), c))
	}
	stats := p.Close()

	assert.Equal(t, int64(10), stats.Submitted)
	assert.Equal(t, int64(10), stats.Committed)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(3), stats.Batches, "10 cards in trays of 4 make 3 trays")
	assert.Equal(t, int64(10), shelved.Load())
	assert.ElementsMatch(t, []int64{1, 2, 3}, reaped)
	assert.Equal(t, 0, p.Resident())
}

func TestPipelineFailedBatchIsIsolated(t *testing.T) {
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		if b.ID == 2 {
			return errors.New("UNIQUE constraint failed: publication.key")
		}
		return nil
	})

	var failedKeys []string
	onDone := func(b *Batch[card]) {
		if b.Err() == nil {
			return
		}
		assert.True(t, errors.IsCommitError(b.Err()))
		assert.Equal(t, BatchFailed, b.Status())
		for _, c := range b.Items {
			failedKeys = append(failedKeys, c.key)
		}
	}

	p := NewPipeline[card](PipelineConfig{BatchSize: 2, Workers: 2, QueueDepth: 4}, shelvers, onDone, nil)
	p.Start(context.Background())
	for _, c := range cards(8) {
		require.NoError(t, p.Submit(context.Background(), c))
	}
	stats := p.Close()

	assert.Equal(t, int64(4), stats.Batches)
	assert.Equal(t, int64(1), stats.BatchesFailed)
	assert.Equal(t, int64(6), stats.Committed, "batches after the failed one still commit")
	assert.Equal(t, int64(2), stats.Failed)
	assert.Equal(t, []string{"c", "d"}, failedKeys)
}

func TestPipelineBackpressureBound(t *testing.T) {
	const depth, size = 2, 3

	gate := make(chan struct{})
	firstTray := make(chan struct{})
	var once sync.Once
	slowShelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		once.Do(func() { close(firstTray) })
		<-gate
		return nil
	})

	p := NewPipeline[card](PipelineConfig{BatchSize: size, Workers: 1, QueueDepth: depth}, slowShelvers, nil, nil)
	p.Start(context.Background())

	var accepted atomic.Int64
	result := make(chan Stats, 1)
	go func() {
		for _, c := range cards(20) {
			if err := p.Submit(context.Background(), c); err != nil {
				t.Errorf("Submit: %v", err)
				return
			}
			accepted.Add(1)
		}
		result <- p.Close()
	}()

	<-firstTray
	// The Clerk fills the cart and then stalls on the 7th card
	require.Eventually(t, func() bool { return accepted.Load() == depth*size }, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(depth*size), accepted.Load(), "producer must stall at queue depth × batch size")

	close(gate)
	stats := <-result

	assert.Equal(t, int64(20), stats.Committed)
	assert.LessOrEqual(t, stats.PeakResident, depth*size)
	assert.Equal(t, depth*size, stats.PeakResident)
}

func TestPipelineSubmitHonoursContextWhileBlocked(t *testing.T) {
	gate := make(chan struct{})
	blocked := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		<-gate
		return nil
	})

	p := NewPipeline[card](PipelineConfig{BatchSize: 1, Workers: 1, QueueDepth: 1}, blocked, nil, nil)
	p.Start(context.Background())
	require.NoError(t, p.Submit(context.Background(), card{key: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, card{key: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	stats := p.Close()
	assert.Equal(t, int64(1), stats.Committed, "the rejected card never entered the pipeline")
}

func TestPipelineCanceledRunFailsUnstartedBatches(t *testing.T) {
	var calls atomic.Int64
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		calls.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPipeline[card](PipelineConfig{BatchSize: 2, Workers: 2, QueueDepth: 3}, shelvers, func(b *Batch[card]) {
		ec := ClassifyError("commit", b.Err())
		assert.Equal(t, ErrorCodeCanceled, ec.Code)
	}, nil)
	p.Start(ctx)
	for _, c := range cards(5) {
		require.NoError(t, p.Submit(context.Background(), c))
	}
	stats := p.Close()

	assert.Equal(t, int64(0), calls.Load())
	assert.Equal(t, int64(5), stats.Failed, "no card is silently dropped")
	assert.Equal(t, int64(3), stats.BatchesFailed)
}

func TestPipelineRecoversCommitterPanic(t *testing.T) {
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		panic("shelf collapsed")
	})
	p := NewPipeline[card](PipelineConfig{BatchSize: 2, Workers: 1, QueueDepth: 1}, shelvers, nil, nil)
	p.Start(context.Background())
	require.NoError(t, p.Submit(context.Background(), card{key: "a"}))
	stats := p.Close()

	assert.Equal(t, int64(1), stats.Failed)
}

func TestPipelineThrottle(t *testing.T) {
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error { return nil })
	p := NewPipeline[card](PipelineConfig{BatchSize: 1, Workers: 1, QueueDepth: 4, CommitsPerSecond: 1000}, shelvers, nil, nil)
	require.NotNil(t, p.limiter)
	p.Start(context.Background())
	for _, c := range cards(4) {
		require.NoError(t, p.Submit(context.Background(), c))
	}
	assert.Equal(t, int64(4), p.Close().Committed)
}

func TestPipelineMisuse(t *testing.T) {
	p := NewPipeline[card](PipelineConfig{BatchSize: 1, Workers: 1}, CommitterFunc[card](func(context.Context, *Batch[card]) error { return nil }), nil, nil)
	assert.Error(t, p.Submit(context.Background(), card{}), "submit before start")

	p.Start(context.Background())
	p.Close()
	assert.Error(t, p.Submit(context.Background(), card{}), "submit after close")
	assert.Equal(t, p.Close(), p.Stats(), "second close is a no-op")
}

func TestPipelineConfigDefaults(t *testing.T) {
	cfg := PipelineConfig{Workers: 3}.WithDefaults()
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, 6, cfg.QueueDepth)
	assert.Equal(t, 12, cfg.DrainEvery)
	assert.Equal(t, 6*64, cfg.MaxResident())

	auto := PipelineConfig{}.WithDefaults()
	assert.GreaterOrEqual(t, auto.Workers, 1)
	assert.LessOrEqual(t, auto.Workers, maxDefaultWorkers)
}

func TestPipelineDrainReapsFailuresMidStream(t *testing.T) {
	secondTray := make(chan struct{})
	release := make(chan struct{})
	shelvers := CommitterFunc[card](func(ctx context.Context, b *Batch[card]) error {
		switch b.ID {
		case 1:
			return errors.New("database is locked")
		case 2:
			// One shelver: tray 1 is already handed back once tray 2 starts
			close(secondTray)
			<-release
		}
		return nil
	})

	var reapedFailures []int64
	onDone := func(b *Batch[card]) {
		if b.Err() != nil {
			reapedFailures = append(reapedFailures, b.ID)
		}
	}

	p := NewPipeline[card](PipelineConfig{BatchSize: 1, Workers: 1, QueueDepth: 4, DrainEvery: 3},
		shelvers, onDone, zaptest.NewLogger(t).Sugar())
	p.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, card{key: "a"}))
	require.NoError(t, p.Submit(ctx, card{key: "b"}))
	<-secondTray

	assert.Empty(t, reapedFailures, "nothing is reaped between drains")
	assert.Zero(t, p.Stats().BatchesFailed)

	// Third submission hits the drain cadence
	require.NoError(t, p.Submit(ctx, card{key: "c"}))
	assert.Equal(t, []int64{1}, reapedFailures)
	assert.Equal(t, int64(1), p.Stats().BatchesFailed)
	assert.Equal(t, int64(1), p.Stats().Failed)
	assert.Equal(t, 2, p.Resident())

	close(release)
	stats := p.Close()
	assert.Equal(t, int64(2), stats.Committed)
	assert.Equal(t, int64(3), stats.Batches)
}

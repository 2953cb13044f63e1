package dblp

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/pulse/async"
)

// memStore keeps committed records in memory and can fail chosen batches
type memStore struct {
	mu        sync.Mutex
	committed map[string]*LogicalRecord
	runs      []*Summary
	seed      func(ids *IdentityMap)
	failIf    func(rec *LogicalRecord) bool
}

func newMemStore() *memStore {
	return &memStore{committed: make(map[string]*LogicalRecord)}
}

func (m *memStore) CommitBatch(_ context.Context, b *async.Batch[*LogicalRecord]) error {
	for _, rec := range b.Items {
		if m.failIf != nil && m.failIf(rec) {
			return errors.Newf("constraint violated by %s", rec.Key)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range b.Items {
		m.committed[rec.Key] = rec
	}
	return nil
}

func (m *memStore) LoadIdentities(_ context.Context, ids *IdentityMap) error {
	if m.seed != nil {
		m.seed(ids)
	}
	return nil
}

func (m *memStore) RecordRun(_ context.Context, s *Summary) error {
	m.runs = append(m.runs, s)
	return nil
}

func (m *memStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.committed {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type recordingEmitter struct {
	stages    []string
	completed map[string]interface{}
	errStage  string
}

func (e *recordingEmitter) EmitStage(stage, _ string)                 { e.stages = append(e.stages, stage) }
func (e *recordingEmitter) EmitProgress(int, map[string]interface{}) {}
func (e *recordingEmitter) EmitComplete(s map[string]interface{})    { e.completed = s }
func (e *recordingEmitter) EmitError(stage string, _ error)          { e.errStage = stage }
func (e *recordingEmitter) EmitInfo(string)                          {}

func smallPipeline() async.PipelineConfig {
	return async.PipelineConfig{BatchSize: 2, Workers: 2, QueueDepth: 2}
}

func stream(keys ...string) *SliceSource {
	src := NewSliceSource().Open("dblp")
	for _, k := range keys {
		if strings.HasPrefix(k, "bad:") {
			src.Open("inproceedings", key(strings.TrimPrefix(k, "bad:"))).
				Text("author", "").
				Close("inproceedings")
			continue
		}
		record(src, CategoryInproceedings, k, "Press A")
	}
	return src.Close("dblp")
}

func TestProcessorMalformedRecordIsQuarantined(t *testing.T) {
	store := newMemStore()
	emitter := &recordingEmitter{}
	p := NewProcessor(store, Options{Input: "test.xml", Pipeline: smallPipeline()}, emitter, zaptest.NewLogger(t).Sugar())

	s, err := p.Run(context.Background(), stream("conf/a", "conf/b", "bad:conf/c", "conf/d", "conf/e"))
	require.NoError(t, err)

	assert.True(t, s.Success())
	assert.Equal(t, int64(5), s.Total)
	assert.Equal(t, int64(4), s.Committed)
	assert.Equal(t, int64(1), s.Failed)
	assert.Equal(t, s.Total, s.Committed+s.Failed)
	assert.Equal(t, []string{"conf/c"}, s.FailedKeys)
	assert.Equal(t, []string{"conf/a", "conf/b", "conf/d", "conf/e"}, store.keys())
	assert.Equal(t, 1, s.Publishers)
	assert.Equal(t, 1, s.Persons)

	require.Len(t, store.runs, 1)
	assert.Same(t, s, store.runs[0])
	assert.Equal(t, []string{"ingest"}, emitter.stages)
	assert.Equal(t, int64(4), emitter.completed["committed"])
}

func TestProcessorFailedBatchFailsOnlyItsRecords(t *testing.T) {
	store := newMemStore()
	store.failIf = func(rec *LogicalRecord) bool { return rec.Key == "conf/c" }
	p := NewProcessor(store, Options{Pipeline: smallPipeline()}, nil, zaptest.NewLogger(t).Sugar())

	// Batches of two: {a,b} {c,d} {e,f}
	s, err := p.Run(context.Background(), stream("conf/a", "conf/b", "conf/c", "conf/d", "conf/e", "conf/f"))
	require.NoError(t, err)

	assert.Equal(t, int64(3), s.Batches)
	assert.Equal(t, int64(1), s.BatchesFailed)
	assert.Equal(t, int64(4), s.Committed)
	assert.Equal(t, []string{"conf/c", "conf/d"}, s.FailedKeys)
	assert.Equal(t, s.Total, s.Committed+s.Failed)
	assert.Equal(t, []string{"conf/a", "conf/b", "conf/e", "conf/f"}, store.keys())
}

func TestProcessorQuarantineFile(t *testing.T) {
	store := newMemStore()
	store.failIf = func(rec *LogicalRecord) bool { return rec.Key == "conf/a" }
	path := filepath.Join(t.TempDir(), "failed.jsonl")
	p := NewProcessor(store, Options{QuarantinePath: path, Pipeline: smallPipeline()}, nil, zaptest.NewLogger(t).Sugar())

	s, err := p.Run(context.Background(), stream("conf/a", "conf/b", "bad:conf/c"))
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	failures, err := ReadQuarantine(f)
	require.NoError(t, err)

	require.Len(t, failures, 3)
	stages := map[string]Stage{}
	for _, fl := range failures {
		assert.Equal(t, s.RunID, fl.RunID)
		stages[fl.Key] = fl.Stage
	}
	assert.Equal(t, map[string]Stage{"conf/a": StageCommit, "conf/b": StageCommit, "conf/c": StageAssemble}, stages)
}

func TestProcessorUnmappedElementAborts(t *testing.T) {
	store := newMemStore()
	emitter := &recordingEmitter{}
	p := NewProcessor(store, Options{Pipeline: smallPipeline()}, emitter, zaptest.NewLogger(t).Sugar())

	src := stream("conf/a")
	src.Open("article", key("journals/x")).Text("sidebar", "?").Close("article")

	s, err := p.Run(context.Background(), src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnmapped))
	assert.Contains(t, strings.Join(errors.GetAllHints(err), " "), "--permissive")

	assert.False(t, s.Success())
	assert.Contains(t, s.Aborted, "sidebar")
	assert.Equal(t, int64(1), s.Committed, "records before the abort still commit")
	require.Len(t, store.runs, 1, "aborted runs are recorded")
	assert.Equal(t, "ingest", emitter.errStage)
	assert.Nil(t, emitter.completed)
}

func TestProcessorPermissiveRun(t *testing.T) {
	store := newMemStore()
	opts := Options{Pipeline: smallPipeline(), Assembler: AssemblerOptions{Permissive: true}}
	p := NewProcessor(store, opts, nil, zaptest.NewLogger(t).Sugar())

	src := NewSliceSource().Open("dblp").
		Open("article", key("journals/x")).Text("sidebar", "?").Close("article")
	record(src, CategoryArticle, "journals/y", "")
	src.Close("dblp")

	s, err := p.Run(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, []string{"journals/x"}, s.FailedKeys)
	assert.Equal(t, []string{"journals/y"}, store.keys())
}

func TestProcessorRecordCap(t *testing.T) {
	store := newMemStore()
	opts := Options{Pipeline: smallPipeline(), Assembler: AssemblerOptions{MaxRecords: 3}}
	p := NewProcessor(store, opts, nil, zaptest.NewLogger(t).Sugar())

	s, err := p.Run(context.Background(), stream("conf/a", "conf/b", "conf/c", "conf/d", "conf/e"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Total)
	assert.Equal(t, []string{"conf/a", "conf/b", "conf/c"}, store.keys())
}

func TestProcessorContinuesStoredIdentities(t *testing.T) {
	store := newMemStore()
	store.seed = func(ids *IdentityMap) {
		ids.SeedLookup(LookupPublisher, "Press A", 10)
		ids.SeedPerson("Grace Hopper", "", 5)
	}
	p := NewProcessor(store, Options{Pipeline: smallPipeline()}, nil, zaptest.NewLogger(t).Sugar())

	_, err := p.Run(context.Background(), stream("conf/a"))
	require.NoError(t, err)

	rec := store.committed["conf/a"]
	require.NotNil(t, rec)
	assert.Equal(t, int64(10), rec.Lookup(LookupPublisher).ID)
	assert.False(t, rec.Lookup(LookupPublisher).New)
	assert.Equal(t, int64(5), rec.Attributions[0].Person.ID)
}

func TestProcessorCanceledRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewProcessor(DiscardStore{}, Options{Pipeline: smallPipeline()}, nil, zaptest.NewLogger(t).Sugar())
	s, err := p.Run(ctx, stream("conf/a", "conf/b"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, s.Success())
	assert.Zero(t, s.Committed)
}

func TestProcessorDryRun(t *testing.T) {
	p := NewProcessor(DiscardStore{}, Options{Pipeline: smallPipeline()}, nil, zaptest.NewLogger(t).Sugar())
	s, err := p.Run(context.Background(), stream("conf/a", "conf/b", "conf/c"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Committed)
	assert.Equal(t, int64(2), s.Batches)
	assert.NotEmpty(t, s.RunID)
	assert.True(t, s.Elapsed > 0)
}

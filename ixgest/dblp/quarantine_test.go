package dblp

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/dblpix/errors"
)

func TestQuarantineWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	q := NewQuarantine(&buf, "run-1", zaptest.NewLogger(t).Sugar())

	q.AddRecordError("journals/b", CategoryArticle, errors.New("empty author"))
	q.AddBatch(3, []*LogicalRecord{
		{Key: "conf/a", Category: CategoryInproceedings},
		{Key: "conf/c", Category: CategoryInproceedings},
	}, errors.New("UNIQUE constraint failed"))
	require.NoError(t, q.Close())

	assert.Equal(t, 3, strings.Count(buf.String(), "\n"))
	assert.Equal(t, []string{"conf/a", "conf/c", "journals/b"}, q.Keys())
	assert.Equal(t, 1, q.CountStage(StageAssemble))
	assert.Equal(t, 2, q.CountStage(StageCommit))

	failures, err := ReadQuarantine(&buf)
	require.NoError(t, err)
	require.Len(t, failures, 3)

	assert.Equal(t, "run-1", failures[0].RunID)
	assert.Equal(t, StageAssemble, failures[0].Stage)
	assert.Equal(t, "empty author", failures[0].Error)
	assert.False(t, failures[0].At.IsZero())

	assert.Equal(t, int64(3), failures[1].BatchID)
	assert.Equal(t, CategoryInproceedings, failures[2].Category)
}

func TestQuarantineFileAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "q.jsonl")
	for _, run := range []string{"run-1", "run-2"} {
		q, err := OpenQuarantine(path, run, nil)
		require.NoError(t, err)
		q.AddRecordError("k/"+run, CategoryWWW, errors.New("boom"))
		require.NoError(t, q.Close())
	}

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	failures, err := ReadQuarantine(f)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "run-2", failures[1].RunID)
}

func TestReadQuarantineRejectsGarbage(t *testing.T) {
	_, err := ReadQuarantine(strings.NewReader(`{"key":"a","stage":"commit"}` + "\nnot json\n"))
	assert.ErrorContains(t, err, "quarantine entry 2")
}

func TestQuarantineWithoutWriter(t *testing.T) {
	q := NewQuarantine(nil, "run-1", nil)
	q.Add(Failure{Key: "a", Stage: StageCommit})
	assert.Equal(t, 1, q.Count())
	assert.NoError(t, q.Close())
}

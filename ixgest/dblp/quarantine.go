package dblp

import (
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/teranos/dblpix/am"
	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/logger"
)

// Stage says where a record failed
type Stage string

const (
	StageAssemble Stage = "assemble"
	StageCommit   Stage = "commit"
)

// Failure is the marker kept for one failed record
type Failure struct {
	RunID    string    `json:"run_id,omitempty"`
	Key      string    `json:"key"`
	Category Category  `json:"category,omitempty"`
	Stage    Stage     `json:"stage"`
	Error    string    `json:"error"`
	BatchID  int64     `json:"batch_id,omitempty"`
	At       time.Time `json:"at"`
}

// Quarantine collects failed records without stopping the run. Failures are
// kept in memory for the run summary and, when a writer is set, appended to
// it as JSON lines.
type Quarantine struct {
	mu       sync.Mutex
	runID    string
	failures []Failure
	byStage  map[Stage]int
	enc      *json.Encoder
	closer   io.Closer
	writeErr error
	logger   *zap.SugaredLogger
}

// NewQuarantine creates a quarantine. w may be nil.
func NewQuarantine(w io.Writer, runID string, log *zap.SugaredLogger) *Quarantine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	q := &Quarantine{
		runID:   runID,
		byStage: make(map[Stage]int),
		logger:  logger.AddIXSymbol(log.Named("quarantine")),
	}
	if w != nil {
		q.enc = json.NewEncoder(w)
	}
	return q
}

// OpenQuarantine appends failures to the JSON lines file at path
func OpenQuarantine(path, runID string, log *zap.SugaredLogger) (*Quarantine, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, am.DefaultFilePermissions)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open quarantine file %s", path)
	}
	q := NewQuarantine(f, runID, log)
	q.closer = f
	return q, nil
}

// Add records one failed record
func (q *Quarantine) Add(f Failure) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if f.RunID == "" {
		f.RunID = q.runID
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	q.failures = append(q.failures, f)
	q.byStage[f.Stage]++

	q.logger.Debugw("Record quarantined",
		logger.FieldKey, f.Key,
		logger.FieldCategory, f.Category,
		logger.FieldStage, f.Stage,
		logger.FieldError, f.Error,
	)

	if q.enc != nil && q.writeErr == nil {
		if err := q.enc.Encode(f); err != nil {
			// Keep collecting in memory; report once
			q.writeErr = errors.Wrap(err, "failed to write quarantine entry")
			q.logger.Warnw("Quarantine file write failed", logger.FieldError, err)
		}
	}
}

// AddRecordError quarantines a record that failed during assembly
func (q *Quarantine) AddRecordError(key string, category Category, err error) {
	q.Add(Failure{Key: key, Category: category, Stage: StageAssemble, Error: err.Error()})
}

// AddBatch quarantines every record of a failed batch
func (q *Quarantine) AddBatch(batchID int64, records []*LogicalRecord, err error) {
	msg := err.Error()
	for _, rec := range records {
		q.Add(Failure{Key: rec.Key, Category: rec.Category, Stage: StageCommit, Error: msg, BatchID: batchID})
	}
}

// Failures returns a copy of every failure so far
func (q *Quarantine) Failures() []Failure {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Failure, len(q.failures))
	copy(out, q.failures)
	return out
}

// Count returns the number of failed records
func (q *Quarantine) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.failures)
}

// CountStage returns the number of records that failed at stage
func (q *Quarantine) CountStage(stage Stage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.byStage[stage]
}

// Keys returns the failed record keys, sorted. Records that failed before
// their key was read are reported as empty strings.
func (q *Quarantine) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	keys := make([]string, len(q.failures))
	for i, f := range q.failures {
		keys[i] = f.Key
	}
	sort.Strings(keys)
	return keys
}

// Close closes the backing file, if the quarantine opened one, and returns
// the first write error.
func (q *Quarantine) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closer != nil {
		if err := q.closer.Close(); err != nil && q.writeErr == nil {
			q.writeErr = errors.Wrap(err, "failed to close quarantine file")
		}
		q.closer = nil
	}
	return q.writeErr
}

// ReadQuarantine loads failures previously written as JSON lines
func ReadQuarantine(r io.Reader) ([]Failure, error) {
	dec := json.NewDecoder(r)
	var out []Failure
	for {
		var f Failure
		if err := dec.Decode(&f); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return out, errors.Wrapf(err, "failed to decode quarantine entry %d", len(out)+1)
		}
		out = append(out, f)
	}
}

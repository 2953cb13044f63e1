package dblp

import (
	"io"

	"go.uber.org/zap"

	"github.com/teranos/dblpix/errors"
	"github.com/teranos/dblpix/logger"
)

// AssemblerOptions tune assembly
type AssemblerOptions struct {
	// Permissive turns unmapped child elements into per-record failures
	// instead of aborting the run.
	Permissive bool

	// MaxRecords stops assembly after this many closed records
	// (assembled or failed). Zero means the whole stream.
	MaxRecords int
}

// AssemblerStats counts what the assembler has seen
type AssemblerStats struct {
	Opened       int64 `json:"opened"`        // top-level opens
	Assembled    int64 `json:"assembled"`     // records handed out
	Failed       int64 `json:"failed"`        // records quarantined during assembly
	Stray        int64 `json:"stray"`         // elements outside any record
	DroppedAttrs int64 `json:"dropped_attrs"` // attributes with no mapping
	Coercions    int64 `json:"coercions"`     // scalars stored as null
}

// Closed returns the number of records that reached their close event
func (s AssemblerStats) Closed() int64 {
	return s.Assembled + s.Failed
}

// Assembler turns a flat event stream into one LogicalRecord at a time.
//
// It holds at most one record in progress. Identity resolution happens at
// the record's close, so a record that fails halfway never touches the
// identity map. Per-record failures go to the quarantine and assembly
// resumes at the next top-level open. Only structural problems (and unmapped
// elements unless permissive) are returned as errors.
type Assembler struct {
	table      *TranslationTable
	resolver   *Resolver
	quarantine *Quarantine
	opts       AssemblerOptions
	logger     *zap.SugaredLogger
	stats      AssemblerStats

	// current record
	cur      *StagedRecord
	depth    int   // element depth inside the current record; 0 = none open
	failed   error // set once the current record is lost; children are skipped
	seenRoot bool
}

// NewAssembler creates an assembler. quarantine may be nil, in which case
// failed records are only counted and logged.
func NewAssembler(table *TranslationTable, resolver *Resolver, quarantine *Quarantine, opts AssemblerOptions, log *zap.SugaredLogger) *Assembler {
	if table == nil {
		table = DefaultTable()
	}
	if resolver == nil {
		resolver = NewResolver(nil)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Assembler{
		table:      table,
		resolver:   resolver,
		quarantine: quarantine,
		opts:       opts,
		logger:     logger.AddIXSymbol(log.Named("assembler")),
	}
}

// Stats returns assembly counters
func (a *Assembler) Stats() AssemblerStats {
	return a.stats
}

// Next returns the next complete record. It returns io.EOF at the end of
// the stream or once MaxRecords records have closed.
func (a *Assembler) Next(src EventSource) (*LogicalRecord, error) {
	for {
		if a.opts.MaxRecords > 0 && a.depth == 0 && a.stats.Closed() >= int64(a.opts.MaxRecords) {
			return nil, io.EOF
		}

		ev, err := src.Next()
		if err == io.EOF {
			if a.depth > 0 {
				return nil, errors.Mark(
					errors.Newf("stream ended inside record %q (%s)", a.cur.Key, a.cur.Category),
					errors.ErrStructural)
			}
			return nil, io.EOF
		}
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to read event"), errors.ErrStructural)
		}

		switch ev.Kind {
		case EventOpen:
			if err := a.open(src, ev); err != nil {
				return nil, err
			}
		case EventClose:
			if rec := a.close(); rec != nil {
				return rec, nil
			}
		}
	}
}

func (a *Assembler) open(src EventSource, ev Event) error {
	if category, ok := a.table.Category(ev.Name); ok {
		if a.depth > 0 {
			return &OverlappingRecordError{OpenKey: a.cur.Key, OpenCategory: a.cur.Category, Next: category}
		}
		a.begin(category, ev.Attrs)
		return nil
	}

	if a.depth == 0 {
		a.stray(ev)
		return nil
	}

	// Children of a lost record are skipped unread; only depth is tracked
	if a.failed != nil {
		a.depth++
		return nil
	}

	m, ok := a.table.Element(ev.Name)
	if !ok {
		unmapped := &UnmappedElementError{Element: ev.Name, Key: a.cur.Key, Category: a.cur.Category}
		if !a.opts.Permissive {
			return unmapped
		}
		a.fail(unmapped)
		a.depth++
		return nil
	}

	text, err := src.Expand()
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "failed to expand <%s> in %q", ev.Name, a.cur.Key), errors.ErrStructural)
	}
	a.apply(ev, m, text)
	return nil
}

func (a *Assembler) begin(category Category, attrs []Attr) {
	a.stats.Opened++
	a.cur = &StagedRecord{Category: category}
	a.depth = 1
	a.failed = nil

	for _, attr := range attrs {
		if attr.Name == KeyAttr {
			a.cur.Key = attr.Value
			continue
		}
		if !a.table.ApplyRecordAttr(&a.cur.Attrs, attr.Name, attr.Value) {
			a.stats.DroppedAttrs++
			a.logger.Warnw("Dropping unmapped record attribute",
				logger.FieldCategory, category,
				"attribute", attr.Name,
			)
		}
	}

	if a.cur.Attrs.Publtype != "" && !PublicationTypes[a.cur.Attrs.Publtype] {
		a.logger.Debugw("Unknown publtype", logger.FieldKey, a.cur.Key, "publtype", a.cur.Attrs.Publtype)
	}
	if a.cur.Key == "" {
		a.fail(errors.New("record has no key attribute"))
	}
}

// stray handles an open event outside any record. The first one is the
// document root.
func (a *Assembler) stray(ev Event) {
	if !a.seenRoot {
		a.seenRoot = true
		a.logger.Debugw("Document root", logger.FieldTag, ev.Name)
		return
	}
	a.stats.Stray++
	a.logger.Warnw("Ignoring element outside any record", logger.FieldTag, ev.Name)
}

// apply stages one fully expanded child element. It recovers from panics in
// mapping code so one bad element costs only its record.
func (a *Assembler) apply(ev Event, m Mapping, text string) {
	defer func() {
		if r := recover(); r != nil {
			a.fail(errors.Newf("panic mapping <%s>: %v", ev.Name, r))
		}
	}()

	for _, attr := range ev.Attrs {
		if !m.Accepts(attr.Name) {
			a.stats.DroppedAttrs++
			a.logger.Debugw("Dropping unmapped attribute", logger.FieldKey, a.cur.Key, logger.FieldTag, ev.Name, "attribute", attr.Name)
		}
	}

	switch m.Class {
	case ClassScalar:
		if err := m.Scalar(&a.cur.Attrs, text, ev.Attrs); err != nil {
			// Malformed scalars never fail the record
			a.stats.Coercions++
			a.logger.Debugw("Stored null for malformed value", logger.FieldKey, a.cur.Key, logger.FieldTag, ev.Name, logger.FieldError, err)
		}

	case ClassDependency:
		href, _ := AttrValue(ev.Attrs, "href")
		a.cur.Lookups = append(a.cur.Lookups, StagedLookup{Kind: m.Lookup, Name: text, Href: href})

	case ClassAttribution:
		sa := StagedAttribution{Role: m.Role, Name: text}
		sa.ORCID, _ = AttrValue(ev.Attrs, "orcid")
		sa.Bibtex, _ = AttrValue(ev.Attrs, "bibtex")
		sa.Aux, _ = AttrValue(ev.Attrs, "aux")
		a.cur.Attributions = append(a.cur.Attributions, sa)

	case ClassData:
		a.cur.Data = append(a.cur.Data, m.Data(text, ev.Attrs))

	default:
		a.fail(errors.Newf("element <%s> has no handler for class %s", ev.Name, m.Class))
	}
}

// close handles a close event and returns the finished record, if any
func (a *Assembler) close() *LogicalRecord {
	if a.depth == 0 {
		return nil
	}
	a.depth--
	if a.depth > 0 {
		return nil
	}

	staged := a.cur
	lost := a.failed
	a.cur = nil
	a.failed = nil

	if lost != nil {
		a.quarantineRecord(staged, lost)
		return nil
	}

	rec, err := a.resolver.Resolve(staged)
	if err != nil {
		a.quarantineRecord(staged, err)
		return nil
	}
	a.stats.Assembled++
	return rec
}

func (a *Assembler) fail(err error) {
	if a.failed == nil {
		a.failed = recordError(a.cur.Key, a.cur.Category, err)
	}
}

func (a *Assembler) quarantineRecord(s *StagedRecord, err error) {
	a.stats.Failed++
	var recErr *RecordError
	if !errors.As(err, &recErr) {
		err = recordError(s.Key, s.Category, err)
	}
	a.logger.Infow("Record failed",
		logger.FieldKey, s.Key,
		logger.FieldCategory, s.Category,
		logger.FieldError, err,
	)
	if a.quarantine != nil {
		a.quarantine.AddRecordError(s.Key, s.Category, err)
	}
}

package dblp

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/teranos/dblpix/errors"
)

// NormalizeName returns the identity form of a display name: surrounding
// whitespace removed and Unicode composed (NFC), so "Müller" and
// "Müller" are one person. Case is significant.
//
// This deliberately widens exact display-name matching: names that differ
// byte for byte only in composition or outer whitespace share one row, which
// stores the normalized form.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

type lookupKey struct {
	kind LookupKind
	name string
}

type personKey struct {
	name  string
	orcid string
}

// IdentityMap assigns stable ids to lookup entities and persons for the
// lifetime of a run. It has a single writer: the assembly goroutine.
// Committer workers only ever see the ids, never the map.
type IdentityMap struct {
	lookups    map[lookupKey]int64
	persons    map[personKey]int64
	lastLookup map[LookupKind]int64
	lastPerson int64
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		lookups:    make(map[lookupKey]int64),
		persons:    make(map[personKey]int64),
		lastLookup: make(map[LookupKind]int64),
	}
}

// SeedLookup registers an identity that already exists in the store.
// Later assignments continue above the highest seeded id.
func (m *IdentityMap) SeedLookup(kind LookupKind, name string, id int64) {
	m.lookups[lookupKey{kind: kind, name: NormalizeName(name)}] = id
	if id > m.lastLookup[kind] {
		m.lastLookup[kind] = id
	}
}

// SeedPerson registers a person that already exists in the store
func (m *IdentityMap) SeedPerson(name, orcid string, id int64) {
	m.persons[personKey{name: NormalizeName(name), orcid: orcid}] = id
	if id > m.lastPerson {
		m.lastPerson = id
	}
}

// Lookups returns the number of known identities of one kind
func (m *IdentityMap) Lookups(kind LookupKind) int {
	n := 0
	for k := range m.lookups {
		if k.kind == kind {
			n++
		}
	}
	return n
}

// Persons returns the number of known persons
func (m *IdentityMap) Persons() int {
	return len(m.persons)
}

func (m *IdentityMap) lookup(kind LookupKind, name string) (int64, bool) {
	key := lookupKey{kind: kind, name: name}
	if id, ok := m.lookups[key]; ok {
		return id, false
	}
	m.lastLookup[kind]++
	id := m.lastLookup[kind]
	m.lookups[key] = id
	return id, true
}

func (m *IdentityMap) person(name, orcid string) (int64, bool) {
	key := personKey{name: name, orcid: orcid}
	if id, ok := m.persons[key]; ok {
		return id, false
	}
	m.lastPerson++
	m.persons[key] = m.lastPerson
	return m.lastPerson, true
}

// StagedLookup is a lookup reference as read from the document, unresolved
type StagedLookup struct {
	Kind LookupKind
	Name string
	Href string
}

// StagedAttribution is an author or editor element before its person has an id.
// Name comes from the element text, ORCID from its attribute.
type StagedAttribution struct {
	Role   Role
	Name   string
	ORCID  string
	Bibtex string
	Aux    string
}

// StagedRecord is a record between its close event and resolution
type StagedRecord struct {
	Key          string
	Category     Category
	Attrs        Publication
	Lookups      []StagedLookup
	Attributions []StagedAttribution
	Data         []GenericData
}

// ResolverStats counts identity decisions
type ResolverStats struct {
	LookupHits   int64 `json:"lookup_hits"`
	LookupMisses int64 `json:"lookup_misses"`
	PersonHits   int64 `json:"person_hits"`
	PersonMisses int64 `json:"person_misses"`
}

// Resolver turns staged records into LogicalRecords whose dependencies all
// carry stable ids. Resolution happens in stream order on the assembly
// goroutine, so two records can never race to create one identity.
type Resolver struct {
	ids   *IdentityMap
	stats ResolverStats
}

// NewResolver creates a resolver that owns ids for the rest of the run
func NewResolver(ids *IdentityMap) *Resolver {
	if ids == nil {
		ids = NewIdentityMap()
	}
	return &Resolver{ids: ids}
}

// Identities returns the identity map the resolver writes to
func (r *Resolver) Identities() *IdentityMap {
	return r.ids
}

// Stats returns hit/miss counters
func (r *Resolver) Stats() ResolverStats {
	return r.stats
}

// Resolve validates the staged record and assigns identities. A record that
// fails validation leaves the identity map untouched.
func (r *Resolver) Resolve(s *StagedRecord) (*LogicalRecord, error) {
	if err := validateStaged(s); err != nil {
		return nil, err
	}

	rec := &LogicalRecord{
		Key:      s.Key,
		Category: s.Category,
		Attrs:    s.Attrs,
		Data:     s.Data,
	}

	for _, l := range s.Lookups {
		name := NormalizeName(l.Name)
		id, isNew := r.ids.lookup(l.Kind, name)
		if isNew {
			r.stats.LookupMisses++
		} else {
			r.stats.LookupHits++
		}
		rec.setDependency(&Lookup{Kind: l.Kind, Name: name, Href: l.Href, ID: id, New: isNew})
	}

	positions := make(map[Role]int, 2)
	rec.Attributions = make([]*Attribution, 0, len(s.Attributions))
	for _, a := range s.Attributions {
		name := NormalizeName(a.Name)
		orcid := strings.TrimSpace(a.ORCID)
		id, isNew := r.ids.person(name, orcid)
		if isNew {
			r.stats.PersonMisses++
		} else {
			r.stats.PersonHits++
		}
		// The join row is built only once its person has an id
		rec.Attributions = append(rec.Attributions, &Attribution{
			Role:     a.Role,
			Person:   &Person{FullName: name, ORCID: orcid, ID: id, New: isNew},
			Position: positions[a.Role],
			Bibtex:   a.Bibtex,
			Aux:      a.Aux,
		})
		positions[a.Role]++
	}

	return rec, nil
}

func validateStaged(s *StagedRecord) error {
	if s.Key == "" {
		return recordError(s.Key, s.Category, errors.New("record has no key attribute"))
	}
	for _, l := range s.Lookups {
		if NormalizeName(l.Name) == "" {
			return recordError(s.Key, s.Category, errors.Newf("empty %s name", l.Kind))
		}
	}
	for i, a := range s.Attributions {
		if NormalizeName(a.Name) == "" {
			return recordError(s.Key, s.Category, errors.Newf("empty %s name at position %d", a.Role, i))
		}
	}
	return nil
}

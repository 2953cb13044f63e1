package dblp

// dblp bibliography ingestion: entity model.

// Category is the kind of a top-level dblp record
type Category string

const (
	CategoryArticle       Category = "article"
	CategoryInproceedings Category = "inproceedings"
	CategoryProceedings   Category = "proceedings"
	CategoryBook          Category = "book"
	CategoryIncollection  Category = "incollection"
	CategoryPhdThesis     Category = "phdthesis"
	CategoryMastersThesis Category = "mastersthesis"
	CategoryWWW           Category = "www"
)

// Categories lists every top-level record kind in document order of the dblp DTD
var Categories = []Category{
	CategoryArticle,
	CategoryInproceedings,
	CategoryProceedings,
	CategoryBook,
	CategoryIncollection,
	CategoryPhdThesis,
	CategoryMastersThesis,
	CategoryWWW,
}

// LookupKind names a deduplicated lookup table
type LookupKind string

const (
	LookupPublisher LookupKind = "publisher"
	LookupSchool    LookupKind = "school"
	LookupSeries    LookupKind = "series"
)

// Role distinguishes author and editor attributions
type Role string

const (
	RoleAuthor Role = "author"
	RoleEditor Role = "editor"
)

// DataKind names a generic one-to-many table hanging off a publication
type DataKind string

const (
	DataElectronicEdition DataKind = "electronic_edition"
	DataCrossref          DataKind = "crossref"
	DataCite              DataKind = "cite"
	DataNote              DataKind = "note"
	DataURL               DataKind = "url"
	DataISBN              DataKind = "isbn"
)

// PageRange is an inclusive page interval. "12" is stored as [12,12].
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Lookup is a named entity shared across records: publisher, school or series.
// ID is assigned by the Resolver. New is true only on the record that first
// introduced the identity.
type Lookup struct {
	Kind LookupKind `json:"kind"`
	Name string     `json:"name"`
	Href string     `json:"href,omitempty"`
	ID   int64      `json:"id"`
	New  bool       `json:"new,omitempty"`
}

// Person is an author or editor, identified by name and optional ORCID
type Person struct {
	FullName string `json:"full_name"`
	ORCID    string `json:"orcid,omitempty"`
	ID       int64  `json:"id"`
	New      bool   `json:"new,omitempty"`
}

// Attribution joins a record to a person. Position is 0-based per role, in
// document order.
type Attribution struct {
	Role     Role    `json:"role"`
	Person   *Person `json:"person"`
	Position int     `json:"position"`
	Bibtex   string  `json:"bibtex,omitempty"`
	Aux      string  `json:"aux,omitempty"`
}

// GenericData is one row of a one-to-many table. Value holds the element
// content; the remaining fields are set only for the kinds that carry them.
type GenericData struct {
	Kind      DataKind `json:"kind"`
	Value     string   `json:"value"`
	Label     string   `json:"label,omitempty"`
	Type      string   `json:"type,omitempty"`
	IsArchive bool     `json:"is_archive,omitempty"`
	IsOA      bool     `json:"is_oa,omitempty"`
}

// Publication holds the scalar columns of a record. Pointer fields are
// nullable: coercion failures leave them nil.
type Publication struct {
	Publtype    string     `json:"publtype,omitempty"`
	CDate       string     `json:"cdate,omitempty"`
	MDate       string     `json:"mdate,omitempty"`
	Title       string     `json:"title,omitempty"`
	TitleBibtex string     `json:"title_bibtex,omitempty"`
	Booktitle   string     `json:"booktitle,omitempty"`
	Journal     string     `json:"journal,omitempty"`
	Address     string     `json:"address,omitempty"`
	Number      string     `json:"number,omitempty"`
	CDROM       string     `json:"cdrom,omitempty"`
	Year        *int       `json:"year,omitempty"`
	Month       *int       `json:"month,omitempty"`
	Volume      *int       `json:"volume,omitempty"`
	Chapter     *int       `json:"chapter,omitempty"`
	Publnr      *int       `json:"publnr,omitempty"`
	Pages       *PageRange `json:"pages,omitempty"`
}

// LogicalRecord is one fully assembled top-level record. After the assembler
// hands it out it is never mutated.
type LogicalRecord struct {
	Key          string         `json:"key"`
	Category     Category       `json:"category"`
	Attrs        Publication    `json:"attrs"`
	Dependencies []*Lookup      `json:"dependencies,omitempty"`
	Data         []GenericData  `json:"data,omitempty"`
	Attributions []*Attribution `json:"attributions,omitempty"`
}

// Lookup returns the record's dependency of the given kind, or nil.
// A record references at most one lookup per kind; a repeated element
// replaces the earlier one.
func (r *LogicalRecord) Lookup(kind LookupKind) *Lookup {
	for _, l := range r.Dependencies {
		if l.Kind == kind {
			return l
		}
	}
	return nil
}

// LookupID returns the resolved id for kind, or nil when the record has none
func (r *LogicalRecord) LookupID(kind LookupKind) *int64 {
	if l := r.Lookup(kind); l != nil {
		id := l.ID
		return &id
	}
	return nil
}

// AttributionsFor returns the attributions of one role in position order
func (r *LogicalRecord) AttributionsFor(role Role) []*Attribution {
	var out []*Attribution
	for _, a := range r.Attributions {
		if a.Role == role {
			out = append(out, a)
		}
	}
	return out
}

func (r *LogicalRecord) setDependency(l *Lookup) {
	for i, existing := range r.Dependencies {
		if existing.Kind == l.Kind {
			r.Dependencies[i] = l
			return
		}
	}
	r.Dependencies = append(r.Dependencies, l)
}

package dblp

import (
	"sort"
	"strings"
)

// ElementClass says how the assembler treats a child element of a record
type ElementClass int

const (
	// ClassScalar sets a column on the publication row
	ClassScalar ElementClass = iota + 1
	// ClassDependency references a deduplicated lookup row (publisher, school, series)
	ClassDependency
	// ClassAttribution references a deduplicated person through an author/editor row
	ClassAttribution
	// ClassData adds a row to a one-to-many table
	ClassData
)

func (c ElementClass) String() string {
	switch c {
	case ClassScalar:
		return "scalar"
	case ClassDependency:
		return "dependency"
	case ClassAttribution:
		return "attribution"
	case ClassData:
		return "data"
	default:
		return "unknown"
	}
}

// ScalarSetter writes element text into a publication. A non-nil error is a
// *CoercionError: the column has been left null.
type ScalarSetter func(p *Publication, text string, attrs []Attr) error

// DataBuilder turns element text and attributes into a generic data row
type DataBuilder func(text string, attrs []Attr) GenericData

// Mapping is one row of the translation table
type Mapping struct {
	Class  ElementClass
	Lookup LookupKind   // ClassDependency
	Role   Role         // ClassAttribution
	Scalar ScalarSetter // ClassScalar
	Data   DataBuilder  // ClassData

	// Attributes the element is known to carry. Others are dropped.
	Attrs []string
}

// Accepts reports whether attr is a known attribute of the element
func (m Mapping) Accepts(attr string) bool {
	for _, a := range m.Attrs {
		if a == attr {
			return true
		}
	}
	return false
}

// TranslationTable maps raw element and attribute names to entity
// constructors and value coercers. It is read-only after construction.
type TranslationTable struct {
	records     map[string]Category
	elements    map[string]Mapping
	recordAttrs map[string]func(p *Publication, value string)
}

// KeyAttr is the record attribute holding the globally unique record key
const KeyAttr = "key"

// PublicationTypes are the publtype values dblp documents. Others are stored
// unchanged but logged.
var PublicationTypes = map[string]bool{
	"habil":              true,
	"withdrawn":          true,
	"survey":             true,
	"informal withdrawn": true,
	"noshow":             true,
	"disambiguation":     true,
	"data":               true,
	"software":           true,
	"encyclopedia":       true,
	"edited":             true,
	"group":              true,
	"informal":           true,
}

// DefaultTable returns the translation table for dblp.xml
func DefaultTable() *TranslationTable {
	t := &TranslationTable{
		records:  make(map[string]Category, len(Categories)),
		elements: make(map[string]Mapping),
		recordAttrs: map[string]func(p *Publication, value string){
			"publtype": func(p *Publication, v string) { p.Publtype = v },
			"cdate":    func(p *Publication, v string) { p.CDate = v },
			"mdate":    func(p *Publication, v string) { p.MDate = v },
		},
	}
	for _, c := range Categories {
		t.records[string(c)] = c
	}

	// Lookup dependencies
	for _, kind := range []LookupKind{LookupPublisher, LookupSchool, LookupSeries} {
		t.elements[string(kind)] = Mapping{Class: ClassDependency, Lookup: kind, Attrs: []string{"href"}}
	}

	// Attributions; orcid belongs to the person, the rest to the join row
	for _, role := range []Role{RoleAuthor, RoleEditor} {
		t.elements[string(role)] = Mapping{Class: ClassAttribution, Role: role, Attrs: []string{"orcid", "bibtex", "aux"}}
	}

	// Generic data
	t.elements["ee"] = Mapping{Class: ClassData, Data: buildElectronicEdition, Attrs: []string{"type"}}
	t.elements["crossref"] = Mapping{Class: ClassData, Data: buildData(DataCrossref)}
	t.elements["cite"] = Mapping{Class: ClassData, Data: buildData(DataCite), Attrs: []string{"label"}}
	t.elements["note"] = Mapping{Class: ClassData, Data: buildData(DataNote), Attrs: []string{"label", "type"}}
	t.elements["url"] = Mapping{Class: ClassData, Data: buildData(DataURL), Attrs: []string{"type"}}
	t.elements["isbn"] = Mapping{Class: ClassData, Data: buildData(DataISBN), Attrs: []string{"type"}}

	// Scalars
	t.elements["title"] = Mapping{Class: ClassScalar, Attrs: []string{"bibtex"}, Scalar: func(p *Publication, text string, attrs []Attr) error {
		p.Title = text
		if v, ok := AttrValue(attrs, "bibtex"); ok {
			p.TitleBibtex = v
		}
		return nil
	}}
	t.elements["booktitle"] = stringScalar(func(p *Publication, v string) { p.Booktitle = v })
	t.elements["cdrom"] = stringScalar(func(p *Publication, v string) { p.CDROM = v })
	t.elements["journal"] = stringScalar(func(p *Publication, v string) { p.Journal = v })
	t.elements["number"] = stringScalar(func(p *Publication, v string) { p.Number = v })
	t.elements["address"] = stringScalar(func(p *Publication, v string) { p.Address = v })

	t.elements["year"] = intScalar("year", func(p *Publication) **int { return &p.Year })
	t.elements["month"] = intScalar("month", func(p *Publication) **int { return &p.Month })
	t.elements["volume"] = intScalar("volume", func(p *Publication) **int { return &p.Volume })
	t.elements["chapter"] = intScalar("chapter", func(p *Publication) **int { return &p.Chapter })
	t.elements["publnr"] = intScalar("publnr", func(p *Publication) **int { return &p.Publnr })

	t.elements["pages"] = Mapping{Class: ClassScalar, Scalar: func(p *Publication, text string, _ []Attr) error {
		pages, err := ParsePages(text)
		p.Pages = pages
		return err
	}}

	return t
}

// Category returns the record kind for a top-level element name
func (t *TranslationTable) Category(name string) (Category, bool) {
	c, ok := t.records[name]
	return c, ok
}

// Element returns the mapping for a child element name
func (t *TranslationTable) Element(name string) (Mapping, bool) {
	m, ok := t.elements[name]
	return m, ok
}

// ApplyRecordAttr sets a mapped top-level attribute. It returns false for
// attributes with no mapping; the key attribute is handled by the caller.
func (t *TranslationTable) ApplyRecordAttr(p *Publication, name, value string) bool {
	set, ok := t.recordAttrs[name]
	if !ok {
		return false
	}
	set(p, value)
	return true
}

// ElementNames returns every mapped child element name, sorted
func (t *TranslationTable) ElementNames() []string {
	names := make([]string, 0, len(t.elements))
	for name := range t.elements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func stringScalar(set func(p *Publication, v string)) Mapping {
	return Mapping{Class: ClassScalar, Scalar: func(p *Publication, text string, _ []Attr) error {
		set(p, text)
		return nil
	}}
}

func intScalar(field string, slot func(p *Publication) **int) Mapping {
	return Mapping{Class: ClassScalar, Scalar: func(p *Publication, text string, _ []Attr) error {
		n, err := ParseInt(field, text)
		*slot(p) = n
		return err
	}}
}

func buildData(kind DataKind) DataBuilder {
	return func(text string, attrs []Attr) GenericData {
		d := GenericData{Kind: kind, Value: text}
		d.Label, _ = AttrValue(attrs, "label")
		d.Type, _ = AttrValue(attrs, "type")
		return d
	}
}

// buildElectronicEdition decomposes the ee type ("archive", "oa",
// "archive oa") into flags and keeps the raw value.
func buildElectronicEdition(text string, attrs []Attr) GenericData {
	d := GenericData{Kind: DataElectronicEdition, Value: text}
	d.Type, _ = AttrValue(attrs, "type")
	for _, flag := range strings.Fields(d.Type) {
		switch flag {
		case "archive":
			d.IsArchive = true
		case "oa":
			d.IsOA = true
		}
	}
	return d
}

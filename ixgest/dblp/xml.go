package dblp

import (
	"bufio"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"

	"github.com/teranos/dblpix/errors"
)

// XMLOptions configure the streaming XML source
type XMLOptions struct {
	// Charset overrides the document's declared encoding:
	// "auto" (or empty) honours the XML declaration, "utf-8" and
	// "iso-8859-1" force one.
	Charset string

	// Lenient disables strict parsing: unknown entities are kept verbatim
	// and unmatched tags are auto-closed.
	Lenient bool
}

// XMLSource streams open/close events from a dblp.xml document.
// Entities declared by dblp.dtd (&auml; and friends) are the HTML Latin-1
// set and are expanded without reading the DTD. Gzip input is detected by
// its magic bytes.
type XMLSource struct {
	dec    *xml.Decoder
	closer io.Closer
	events int64
	open   bool // last event was an open not yet expanded
}

// NewXMLSource wraps r. The caller keeps ownership of r.
func NewXMLSource(r io.Reader, opts XMLOptions) (*XMLSource, error) {
	br := bufio.NewReaderSize(r, 1<<16)

	var closer io.Closer
	in := io.Reader(br)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open gzip stream")
		}
		in, closer = gz, gz
	}

	charset := strings.ToLower(strings.TrimSpace(opts.Charset))
	if isLatin1(charset) {
		in = charmap.ISO8859_1.NewDecoder().Reader(in)
	}

	dec := xml.NewDecoder(in)
	dec.Entity = xml.HTMLEntity
	dec.Strict = !opts.Lenient
	if opts.Lenient {
		dec.AutoClose = xml.HTMLAutoClose
	}
	dec.CharsetReader = charsetReader(charset)

	return &XMLSource{dec: dec, closer: closer}, nil
}

// OpenXMLFile opens path for streaming. Close releases the file.
func OpenXMLFile(path string, opts XMLOptions) (*XMLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	src, err := NewXMLSource(f, opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	src.closer = multiCloser{src.closer, f}
	return src, nil
}

// Events returns the number of parser tokens consumed so far, comparable
// with the expected event count used for progress.
func (s *XMLSource) Events() int64 {
	return s.events
}

// Close releases the underlying file and gzip stream, if any
func (s *XMLSource) Close() error {
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// Next implements EventSource. Character data, comments and processing
// instructions between elements are skipped.
func (s *XMLSource) Next() (Event, error) {
	s.open = false
	for {
		tok, err := s.dec.Token()
		if err != nil {
			return Event{}, err
		}
		s.events++

		switch t := tok.(type) {
		case xml.StartElement:
			s.open = true
			return Event{Kind: EventOpen, Name: t.Name.Local, Attrs: copyAttrs(t.Attr)}, nil
		case xml.EndElement:
			return Event{Kind: EventClose, Name: t.Name.Local}, nil
		}
	}
}

// Expand implements EventSource. Nested elements are rendered back as
// markup without attributes, so "<title>A <i>B</i></title>" yields
// "A <i>B</i>". Character data is returned unescaped.
func (s *XMLSource) Expand() (string, error) {
	if !s.open {
		return "", errors.New("expand called without a pending open event")
	}
	s.open = false

	var b strings.Builder
	depth := 1
	for {
		tok, err := s.dec.Token()
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		if err != nil {
			return "", err
		}
		s.events++

		switch t := tok.(type) {
		case xml.CharData:
			b.Write(t)
		case xml.StartElement:
			depth++
			b.WriteString("<" + t.Name.Local + ">")
		case xml.EndElement:
			depth--
			if depth == 0 {
				return b.String(), nil
			}
			b.WriteString("</" + t.Name.Local + ">")
		}
	}
}

// copyAttrs detaches attributes from the decoder's buffers
func copyAttrs(in []xml.Attr) []Attr {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attr, len(in))
	for i, a := range in {
		out[i] = Attr{Name: a.Name.Local, Value: a.Value}
	}
	return out
}

func isLatin1(charset string) bool {
	switch charset {
	case "iso-8859-1", "iso8859-1", "latin1", "latin-1":
		return true
	}
	return false
}

// charsetReader resolves the encoding named in the XML declaration. When
// the caller forced a charset the input has already been converted.
func charsetReader(forced string) func(label string, input io.Reader) (io.Reader, error) {
	return func(label string, input io.Reader) (io.Reader, error) {
		if forced != "" && forced != "auto" {
			return input, nil
		}
		switch l := strings.ToLower(label); {
		case isLatin1(l):
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		case l == "windows-1252" || l == "cp1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		case l == "utf-8" || l == "utf8":
			return input, nil
		}
		return nil, errors.Newf("unsupported document charset %q", label)
	}
}

type multiCloser []io.Closer

func (m multiCloser) Close() error {
	var first error
	for _, c := range m {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

package dblp

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/dblpix/errors"
)

const sampleXML = `<?xml version="1.0" encoding="ISO-8859-1"?>
<!DOCTYPE dblp SYSTEM "dblp.dtd">
<dblp>
<article key="journals/x/Mueller98" mdate="2017-05-28">
<author orcid="0000-0001-2345-6789">J&uuml;rgen M&uuml;ller</author>
<title>Streams of <i>H<sub>2</sub>O</i> &amp; more.</title>
<pages>1-12</pages>
<year>1998</year>
<journal>J. Data</journal>
<ee type="oa">https://doi.org/10.1/x</ee>
</article>
<!-- a comment between records -->
<book key="books/x/Hopper" mdate="2019-01-01">
<editor>Grace Hopper</editor>
<title>Compilers</title>
<publisher>Press A</publisher>
<year>1952</year>
</book>
</dblp>
`

func sourceFor(t *testing.T, doc []byte, opts XMLOptions) *XMLSource {
	t.Helper()
	src, err := NewXMLSource(bytes.NewReader(doc), opts)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestXMLSourceEvents(t *testing.T) {
	src := sourceFor(t, []byte(`<dblp><article key="a"><year>1998</year></article></dblp>`), XMLOptions{})

	var got []string
	for {
		ev, err := src.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev.Kind.String()+":"+ev.Name)
	}
	assert.Equal(t, []string{
		"open:dblp", "open:article", "open:year", "close:year", "close:article", "close:dblp",
	}, got)
	assert.Equal(t, int64(7), src.Events(), "six element tokens and the year text")
}

func TestXMLSourceExpand(t *testing.T) {
	src := sourceFor(t, []byte(`<title bibtex="x">Streams of <i>H<sub>2</sub>O</i> &amp; more.</title><year>1</year>`), XMLOptions{})

	ev, err := src.Next()
	require.NoError(t, err)
	assert.Equal(t, []Attr{{Name: "bibtex", Value: "x"}}, ev.Attrs)

	text, err := src.Expand()
	require.NoError(t, err)
	assert.Equal(t, "Streams of <i>H<sub>2</sub>O</i> & more.", text)

	// Expand consumed the close; the next event is the sibling
	ev, err = src.Next()
	require.NoError(t, err)
	assert.Equal(t, Event{Kind: EventOpen, Name: "year"}, ev)

	_, err = src.Expand()
	require.NoError(t, err)
	_, err = src.Expand()
	assert.Error(t, err, "expand needs a pending open")
}

func TestXMLSourceExpandTruncated(t *testing.T) {
	src := sourceFor(t, []byte(`<dblp><article key="a"><title>never closed`), XMLOptions{})
	a, _ := newTestAssembler(t, AssemblerOptions{})
	_, err := drain(t, a, src)
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestXMLSourceLatin1AndEntities(t *testing.T) {
	doc := []byte(`<?xml version="1.0" encoding="ISO-8859-1"?><author>Gro` + "\xdf" + ` &auml;</author>`)
	src := sourceFor(t, doc, XMLOptions{})

	_, err := src.Next()
	require.NoError(t, err)
	text, err := src.Expand()
	require.NoError(t, err)
	assert.Equal(t, "Groß ä", text)
}

func TestXMLSourceForcedCharset(t *testing.T) {
	// No declaration, raw Latin-1 bytes
	doc := []byte("<author>Andr\xe9</author>")
	src := sourceFor(t, doc, XMLOptions{Charset: "ISO-8859-1"})

	_, err := src.Next()
	require.NoError(t, err)
	text, err := src.Expand()
	require.NoError(t, err)
	assert.Equal(t, "André", text)
}

func TestXMLSourceUnsupportedCharset(t *testing.T) {
	src := sourceFor(t, []byte(`<?xml version="1.0" encoding="EBCDIC"?><dblp/>`), XMLOptions{})
	_, err := src.Next()
	assert.ErrorContains(t, err, "unsupported document charset")
}

func TestXMLSourceGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(`<dblp><www key="homepages/1"><author>A</author></www></dblp>`))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	src := sourceFor(t, buf.Bytes(), XMLOptions{})
	a, _ := newTestAssembler(t, AssemblerOptions{})
	recs, err := drain(t, a, src)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "homepages/1", recs[0].Key)
}

func TestXMLSourceWithAssembler(t *testing.T) {
	src := sourceFor(t, []byte(sampleXML), XMLOptions{})
	a, q := newTestAssembler(t, AssemblerOptions{})

	recs, err := drain(t, a, src)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Zero(t, q.Count())

	article := recs[0]
	assert.Equal(t, CategoryArticle, article.Category)
	assert.Equal(t, "Streams of <i>H<sub>2</sub>O</i> & more.", article.Attrs.Title)
	assert.Equal(t, &PageRange{1, 12}, article.Attrs.Pages)
	assert.Equal(t, "J. Data", article.Attrs.Journal)
	require.Len(t, article.Attributions, 1)
	assert.Equal(t, "Jürgen Müller", article.Attributions[0].Person.FullName)
	assert.Equal(t, "0000-0001-2345-6789", article.Attributions[0].Person.ORCID)
	require.Len(t, article.Data, 1)
	assert.True(t, article.Data[0].IsOA)

	book := recs[1]
	assert.Equal(t, "Press A", book.Lookup(LookupPublisher).Name)
	assert.Equal(t, RoleEditor, book.Attributions[0].Role)
	assert.Equal(t, 1952, *book.Attrs.Year)
	assert.True(t, strings.HasPrefix(book.Attrs.MDate, "2019"))
}

package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detailPage = `<html><body>
<h4>Attention Is Still All You Need</h4>
<p><i>A. Smith</i>, <i> B. Lee </i>, <i>C. Wu</i>, <i>   </i></p>
<div>
  <a href="/paper_files/paper/2023/file/abc-Supplemental.zip">Supplemental</a>
  <a href="/paper_files/paper/2023/file/abc-Paper.pdf">Paper</a>
  <a href="/paper_files/paper/2023/file/abc-Review.pdf">Review</a>
</div>
</body></html>`

func mustDocument(t *testing.T, html string) Document {
	t.Helper()
	doc, err := ParseDocument([]byte(html))
	require.NoError(t, err)
	return doc
}

func mustExtractor(t *testing.T) *Extractor {
	t.Helper()
	ex, err := NewExtractor("https://papers.nips.cc", DefaultSelectors())
	require.NoError(t, err)
	return ex
}

func TestExtractAuthorsPreservesOrder(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	authors := ex.ExtractAuthors(mustDocument(t, detailPage))

	require.Equal(t, []string{"A. Smith", "B. Lee", "C. Wu"}, authors)
	assert.Equal(t, "A. Smith; B. Lee; C. Wu", JoinAuthors(authors))
}

func TestExtractPDFURLResolvesFirstMatch(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	got := ex.ExtractPDFURL(mustDocument(t, detailPage))

	assert.Equal(t, "https://papers.nips.cc/paper_files/paper/2023/file/abc-Paper.pdf", got)
}

func TestExtractPDFURLKeepsAbsoluteLinks(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	doc := mustDocument(t, `<a href="https://mirror.example.org/x.pdf">pdf</a>`)

	assert.Equal(t, "https://mirror.example.org/x.pdf", ex.ExtractPDFURL(doc))
}

func TestExtractorToleratesEmptyAndNilDocuments(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	for name, doc := range map[string]Document{
		"nil":       nil,
		"empty":     EmptyDocument(),
		"no markup": mustDocument(t, ""),
		"garbage":   mustDocument(t, "<<<i>>>/a href=.pdf"),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, ex.ExtractPDFURL(doc))
			refs, anomalies := ex.ExtractReferences(doc, 2020)
			assert.Empty(t, refs)
			assert.Empty(t, anomalies)
		})
	}
	assert.Empty(t, ex.ExtractAuthors(nil))
	assert.Empty(t, ex.ExtractAuthors(EmptyDocument()))
}

func TestExtractReferences(t *testing.T) {
	t.Parallel()

	ex := mustExtractor(t)
	doc := mustDocument(t, `<ul class="paper-list">
  <li class="conference"><a href="/paper_files/paper/2021/hash/one-Abstract.html">  First Paper </a></li>
  <li class="conference"><a>No Link</a></li>
  <li class="conference"><a href="http://[::1">Broken</a></li>
  <li class="workshop"><a href="/ignored.html">Workshop Paper</a></li>
  <li class="conference"><a href="/paper_files/paper/2021/hash/two-Abstract.html">Second: A/B Testing?</a></li>
</ul>`)

	refs, anomalies := ex.ExtractReferences(doc, 2021)

	require.Equal(t, []PaperReference{
		{Year: 2021, Title: "First Paper", DetailURL: "https://papers.nips.cc/paper_files/paper/2021/hash/one-Abstract.html"},
		{Year: 2021, Title: "Second: A/B Testing?", DetailURL: "https://papers.nips.cc/paper_files/paper/2021/hash/two-Abstract.html"},
	}, refs)
	require.Len(t, anomalies, 2)
	assert.Equal(t, "missing href", anomalies[0].Reason)
	assert.Equal(t, "unparsable href", anomalies[1].Reason)
}

func TestNewExtractorRejectsRelativeBase(t *testing.T) {
	t.Parallel()

	_, err := NewExtractor("papers.nips.cc", Selectors{})
	require.Error(t, err)
}

func TestNewExtractorFillsMissingSelectors(t *testing.T) {
	t.Parallel()

	ex, err := NewExtractor("https://papers.nips.cc/", Selectors{Authors: "span.author"})
	require.NoError(t, err)
	doc := mustDocument(t, `<span class="author">X</span><i>not an author</i><a href="a.pdf">p</a>`)

	assert.Equal(t, []string{"X"}, ex.ExtractAuthors(doc))
	assert.Equal(t, "https://papers.nips.cc/a.pdf", ex.ExtractPDFURL(doc))
}

func TestValidateTarget(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateTarget("https://papers.nips.cc/paper/2020"))
	require.NoError(t, ValidateTarget("http://localhost:8080/a.pdf"))
	for _, raw := range []string{"ftp://papers.nips.cc/a.pdf", "://nope", "http:///path", "mailto:x@y.z"} {
		assert.Error(t, ValidateTarget(raw), raw)
	}
}

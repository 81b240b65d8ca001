package report_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raysh454/perfsandbox/internal/report"
	"github.com/raysh454/perfsandbox/internal/tools"
)

var generatedAt = time.Date(2026, 5, 9, 10, 0, 0, 0, time.UTC)

func outcomes() []tools.Outcome {
	return []tools.Outcome{
		{ToolCode: "PSI", Status: tools.StatusSucceeded, ResultsURL: "https://psi.example/?url=x", Screenshot: []byte("png-psi"), Summary: "Speed: FAST"},
		{ToolCode: "TMS", Status: tools.StatusFailed, Error: "timeout waiting for .results"},
		{ToolCode: "LH", Status: tools.StatusSucceeded, Screenshot: []byte("png-lh")},
	}
}

func parse(t *testing.T, doc *report.Document) *goquery.Document {
	t.Helper()
	html, err := doc.HTML()
	require.NoError(t, err)
	q, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	require.NoError(t, err)
	return q
}

// ─── Aggregate ─────────────────────────────────────────────────────────

func TestAggregate_KeepsSucceededInOrder(t *testing.T) {
	t.Parallel()
	doc, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com", outcomes(), generatedAt)
	require.NoError(t, err)

	require.Len(t, doc.Sections, 2)
	assert.Equal(t, "PSI", doc.Sections[0].Code)
	assert.Equal(t, "LH", doc.Sections[1].Code)
	assert.Equal(t, "PageSpeed", doc.Sections[0].Name)
	assert.NotEmpty(t, doc.Sections[0].Description)
	assert.True(t, strings.HasPrefix(string(doc.Sections[1].Screenshot), "data:image/png;base64,"))
	assert.False(t, doc.Empty())
}

func TestAggregate_IsDeterministic(t *testing.T) {
	t.Parallel()
	a, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com", outcomes(), generatedAt)
	require.NoError(t, err)
	b, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com", outcomes(), generatedAt)
	require.NoError(t, err)

	ha, err := a.HTML()
	require.NoError(t, err)
	hb, err := b.HTML()
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestAggregate_NilCatalog(t *testing.T) {
	t.Parallel()
	_, err := report.Aggregate(nil, "http://example.com", nil, generatedAt)
	assert.Error(t, err)
}

// ─── HTML ──────────────────────────────────────────────────────────────

func TestHTML_RendersSections(t *testing.T) {
	t.Parallel()
	doc, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com", outcomes(), generatedAt)
	require.NoError(t, err)
	q := parse(t, doc)

	assert.Equal(t, report.DefaultTitle, strings.TrimSpace(q.Find("header h1").Text()))
	assert.Equal(t, "May 9, 2026", strings.TrimSpace(q.Find("header .date").Text()))

	sections := q.Find("section.tool")
	require.Equal(t, 2, sections.Length())
	assert.Equal(t, "PSI", sections.Eq(0).AttrOr("data-tool", ""))
	assert.Equal(t, "PageSpeed results", strings.TrimSpace(sections.Eq(0).Find(".title").Text()))
	assert.Equal(t, "https://psi.example/?url=x", sections.Eq(0).Find(".reportlink a").AttrOr("href", ""))
	assert.Contains(t, sections.Eq(0).Find(".summary").Text(), "Speed: FAST")

	src := sections.Eq(1).Find(".screenshot img").AttrOr("src", "")
	assert.True(t, strings.HasPrefix(src, "data:image/png;base64,"), "src = %q", src)
	assert.Equal(t, 0, sections.Eq(1).Find(".reportlink").Length())

	assert.Equal(t, 0, q.Find(".empty").Length())
	assert.NotContains(t, q.Text(), "TMS results")
}

func TestHTML_EmptyNotice(t *testing.T) {
	t.Parallel()
	doc, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com", []tools.Outcome{
		{ToolCode: "PSI", Status: tools.StatusFailed, Error: "boom"},
	}, generatedAt)
	require.NoError(t, err)
	assert.True(t, doc.Empty())

	q := parse(t, doc)
	assert.Equal(t, 0, q.Find("section.tool").Length())
	assert.Equal(t, 1, q.Find(".empty").Length())
}

func TestHTML_EscapesToolText(t *testing.T) {
	t.Parallel()
	doc, err := report.Aggregate(tools.DefaultCatalog(), "http://example.com/<script>", []tools.Outcome{
		{ToolCode: "PSI", Status: tools.StatusSucceeded, Summary: "<b>bold</b>"},
	}, generatedAt)
	require.NoError(t, err)
	html, err := doc.HTML()
	require.NoError(t, err)
	assert.NotContains(t, string(html), "<b>bold</b>")
	assert.NotContains(t, string(html), "/<script>")
}

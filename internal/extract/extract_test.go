package extract

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/publication-harvester/internal/browser/browsertest"
	"github.com/JakeFAU/publication-harvester/internal/publication"
)

const detailURL = "https://research.example.edu/en/publications/on-markets"

func resolveHTML(t *testing.T, html, hint string) Resolution {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)
	base, err := url.Parse(detailURL)
	require.NoError(t, err)
	return Resolve(doc, base, detailURL, hint)
}

func names(authors []publication.AuthorRef) []string {
	out := make([]string, 0, len(authors))
	for _, a := range authors {
		out = append(out, a.Name)
	}
	return out
}

const portalPage = `<html><head>
<meta name="citation_author" content="Meta, Person">
</head><body>
<h1><span>On   Markets</span></h1>
<p class="subtitle">On Markets Wrong, Z. &amp; Other, Y. <span class="date">12 Mar 2021</span></p>
<div class="relations persons">
  <a href="/en/persons/alice-smith">Alice Smith</a>,
  <a href="https://research.example.edu/en/persons/bob-doe">Bob Doe</a>,
  <a href="/en/persons/alice-smith-2">Alice Smith</a>
  <a href="/en/organisations/school">School of Economics</a>
</div>
<section id="abstract"><div class="textblock">
  We study how markets clear under inconsistent markup.
</div></section>
</body></html>`

func TestResolveStructuredAuthorsShortCircuit(t *testing.T) {
	t.Parallel()

	res := resolveHTML(t, portalPage, "hint")
	rec := res.Record

	assert.Equal(t, "On Markets", rec.Title)
	assert.Equal(t, detailURL, rec.Link)
	assert.Equal(t, "structured", res.Sources.Authors)
	assert.Equal(t, []publication.AuthorRef{
		{Name: "Alice Smith", Profile: "https://research.example.edu/en/persons/alice-smith"},
		{Name: "Bob Doe", Profile: "https://research.example.edu/en/persons/bob-doe"},
	}, rec.Authors)
	assert.NotContains(t, names(rec.Authors), "Wrong, Z.", "byline must not be consulted")
	assert.NotContains(t, names(rec.Authors), "Meta, Person")

	require.NotNil(t, rec.PublishedDate)
	assert.Equal(t, "12 Mar 2021", *rec.PublishedDate)
	assert.Equal(t, "span.date", res.Sources.Date)
	assert.Equal(t, "We study how markets clear under inconsistent markup.", rec.Abstract)
	assert.Equal(t, "section#abstract .textblock", res.Sources.Abstract)
}

func TestResolveSecondStructuredScope(t *testing.T) {
	t.Parallel()

	res := resolveHTML(t, `<h1>T</h1><section id="persons">
<a href="/en/persons/a">  Ann   Lee </a><a href="/en/persons/b"></a></section>`, "")
	assert.Equal(t, "structured", res.Sources.Authors)
	assert.Equal(t, []publication.AuthorRef{
		{Name: "Ann Lee", Profile: "https://research.example.edu/en/persons/a"},
	}, res.Record.Authors)
}

func TestResolveBylineAuthors(t *testing.T) {
	t.Parallel()

	html := `<h1>Debt and Growth</h1>
<div class="rendering"><div class="rendering_contributiontojournal_subtitle">
Debt and Growth
Smith, J. &amp; Doe, A. <span class="date">2021</span>, In: Journal of Things. 4, 2
</div></div>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "byline", res.Sources.Authors)
	assert.Equal(t, []string{"Smith, J.", "Doe, A."}, names(res.Record.Authors))
	for _, a := range res.Record.Authors {
		assert.Empty(t, a.Profile)
	}
	require.NotNil(t, res.Record.PublishedDate)
	assert.Equal(t, "2021", *res.Record.PublishedDate)
}

func TestResolveBylineFallsBackToParent(t *testing.T) {
	t.Parallel()

	res := resolveHTML(t, `<h1>X</h1><p>Brown, K. L. and O'Neil, P. <span class="date">5 May 2020</span></p>`, "")
	assert.Equal(t, []string{"Brown, K. L.", "O'Neil, P."}, names(res.Record.Authors))
}

func TestParseByline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		line  string
		title string
		want  []string
	}{
		{"example", "Smith, J. & Doe, A. 2021", "", []string{"Smith, J.", "Doe, A."}},
		{"title stripped", "A Study  of Things Smith, J. 2019", "A Study of Things", []string{"Smith, J."}},
		{"conjunction", "Smith, J., Doe, A. and Roe, B. C. 1 Jan 2020", "", []string{"Smith, J.", "Doe, A.", "Roe, B. C."}},
		{"duplicates", "Smith, J. & Smith, J. 2020", "", []string{"Smith, J."}},
		{"separators", "— Lee, K. | 2020", "", []string{"Lee, K."}},
		{"no names", "Published 2020", "", []string{}},
		{"stops at first digit", "Kim, S. 3rd edition Park, T.", "", []string{"Kim, S."}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseByline(tc.line, tc.title))
		})
	}
}

func TestResolveMetaAuthors(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<meta name="citation_author" content="Garcia, M.">
<meta name="citation_author" content=" Chen, L. ">
<meta property="dc.contributor" content="Garcia, M.">
<meta name="dc.contributor.author" content="">
<meta name="citation_publication_date" content="2018/05/01">
<meta name="dc.date" content="2018">
</head><body><h1>Meta only</h1></body></html>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "meta", res.Sources.Authors)
	assert.Equal(t, []string{"Garcia, M.", "Chen, L."}, names(res.Record.Authors))
	assert.Equal(t, "meta", res.Sources.Date)
	require.NotNil(t, res.Record.PublishedDate)
	assert.Equal(t, "2018/05/01", *res.Record.PublishedDate)
}

func TestResolveJSONLDAuthors(t *testing.T) {
	t.Parallel()

	html := `<h1>LD</h1>
<script type="application/ld+json">not json</script>
<script type="application/ld+json">[
 {"@type": "ScholarlyArticle", "author": [{"name": "Ivy Tan"}, "Omar Ali", {"@type": "Person"}]},
 {"@type": "WebPage", "author": {"name": "Ivy Tan"}}
]</script>
<script type="application/ld+json">{"author": "Rui Costa"}</script>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "jsonld", res.Sources.Authors)
	assert.Equal(t, []string{"Ivy Tan", "Omar Ali", "Rui Costa"}, names(res.Record.Authors))
}

func TestResolveUnresolvedFields(t *testing.T) {
	t.Parallel()

	res := resolveHTML(t, `<html><body><p>nothing here</p></body></html>`, "  Listing   Title ")
	rec := res.Record
	assert.Equal(t, "Listing Title", rec.Title)
	assert.Equal(t, "hint", res.Sources.Title)
	assert.NotNil(t, rec.Authors)
	assert.Empty(t, rec.Authors)
	assert.Nil(t, rec.PublishedDate)
	assert.Empty(t, rec.Abstract)
	assert.Equal(t, Sources{Title: "hint"}, res.Sources)

	res = resolveHTML(t, `<p>nothing</p>`, "")
	assert.Empty(t, res.Record.Title)
}

func TestResolveDateChain(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		html   string
		want   string
		source string
	}{
		{"span datetime attr", `<span class="date" datetime="2020-01-02">2 Jan 2020</span>`, "2020-01-02", "span.date"},
		{"empty span falls through", `<span class="date"> </span><time datetime="2019-03-04">x</time>`, "2019-03-04", "time[datetime]"},
		{"time text", `<time> Spring 2017 </time>`, "Spring 2017", "time"},
		{"meta property", `<meta property="article:published_time" content="2016-07-08T00:00:00Z">`, "2016-07-08T00:00:00Z", "meta"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := resolveHTML(t, tc.html, "")
			require.NotNil(t, res.Record.PublishedDate)
			assert.Equal(t, tc.want, *res.Record.PublishedDate)
			assert.Equal(t, tc.source, res.Sources.Date)
		})
	}
}

func TestResolveAbstractRejectsShortCandidates(t *testing.T) {
	t.Parallel()

	html := `<h1>A</h1>
<div id="abstract">Short text</div>
<div class="textblock">This abstract is comfortably longer than fifteen.</div>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "This abstract is comfortably longer than fifteen.", res.Record.Abstract)
	assert.Equal(t, "div.textblock", res.Sources.Abstract)
}

func TestResolveAbstractFromHeading(t *testing.T) {
	t.Parallel()

	html := `<h1>A</h1>
<h2>Overview</h2><p>not this</p>
<h3>ABSTRACT</h3><span>skip inline</span><p>Heading based abstract text.</p>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "Heading based abstract text.", res.Record.Abstract)
	assert.Equal(t, "heading", res.Sources.Abstract)

	res = resolveHTML(t, `<h2>Abstract</h2><p> </p><h2>Abstract (English)</h2><div>Second.</div>`, "")
	assert.Equal(t, "Second.", res.Record.Abstract)
}

func TestResolveAbstractKeepsBlockBoundaries(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		html   string
		want   string
		source string
	}{
		{
			"paragraphs",
			`<h1>A</h1><div id="abstract"><p>Markets clear slowly.</p><p>We test this claim.</p></div>`,
			"Markets clear slowly. We test this claim.",
			"div#abstract",
		},
		{
			"line break",
			`<h1>A</h1><section id="abstract"><div class="textblock">first line<br>second line</div></section>`,
			"first line second line",
			"section#abstract .textblock",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := resolveHTML(t, tc.html, "")
			assert.Equal(t, tc.want, res.Record.Abstract)
			assert.Equal(t, tc.source, res.Sources.Abstract)
		})
	}
}

func TestResolveBylineSplitAcrossBlocks(t *testing.T) {
	t.Parallel()

	html := `<h1>Debt and Growth</h1>
<div class="rendering_contributiontojournal_subtitle"><div>Journal</div><div>Smith, J. &amp; Doe, A. <span class="date">2021</span></div></div>`
	res := resolveHTML(t, html, "")
	assert.Equal(t, "byline", res.Sources.Authors)
	assert.Equal(t, []string{"Smith, J.", "Doe, A."}, names(res.Record.Authors))
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingPauser) Pause(_ context.Context, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
}

func TestExtract(t *testing.T) {
	t.Parallel()

	site := browsertest.NewSite(map[string]string{detailURL: portalPage})
	session, err := browsertest.NewOpener(site).Open(context.Background(), true)
	require.NoError(t, err)

	pauser := &recordingPauser{}
	e := New(Config{ReadyTimeout: time.Millisecond}, zap.NewNop())
	e.pauser = pauser

	rec, err := e.Extract(context.Background(), session, detailURL, "hint", 350*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "On Markets", rec.Title)
	assert.Len(t, rec.Authors, 2)
	assert.Equal(t, []time.Duration{350 * time.Millisecond}, pauser.delays)

	fake := session.(*browsertest.Session)
	assert.Equal(t, 1, fake.Consents())
	assert.Equal(t, 1, fake.Expansions())
}

func TestExtractPropagatesNavigationFaults(t *testing.T) {
	t.Parallel()

	boom := errors.New("tab crashed")
	site := browsertest.NewSite(nil)
	site.Fail(detailURL, boom)
	session, err := browsertest.NewOpener(site).Open(context.Background(), true)
	require.NoError(t, err)

	e := New(Config{}, nil)
	pauser := &recordingPauser{}
	e.pauser = pauser
	_, err = e.Extract(context.Background(), session, detailURL, "", time.Second)
	require.ErrorIs(t, err, boom)
	assert.Empty(t, pauser.delays)

	require.NoError(t, session.Close())
	_, err = e.Extract(context.Background(), session, detailURL, "", 0)
	require.Error(t, err)
}

func TestTimerPauseControllerHonoursContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	timerPauseController{}.Pause(ctx, time.Minute)
	assert.Less(t, time.Since(start), time.Second)

	start = time.Now()
	timerPauseController{}.Pause(context.Background(), 10*time.Millisecond)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)
}

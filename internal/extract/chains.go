package extract

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/publication-harvester/internal/browser"
	"github.com/JakeFAU/publication-harvester/internal/publication"
)

// Sources names the chain step that resolved each field. An empty value
// means the field stayed unresolved.
type Sources struct {
	Title    string
	Authors  string
	Date     string
	Abstract string
}

// Resolution is the outcome of running every chain over one page.
type Resolution struct {
	Record  publication.Record
	Sources Sources
}

// page is what a chain step can look at.
type page struct {
	doc   *goquery.Document
	base  *url.URL
	title string
}

type step[T any] struct {
	name string
	fn   func(p page) (T, bool)
}

// firstMatch runs steps in order and returns the first resolved value with
// the name of the step that produced it.
func firstMatch[T any](p page, steps []step[T]) (T, string) {
	for _, s := range steps {
		if v, ok := s.fn(p); ok {
			return v, s.name
		}
	}
	var zero T
	return zero, ""
}

var (
	structuredAuthorScopes = []string{
		".relations.persons a[href*='/en/persons/']",
		"section#persons a[href*='/en/persons/']",
	}
	authorMetaNames = []string{"citation_author", "dc.contributor", "dc.contributor.author"}
	dateMetaNames   = []string{"citation_publication_date", "dc.date", "article:published_time"}
	abstractBlocks  = []string{
		"section#abstract .textblock",
		"section.abstract .textblock",
		"div.abstract .textblock",
		"div#abstract",
		"section#abstract",
		"div.textblock",
	}
)

// minAbstractRunes rejects placeholder blocks.
const minAbstractRunes = 15

var (
	firstDigit = regexp.MustCompile(`\d`)
	namePair   = regexp.MustCompile(`[A-Z][A-Za-z'’\-]+,\s*[A-Z]\.?(?:\s*[A-Z]\.?)*`)
)

// Resolve runs the title, author, date and abstract chains against doc.
// link becomes the record identity regardless of where the page ended up.
func Resolve(doc *goquery.Document, base *url.URL, link, titleHint string) Resolution {
	p := page{doc: doc, base: base}

	title, titleSrc := firstMatch(p, titleChain(titleHint))
	p.title = title
	authors, authorSrc := firstMatch(p, authorChain)
	date, dateSrc := firstMatch(p, dateChain)
	abstract, abstractSrc := firstMatch(p, abstractChain)

	if authors == nil {
		authors = []publication.AuthorRef{}
	}
	return Resolution{
		Record: publication.Record{
			Title:         title,
			Link:          link,
			Authors:       authors,
			PublishedDate: publication.StringPtr(date),
			Abstract:      abstract,
		},
		Sources: Sources{Title: titleSrc, Authors: authorSrc, Date: dateSrc, Abstract: abstractSrc},
	}
}

func nonEmpty(v string) (string, bool) {
	v = strings.TrimSpace(v)
	return v, v != ""
}

func titleChain(hint string) []step[string] {
	return []step[string]{
		{"heading", func(p page) (string, bool) {
			return nonEmpty(browser.Text(p.doc.Find("h1").First()))
		}},
		{"hint", func(page) (string, bool) {
			return nonEmpty(browser.CollapseSpace(hint))
		}},
	}
}

var authorChain = []step[[]publication.AuthorRef]{
	{"structured", structuredAuthors},
	{"byline", namesStep(bylineAuthors)},
	{"meta", namesStep(func(p page) []string { return metaValues(p.doc, authorMetaNames) })},
	{"jsonld", namesStep(jsonLDAuthors)},
}

func namesStep(fn func(p page) []string) func(page) ([]publication.AuthorRef, bool) {
	return func(p page) ([]publication.AuthorRef, bool) {
		authors := publication.NamesToAuthors(fn(p))
		return authors, len(authors) > 0
	}
}

// structuredAuthors reads person links from the first scope that has any.
func structuredAuthors(p page) ([]publication.AuthorRef, bool) {
	for _, sel := range structuredAuthorScopes {
		var found []publication.AuthorRef
		p.doc.Find(sel).Each(func(_ int, a *goquery.Selection) {
			name := browser.Text(a)
			if name == "" {
				return
			}
			href, _ := a.Attr("href")
			found = append(found, publication.AuthorRef{Name: name, Profile: browser.ResolveURL(p.base, href)})
		})
		if len(found) > 0 {
			return publication.UniqueAuthors(found), true
		}
	}
	return nil, false
}

// bylineAuthors parses the subtitle line that carries the date.
func bylineAuthors(p page) []string {
	date := p.doc.Find("span.date").First()
	if date.Length() == 0 {
		return nil
	}
	line := date.ParentsFiltered("[class*='subtitle']").First()
	if line.Length() == 0 {
		line = date.Parent()
	}
	return ParseByline(browser.BlockText(line), p.title)
}

// ParseByline extracts "Surname, I." names from an author/date line. The
// title is removed first and everything from the first digit on is treated
// as the date.
func ParseByline(line, title string) []string {
	line = browser.CollapseSpace(line)
	if title = browser.CollapseSpace(title); title != "" {
		line = strings.ReplaceAll(line, title, "")
		line = browser.CollapseSpace(line)
	}
	if loc := firstDigit.FindStringIndex(line); loc != nil {
		line = strings.Trim(line[:loc[0]], " -—–·•,;|")
	}
	line = strings.ReplaceAll(line, " & ", ", ")
	line = strings.ReplaceAll(line, " and ", ", ")
	return publication.UniqueStrings(namePair.FindAllString(line, -1))
}

func metaValues(doc *goquery.Document, names []string) []string {
	var out []string
	for _, n := range names {
		sel := `meta[name="` + n + `"], meta[property="` + n + `"]`
		doc.Find(sel).Each(func(_ int, m *goquery.Selection) {
			if c, ok := m.Attr("content"); ok {
				out = append(out, c)
			}
		})
	}
	return publication.UniqueStrings(out)
}

func jsonLDAuthors(p page) []string {
	var names []string
	p.doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return
		}
		objs, ok := data.([]any)
		if !ok {
			objs = []any{data}
		}
		for _, o := range objs {
			obj, ok := o.(map[string]any)
			if !ok {
				continue
			}
			names = append(names, authorNames(obj["author"])...)
		}
	})
	return publication.UniqueStrings(names)
}

func authorNames(v any) []string {
	switch a := v.(type) {
	case string:
		return []string{a}
	case map[string]any:
		if n, ok := a["name"].(string); ok {
			return []string{n}
		}
	case []any:
		var out []string
		for _, item := range a {
			out = append(out, authorNames(item)...)
		}
		return out
	}
	return nil
}

var dateChain = []step[string]{
	{"span.date", dateElement("span.date")},
	{"time[datetime]", dateElement("time[datetime]")},
	{"time", dateElement("time")},
	{"meta", func(p page) (string, bool) {
		vals := metaValues(p.doc, dateMetaNames)
		if len(vals) == 0 {
			return "", false
		}
		return vals[0], true
	}},
}

// dateElement prefers the machine-readable datetime attribute of the first
// match and falls back to its text.
func dateElement(sel string) func(page) (string, bool) {
	return func(p page) (string, bool) {
		el := p.doc.Find(sel).First()
		if el.Length() == 0 {
			return "", false
		}
		if v, ok := nonEmpty(el.AttrOr("datetime", "")); ok {
			return v, true
		}
		return nonEmpty(browser.Text(el))
	}
}

var abstractChain = func() []step[string] {
	steps := make([]step[string], 0, len(abstractBlocks)+1)
	for _, sel := range abstractBlocks {
		steps = append(steps, step[string]{sel, abstractBlock(sel)})
	}
	return append(steps, step[string]{"heading", abstractAfterHeading})
}()

func abstractBlock(sel string) func(page) (string, bool) {
	return func(p page) (string, bool) {
		el := p.doc.Find(sel).First()
		if el.Length() == 0 {
			return "", false
		}
		text := browser.Text(el)
		return text, utf8.RuneCountInString(text) > minAbstractRunes
	}
}

func abstractAfterHeading(p page) (string, bool) {
	var text string
	p.doc.Find("h2, h3").EachWithBreak(func(_ int, h *goquery.Selection) bool {
		if !strings.Contains(strings.ToLower(browser.Text(h)), "abstract") {
			return true
		}
		text = browser.Text(h.NextAllFiltered("div, p, section").First())
		return text == ""
	})
	return text, text != ""
}

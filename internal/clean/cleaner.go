// internal/clean/cleaner.go

// Package clean extracts the main content region from fetched HTML and
// reduces it to portable markup: chrome stripped, relative links qualified,
// redundant wrapper elements removed by bounded rewrite passes.
package clean

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extracted is the cleaned content of one source page plus the metadata
// candidates harvested before stripping.
type Extracted struct {
	Body            string
	Title           string // <title> text
	H1              string // first h1 text
	MetaDescription string
	FirstImage      string // first img src inside the main region, absolute
}

// mainSelectors are tried in order when choosing the content region.
var mainSelectors = []string{
	"main",
	"article",
	"#content",
	"#main-content",
	".content",
	".main-content",
	"#main",
}

// chromeSelectors match page furniture removed before the region is chosen.
var chromeSelectors = []string{
	"script", "style", "noscript", "iframe", "form",
	"nav", "header", "footer", "aside",
	"[class*=nav]", "[class*=menu]", "[class*=sidebar]",
	"[class*=breadcrumb]", "[class*=comment]", "[class*=cookie]",
	"[id*=nav]", "[id*=menu]", "[id*=sidebar]", "[id*=footer]", "[id*=header]",
}

// Extract parses raw HTML, harvests the metadata candidates, strips page
// chrome, selects the main content region, qualifies relative href/src
// against sourceURL, and runs the reduction passes over the result.
func Extract(rawHTML, sourceURL string) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	result := &Extracted{
		Title:           strings.TrimSpace(doc.Find("title").First().Text()),
		H1:              strings.TrimSpace(doc.Find("h1").First().Text()),
		MetaDescription: metaDescription(doc),
	}

	for _, sel := range chromeSelectors {
		doc.Find(sel).Remove()
	}

	region := selectRegion(doc)
	qualifyURLs(region, sourceURL)

	if src, ok := region.Find("img[src]").First().Attr("src"); ok {
		result.FirstImage = src
	}

	body, err := region.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize content region: %w", err)
	}
	result.Body = Reduce(body)

	return result, nil
}

// metaDescription returns the page description, preferring the standard meta
// tag and falling back to the Open Graph and Twitter variants.
func metaDescription(doc *goquery.Document) string {
	selectors := []string{
		`meta[name="description"]`,
		`meta[property="og:description"]`,
		`meta[name="twitter:description"]`,
	}
	for _, sel := range selectors {
		if content, ok := doc.Find(sel).First().Attr("content"); ok {
			if content = strings.TrimSpace(content); content != "" {
				return content
			}
		}
	}
	return ""
}

func selectRegion(doc *goquery.Document) *goquery.Selection {
	for _, sel := range mainSelectors {
		region := doc.Find(sel).First()
		if region.Length() > 0 && strings.TrimSpace(region.Text()) != "" {
			return region
		}
	}
	return doc.Find("body").First()
}

// qualifyURLs rewrites relative href and src attributes to absolute URLs so
// links keep working outside the source site.
func qualifyURLs(region *goquery.Selection, sourceURL string) {
	base, err := url.Parse(sourceURL)
	if err != nil || base.Host == "" {
		return
	}

	rewrite := func(sel *goquery.Selection, attr string) {
		raw, ok := sel.Attr(attr)
		if !ok || raw == "" {
			return
		}
		if strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, "data:") ||
			strings.HasPrefix(raw, "mailto:") || strings.HasPrefix(raw, "tel:") {
			return
		}
		ref, err := url.Parse(raw)
		if err != nil || ref.IsAbs() {
			return
		}
		sel.SetAttr(attr, base.ResolveReference(ref).String())
	}

	region.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		rewrite(sel, "href")
	})
	region.Find("img[src]").Each(func(_ int, sel *goquery.Selection) {
		rewrite(sel, "src")
	})
}

// maxReducePasses bounds the nested-wrapper collapse loop. Real pages settle
// in one or two passes; the ceiling guards against pathological nesting.
const maxReducePasses = 5

var (
	emptyDiv     = regexp.MustCompile(`(?s)<div[^>]*>\s*</div>`)
	tripleDiv    = regexp.MustCompile(`(?s)<div[^>]*>\s*<div[^>]*>\s*<div[^>]*>(.*?)</div>\s*</div>\s*</div>`)
	textOnlyDiv  = regexp.MustCompile(`<div[^>]*>([^<>]+?)</div>`)
	doubleP      = regexp.MustCompile(`(?s)<p[^>]*>\s*<p[^>]*>(.*?)</p>\s*</p>`)
	blankLineRun = regexp.MustCompile(`\n{3,}`)
)

// Reduce applies the bounded wrapper-reduction passes to an HTML fragment:
// empty divs removed, triple-nested divs collapsed to one, divs holding only
// text converted to paragraphs, directly nested paragraphs unwrapped. Reduce
// is idempotent: applying it to its own output changes nothing.
func Reduce(html string) string {
	for pass := 0; pass < maxReducePasses; pass++ {
		reduced := reduceOnce(html)
		if reduced == html {
			break
		}
		html = reduced
	}
	return strings.TrimSpace(blankLineRun.ReplaceAllString(html, "\n\n"))
}

func reduceOnce(html string) string {
	html = emptyDiv.ReplaceAllString(html, "")
	html = tripleDiv.ReplaceAllString(html, "<div>$1</div>")
	html = textOnlyDiv.ReplaceAllString(html, "<p>$1</p>")
	html = doubleP.ReplaceAllString(html, "<p>$1</p>")
	return html
}

var imgTags = regexp.MustCompile(`(?i)<img[^>]*>`)

// StripImages removes img elements from an HTML fragment. Bodies migrated
// without image processing drop pictures whose files stay on the source
// site; Reduce runs again so their emptied wrappers disappear too.
func StripImages(html string) string {
	return Reduce(imgTags.ReplaceAllString(html, ""))
}

var h1Tags = regexp.MustCompile(`(?i)<(/?)h1([^>]*)>`)

// DemoteHeadings lowers h1 elements to h2. Article bodies use it so the
// rendered page keeps a single top-level heading.
func DemoteHeadings(html string) string {
	return h1Tags.ReplaceAllString(html, "<${1}h2$2>")
}

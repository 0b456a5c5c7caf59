package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// ThreadRef is one thread row on a forum listing page. Only enough is parsed
// to decide whether to visit the thread; the full record comes from the
// thread page itself.
type ThreadRef struct {
	ThreadID string
	Title    string
	URL      string
	Engine   catalog.Engine
	Status   catalog.Status
}

// ListingPage is the parsed form of one forum listing page.
type ListingPage struct {
	Category catalog.Category
	Threads  []ThreadRef
	// NextPageURL is empty when the pagination "next" marker is absent or
	// disabled, the explicit end-of-source signal.
	NextPageURL string
}

// Listing parses a forum listing page: resolves the section's category from
// the breadcrumb trail, collects thread rows, and finds the next page link.
func Listing(html []byte, pageURL string) (ListingPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return ListingPage{}, fmt.Errorf("parse listing html: %w", err)
	}

	page := ListingPage{
		Category:    ResolveCategory(Breadcrumbs(doc)),
		NextPageURL: nextPageURL(doc, pageURL),
	}

	doc.Find(".structItem--thread, .structItem").Each(func(_ int, item *goquery.Selection) {
		ref, ok := parseThreadRow(item, pageURL)
		if !ok {
			return
		}
		page.Threads = append(page.Threads, ref)
	})
	return page, nil
}

func parseThreadRow(item *goquery.Selection, pageURL string) (ThreadRef, bool) {
	link := item.Find(".structItem-title a[data-tp-primary]").First()
	if link.Length() == 0 {
		link = item.Find(".structItem-title a").First()
	}
	if link.Length() == 0 {
		return ThreadRef{}, false
	}

	href, _ := link.Attr("href")
	absURL := AbsoluteURL(pageURL, href)
	if absURL == "" {
		return ThreadRef{}, false
	}

	ref := ThreadRef{
		ThreadID: ThreadID(absURL),
		Title:    collapseSpace(link.Text()),
		URL:      CanonicalURL(absURL),
		Engine:   catalog.EngineOther,
		Status:   catalog.StatusUnknown,
	}
	if ref.ThreadID == "" || ref.Title == "" {
		return ThreadRef{}, false
	}

	item.Find(".label").Each(func(_ int, label *goquery.Selection) {
		classAttr, _ := label.Attr("class")
		if ref.Engine == catalog.EngineOther {
			if engine := EngineForClasses(strings.Fields(classAttr)); engine != catalog.EngineOther {
				ref.Engine = engine
			}
		}
		if ref.Status == catalog.StatusUnknown {
			if status := StatusForLabel(label.Text()); status != catalog.StatusUnknown {
				ref.Status = status
			}
		}
	})
	return ref, true
}

func nextPageURL(doc *goquery.Document, pageURL string) string {
	next := doc.Find("a.pageNav-jump--next").First()
	if next.Length() == 0 {
		return ""
	}
	if classAttr, _ := next.Attr("class"); strings.Contains(classAttr, "is-disabled") {
		return ""
	}
	href, _ := next.Attr("href")
	abs := AbsoluteURL(pageURL, href)
	if abs == pageURL {
		return ""
	}
	return abs
}

package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// Breadcrumbs returns the navigation trail of a page, most general segment
// first. XenForo renders the trail as <ul class="p-breadcrumbs"> with
// itemprop="name" spans; plain link text is the fallback.
func Breadcrumbs(doc *goquery.Document) []string {
	var trail []string
	doc.Find("ul.p-breadcrumbs li").Each(func(_ int, li *goquery.Selection) {
		text := strings.TrimSpace(li.Find(`span[itemprop="name"]`).First().Text())
		if text == "" {
			text = strings.TrimSpace(li.Find("a").First().Text())
		}
		if text != "" {
			trail = append(trail, text)
		}
	})
	return trail
}

// ResolveCategory maps a breadcrumb trail to an allowed category. The trail
// is scanned from its most specific segment backwards; the first segment that
// case-insensitively matches the allow-list wins. The forum-root segment is
// never considered. Anything else is CategoryUnrecognized, which callers must
// treat as "skip this thread", not as a failure.
func ResolveCategory(trail []string) catalog.Category {
	if len(trail) == 0 {
		return catalog.CategoryUnrecognized
	}
	// Drop the root segment; sections named like the root should not match
	// through it.
	segments := trail[1:]
	for i := len(segments) - 1; i >= 0; i-- {
		segment := strings.TrimSpace(segments[i])
		for _, category := range catalog.Categories() {
			if strings.EqualFold(segment, string(category)) {
				return category
			}
		}
	}
	return catalog.CategoryUnrecognized
}

package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

const (
	maxDescriptionLen = 5000
	maxTags           = 20
	maxImages         = 10
)

// Thread parses one thread page into a partially-defaulted record. It never
// fails for the whole thread: each field has an independent parser and a
// defined default, so a malformed changelog section cannot poison the title.
func Thread(html []byte, pageURL string) (catalog.PartialGameRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return catalog.PartialGameRecord{}, fmt.Errorf("parse thread html: %w", err)
	}

	canonical := CanonicalURL(pageURL)
	title := headingTitle(doc)
	description := firstPostText(doc)

	record := catalog.PartialGameRecord{
		ThreadID:    ThreadID(pageURL),
		Title:       title,
		Category:    ResolveCategory(Breadcrumbs(doc)),
		Engine:      engineFromLabels(doc),
		Status:      statusFromLabels(doc),
		Version:     VersionFromTitle(title),
		Developer:   Developer(title, description, doc),
		Description: description,
		Tags:        Tags(doc, description),
		Changelog:   Changelog(doc),
		SourceURL:   canonical,
		Images:      Images(doc, pageURL),
	}
	return record, nil
}

// headingTitle returns the page heading with label markers stripped. The raw
// heading text is the failure default, so a heading without labels passes
// through untouched.
func headingTitle(doc *goquery.Document) string {
	heading := doc.Find("h1.p-title-value").First()
	if heading.Length() == 0 {
		heading = doc.Find("h1").First()
	}
	if heading.Length() == 0 {
		return ""
	}
	clone := heading.Clone()
	clone.Find(".label, .labelLink").Remove()
	title := collapseSpace(clone.Text())
	if title == "" {
		title = collapseSpace(heading.Text())
	}
	return title
}

func engineFromLabels(doc *goquery.Document) catalog.Engine {
	engine := catalog.EngineOther
	doc.Find(".label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		classAttr, _ := label.Attr("class")
		if found := EngineForClasses(strings.Fields(classAttr)); found != catalog.EngineOther {
			engine = found
			return false
		}
		return true
	})
	return engine
}

func statusFromLabels(doc *goquery.Document) catalog.Status {
	status := catalog.StatusUnknown
	doc.Find(".label").EachWithBreak(func(_ int, label *goquery.Selection) bool {
		if found := StatusForLabel(label.Text()); found != catalog.StatusUnknown {
			status = found
			return false
		}
		return true
	})
	return status
}

// firstPostText extracts the opening post body, length-capped. Empty string
// on any structural mismatch.
func firstPostText(doc *goquery.Document) string {
	body := doc.Find(".message-body .bbWrapper").First()
	if body.Length() == 0 {
		return ""
	}
	text := strings.TrimSpace(body.Text())
	if len(text) > maxDescriptionLen {
		text = text[:maxDescriptionLen]
	}
	return text
}

var developerFieldPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)developer:\s*(.+)`),
	regexp.MustCompile(`(?i)\bdev:\s*(.+)`),
	regexp.MustCompile(`(?i)made\s+by:\s*(.+)`),
	regexp.MustCompile(`(?i)creator:\s*(.+)`),
	regexp.MustCompile(`(?i)author:\s*(.+)`),
}

var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)
var versionLikePattern = regexp.MustCompile(`(?i)^v?\.?\d[\d.]*`)

// Developer runs the developer heuristics in priority order: an explicit
// "Developer:" field in the first post, a definition-list row, then title
// bracket candidates that are neither version nor engine nor status markers.
// Default is empty; the thread uploader is deliberately never used.
func Developer(title, description string, doc *goquery.Document) string {
	for _, pattern := range developerFieldPatterns {
		m := pattern.FindStringSubmatch(description)
		if m == nil {
			continue
		}
		candidate := collapseSpace(strings.SplitN(m[1], "\n", 2)[0])
		candidate = strings.TrimSpace(bracketPattern.ReplaceAllString(candidate, ""))
		if len(candidate) > 2 && len(candidate) < 100 {
			return candidate
		}
	}

	if doc != nil {
		if dev := developerFromDefinitionList(doc); dev != "" {
			return dev
		}
	}

	for _, candidate := range bracketPattern.FindAllStringSubmatch(title, -1) {
		token := strings.TrimSpace(candidate[1])
		if versionLikePattern.MatchString(token) || isEngineName(token) || isStatusName(token) {
			continue
		}
		if len(token) > 1 && len(token) < 50 {
			return token
		}
	}

	// "Developer - Game Name" prefix, only when the prefix is clearly shorter
	// than the rest of the title.
	if idx := strings.Index(title, " - "); idx > 2 && idx < len(title)/2 {
		prefix := strings.TrimSpace(title[:idx])
		if !versionLikePattern.MatchString(prefix) && len(prefix) < 50 {
			return prefix
		}
	}

	return ""
}

func developerFromDefinitionList(doc *goquery.Document) string {
	dev := ""
	doc.Find("dl").EachWithBreak(func(_ int, dl *goquery.Selection) bool {
		term := strings.ToLower(strings.TrimSpace(dl.Find("dt").First().Text()))
		switch {
		case strings.Contains(term, "developer"), strings.Contains(term, "creator"),
			strings.Contains(term, "author"), term == "dev":
			value := collapseSpace(dl.Find("dd").First().Text())
			if len(value) > 2 && len(value) < 100 {
				dev = value
				return false
			}
		}
		return true
	})
	return dev
}

var tagListPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tags?:\s*(.+)`),
	regexp.MustCompile(`(?i)genres?:\s*(.+)`),
}

// Tags collects the thread's tag list plus any "Tags:" line in the first
// post, normalized to lower case, deduplicated and sorted.
func Tags(doc *goquery.Document, description string) []string {
	seen := make(map[string]struct{})
	add := func(raw string) {
		tag := strings.ToLower(collapseSpace(raw))
		if tag == "" || len(tag) >= 30 {
			return
		}
		seen[tag] = struct{}{}
	}

	doc.Find(".tagItem").Each(func(_ int, item *goquery.Selection) {
		add(item.Text())
	})

	for _, pattern := range tagListPatterns {
		m := pattern.FindStringSubmatch(description)
		if m == nil {
			continue
		}
		line := strings.SplitN(m[1], "\n", 2)[0]
		for _, part := range regexp.MustCompile(`[,/;]`).Split(line, -1) {
			add(part)
		}
	}

	tags := make([]string, 0, len(seen))
	for tag := range seen {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	if len(tags) > maxTags {
		tags = tags[:maxTags]
	}
	return tags
}

// Images returns candidate cover/header image URLs: the og:image first, then
// first-post images with avatars, smilies and UI icons filtered out.
func Images(doc *goquery.Document, pageURL string) []string {
	var urls []string
	seen := make(map[string]struct{})
	add := func(raw string) {
		abs := AbsoluteURL(pageURL, raw)
		if abs == "" {
			return
		}
		lower := strings.ToLower(abs)
		for _, skip := range []string{"avatar", "smiley", "emoji", "icon", "rating"} {
			if strings.Contains(lower, skip) {
				return
			}
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		urls = append(urls, abs)
	}

	if og, ok := doc.Find(`meta[property="og:image"]`).First().Attr("content"); ok {
		add(og)
	}

	scope := doc.Find(".message--post").First()
	if scope.Length() == 0 {
		scope = doc.Find(".message-body").First()
	}
	scope.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			src, _ = img.Attr("data-src")
		}
		if src != "" {
			add(src)
		}
	})

	if len(urls) > maxImages {
		urls = urls[:maxImages]
	}
	return urls
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

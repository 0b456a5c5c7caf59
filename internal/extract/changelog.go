package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

const maxChangelogEntries = 50

// Entry headers look like "v1.2 - 2024-05-01", "v0.3:", "1.4 (2023-11-02)" or
// "Version 2.0". Group 1 is the version, group 2 the optional date.
var changelogHeaderPattern = regexp.MustCompile(
	`(?i)^\s*(?:version\s+)?(v?\.?\d[\w.]*)\s*[-–—:(]?\s*(\d{4}-\d{2}-\d{2}|\d{2}[./]\d{2}[./]\d{4})?\)?\s*:?\s*$|` +
		`(?i)^\s*(?:version\s+)?(v?\.?\d[\w.]*)\s*[-–—]\s*(\d{4}-\d{2}-\d{2}|\d{2}[./]\d{2}[./]\d{4})\s*$`)

// Changelog locates the changelog section of a thread (a heading or bold run
// containing "changelog") and parses the following text into ordered entries.
// Any malformed section degrades to an empty sequence; it never errors.
func Changelog(doc *goquery.Document) []catalog.ChangelogEntry {
	section := changelogText(doc)
	if section == "" {
		return nil
	}
	return ParseChangelogText(section)
}

func changelogText(doc *goquery.Document) string {
	var parts []string
	doc.Find("h1, h2, h3, h4, b, strong").EachWithBreak(func(_ int, heading *goquery.Selection) bool {
		text := strings.ToLower(strings.TrimSpace(heading.Text()))
		if !strings.Contains(text, "changelog") && !strings.Contains(text, "change log") {
			return true
		}
		// Spoiler blocks wrap the heading; prefer the enclosing block so the
		// entry lines are captured even when they are siblings of a parent.
		if block := heading.Closest(".bbCodeBlock-content, .bbCodeSpoiler-content"); block.Length() > 0 {
			parts = append(parts, blockText(block))
			return false
		}
		heading.NextAll().EachWithBreak(func(_ int, sib *goquery.Selection) bool {
			if sib.Is("h1, h2, h3, h4") {
				return false
			}
			parts = append(parts, blockText(sib))
			return true
		})
		return false
	})
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func blockText(sel *goquery.Selection) string {
	// goquery flattens <br> without newlines; re-introduce them so entry
	// headers stay line-separated.
	clone := sel.Clone()
	clone.Find("br").ReplaceWithHtml("\n")
	html, err := clone.Html()
	if err != nil {
		return strings.TrimSpace(sel.Text())
	}
	stripped := regexp.MustCompile(`(?s)<[^>]*>`).ReplaceAllString(html, "")
	return strings.TrimSpace(stripped)
}

// ParseChangelogText splits raw changelog text into ordered entries. Lines
// matching a version header start a new entry; everything until the next
// header accumulates as notes. Text before the first header is dropped.
func ParseChangelogText(text string) []catalog.ChangelogEntry {
	var entries []catalog.ChangelogEntry
	var current *catalog.ChangelogEntry

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if version, date, ok := matchChangelogHeader(line); ok {
			if current != nil {
				entries = append(entries, *current)
			}
			if len(entries) >= maxChangelogEntries {
				current = nil
				break
			}
			current = &catalog.ChangelogEntry{Version: version, Date: date}
			continue
		}
		if current != nil {
			if current.Notes != "" {
				current.Notes += "\n"
			}
			current.Notes += line
		}
	}
	if current != nil && len(entries) < maxChangelogEntries {
		entries = append(entries, *current)
	}
	return entries
}

func matchChangelogHeader(line string) (version, date string, ok bool) {
	m := changelogHeaderPattern.FindStringSubmatch(line)
	if m == nil {
		return "", "", false
	}
	version = m[1]
	date = m[2]
	if version == "" {
		version = m[3]
		date = m[4]
	}
	version = strings.TrimPrefix(strings.TrimPrefix(version, "v"), ".")
	return version, date, version != ""
}

package extract

import (
	"regexp"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

// Version token patterns tried in order, most specific first. Group 1 is the
// extracted version.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[v\.?(\d[\w.]*)\]`),          // [v1.0], [v.1.0b]
	regexp.MustCompile(`(?i)\[(\d+\.[\w.]*)\]`),           // [1.0.1]
	regexp.MustCompile(`(?i)\bv\.?(\d+\.[\w.]*)\b`),       // v1.0, v.1.0
	regexp.MustCompile(`(?i)version\s+(\d+\.[\w.]*)`),     // Version 1.0
	regexp.MustCompile(`(?i)\[(Final|Completed|Complete)\]`), // [Final]
}

// VersionFromTitle pulls a bracketed or inline version token out of a thread
// title. Returns catalog.DefaultVersion when nothing matches.
func VersionFromTitle(title string) string {
	for _, pattern := range versionPatterns {
		if m := pattern.FindStringSubmatch(title); m != nil {
			return m[1]
		}
	}
	return catalog.DefaultVersion
}

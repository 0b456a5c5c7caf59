package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

// threadIDPattern matches the numeric id in canonical XenForo thread URLs,
// e.g. /threads/my-game.12345/.
var threadIDPattern = regexp.MustCompile(`/threads/[^/]+\.(\d+)`)

// ThreadID derives the stable record identity from a thread's canonical URL.
// The forum's numeric thread id is used when present; otherwise the id falls
// back to a digest of the canonical URL so the mapping stays deterministic.
func ThreadID(rawURL string) string {
	if m := threadIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	canon := CanonicalURL(rawURL)
	if canon == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(canon))
	return "u" + hex.EncodeToString(sum[:])[:16]
}

// CanonicalURL normalizes a thread URL: scheme and host lowercased, query,
// fragment and page suffix dropped, trailing slash kept. Re-scrapes of the
// same thread through different page URLs must land on the same record.
func CanonicalURL(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""

	// Strip per-page path segments like /page-3 so pagination never forks
	// record identity.
	u.Path = pageSuffixPattern.ReplaceAllString(u.Path, "/")
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

var pageSuffixPattern = regexp.MustCompile(`/page-\d+/?$`)

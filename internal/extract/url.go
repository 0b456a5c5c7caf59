package extract

import (
	"net/url"
	"strings"
)

// AbsoluteURL resolves raw against base. Already-absolute URLs pass through;
// anything unparseable resolves to "".
func AbsoluteURL(base, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	baseURL, err := url.Parse(base)
	if err != nil || baseURL.Host == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return baseURL.ResolveReference(ref).String()
}

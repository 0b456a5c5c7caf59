package collyfetcher

import (
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"

	"golang.org/x/net/publicsuffix"
)

// Session holds the forum cookie jar shared by every collector clone. Forum
// access requires a logged-in session, so the jar is seeded once from config
// and then maintained by Set-Cookie responses.
type Session struct {
	mu  sync.RWMutex
	jar http.CookieJar
}

// NewSession builds an empty cookie session.
func NewSession() *Session {
	// cookiejar.New only errors on a nil-option misuse path; the options here
	// are static.
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &Session{jar: jar}
}

// Jar exposes the underlying cookie jar for collector wiring.
func (s *Session) Jar() http.CookieJar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jar
}

// Seed installs named cookies for the given site, typically the forum's user
// and session tokens exported from a logged-in browser.
func (s *Session) Seed(siteURL string, cookies map[string]string) error {
	u, err := url.Parse(siteURL)
	if err != nil {
		return fmt.Errorf("parse session site url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("session site url %q must be absolute", siteURL)
	}

	set := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		if name == "" || value == "" {
			continue
		}
		set = append(set, &http.Cookie{Name: name, Value: value, Path: "/"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.jar.SetCookies(u, set)
	return nil
}

// Authenticated reports whether the session currently carries any cookie for
// the given site.
func (s *Session) Authenticated(siteURL string) bool {
	u, err := url.Parse(siteURL)
	if err != nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jar.Cookies(u)) > 0
}

package extract

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestThreadIDFromCanonicalURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		url  string
		want string
	}{
		{"https://lewdcorner.com/threads/my-game.12345/", "12345"},
		{"https://lewdcorner.com/threads/my-game.12345/page-3", "12345"},
		{"/threads/other-game.99/", "99"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ThreadID(tc.url), "url %q", tc.url)
	}
}

func TestThreadIDFallbackIsDeterministic(t *testing.T) {
	t.Parallel()
	a := ThreadID("https://lewdcorner.com/some/odd/path")
	b := ThreadID("https://LEWDCORNER.com/some/odd/path?sid=1")
	require.NotEmpty(t, a)
	require.True(t, strings.HasPrefix(a, "u"))
	require.Equal(t, a, b, "canonicalization must collapse host case and query")
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()
	cases := []struct {
		raw  string
		want string
	}{
		{
			"https://LewdCorner.com/threads/my-game.12345/page-7?order=desc#post-9",
			"https://lewdcorner.com/threads/my-game.12345/",
		},
		{
			"https://lewdcorner.com/threads/my-game.12345",
			"https://lewdcorner.com/threads/my-game.12345/",
		},
		{
			"https://lewdcorner.com/threads/my-game.12345/",
			"https://lewdcorner.com/threads/my-game.12345/",
		},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, CanonicalURL(tc.raw), "raw %q", tc.raw)
	}
}

package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyStatus(t *testing.T) {
	t.Parallel()
	cases := []struct {
		code int
		want FetchErrorKind
	}{
		{429, FetchTransient},
		{500, FetchTransient},
		{503, FetchTransient},
		{404, FetchPermanent},
		{401, FetchPermanent},
		{403, FetchPermanent},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyStatus(tc.code), "status %d", tc.code)
	}
}

func TestFetchErrorWrapping(t *testing.T) {
	t.Parallel()
	cause := errors.New("connection reset")
	err := TransientFetchError("https://example.com/forums/games.6/", 503, cause)

	require.True(t, IsTransientFetch(err))
	require.False(t, IsPermanentFetch(err))
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "503")

	wrapped := fmt.Errorf("page 3: %w", PermanentFetchError("https://example.com/x", 404, errors.New("not found")))
	require.True(t, IsPermanentFetch(wrapped))
	require.False(t, IsTransientFetch(wrapped))
}

func TestJobCountersAdd(t *testing.T) {
	t.Parallel()
	total := JobCounters{Inserted: 1, PagesFetched: 2}
	total.Add(JobCounters{Inserted: 2, Updated: 3, Skipped: 1, PagesFailed: 1, Retries: 4})

	require.Equal(t, JobCounters{
		PagesFetched: 2,
		PagesFailed:  1,
		Inserted:     3,
		Updated:      3,
		Skipped:      1,
		Retries:      4,
	}, total)
}

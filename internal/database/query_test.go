package database

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gameshelf/gameshelf/internal/catalog"
)

func seedCatalog(t *testing.T, db *DB) {
	t.Helper()
	ctx := t.Context()

	a := sampleRecord("1")
	a.Title = "Dragon Keep"
	a.Developer = "NightOwl"
	a.Tags = []string{"fantasy", "rpg"}
	a.Engine = catalog.EngineRPGM
	a.Status = catalog.StatusCompleted
	_, err := db.Upsert(ctx, a, scrapeTime(1))
	require.NoError(t, err)

	b := sampleRecord("2")
	b.Title = "Space Station Stories"
	b.Developer = "OrbitSoft"
	b.Description = "A dragon never appears here."
	b.Tags = []string{"sci-fi"}
	b.Category = catalog.CategoryAdultGames
	_, err = db.Upsert(ctx, b, scrapeTime(2))
	require.NoError(t, err)

	c := sampleRecord("3")
	c.Title = "Harbor Tales"
	c.Tags = []string{"slice of life"}
	_, err = db.Upsert(ctx, c, scrapeTime(3))
	require.NoError(t, err)
}

func threadIDs(records []catalog.GameRecord) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ThreadID)
	}
	return ids
}

func TestSearchMatchesTitleAndBody(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)

	results, err := db.Search(t.Context(), "dragon", 10)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"1", "2"}, threadIDs(results))

	results, err = db.Search(t.Context(), "NightOwl", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, threadIDs(results))
}

func TestSearchPrefixAndEmptyQuery(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)

	results, err := db.Search(t.Context(), "harb", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, threadIDs(results))

	results, err = db.Search(t.Context(), "   ", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestSearchReflectsUpdatesTransactionally(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)
	ctx := t.Context()

	renamed := sampleRecord("3")
	renamed.Title = "Lighthouse Tales"
	_, err := db.Upsert(ctx, renamed, scrapeTime(4))
	require.NoError(t, err)

	results, err := db.Search(ctx, "harbor", 10)
	require.NoError(t, err)
	require.Empty(t, results)

	results, err = db.Search(ctx, "lighthouse", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"3"}, threadIDs(results))
}

func TestSearchExcludesSoftDeleted(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)
	ctx := t.Context()

	require.NoError(t, db.SoftDelete(ctx, "1", scrapeTime(4)))
	results, err := db.Search(ctx, "dragon", 10)
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, threadIDs(results))
}

func TestFilterByCategoryEngineTag(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)
	ctx := t.Context()

	results, err := db.Filter(ctx, FilterCriteria{Category: catalog.CategoryAdultGames})
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, threadIDs(results))

	results, err = db.Filter(ctx, FilterCriteria{Engine: catalog.EngineRPGM})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, threadIDs(results))

	results, err = db.Filter(ctx, FilterCriteria{Tag: "sci-fi"})
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, threadIDs(results))

	results, err = db.Filter(ctx, FilterCriteria{Status: catalog.StatusCompleted})
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, threadIDs(results))
}

func TestFilterFavoritesAndPaging(t *testing.T) {
	t.Parallel()
	db := openTestDB(t)
	seedCatalog(t, db)
	ctx := t.Context()

	favorite := true
	require.NoError(t, db.UpdateUserFields(ctx, "2", UserFieldPatch{Favorite: &favorite}, scrapeTime(4)))

	results, err := db.Filter(ctx, FilterCriteria{Favorite: &favorite})
	require.NoError(t, err)
	require.Equal(t, []string{"2"}, threadIDs(results))

	page1, err := db.Filter(ctx, FilterCriteria{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1, 2)
	page2, err := db.Filter(ctx, FilterCriteria{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page2, 1)

	count, err := db.CountGames(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestBuildMatchQuery(t *testing.T) {
	t.Parallel()
	require.Equal(t, `"dragon"*`, buildMatchQuery("dragon"))
	require.Equal(t, `"dragon"* AND "keep"*`, buildMatchQuery("  dragon   keep "))
	require.Equal(t, `"dragon"*`, buildMatchQuery(`"dragon"`))
	require.Empty(t, buildMatchQuery("   "))
}

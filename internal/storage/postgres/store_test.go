package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wiki-mirror/internal/mirror"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestNewStoreWithPoolRequiresPool(t *testing.T) {
	t.Parallel()

	_, err := NewStoreWithPool(nil)
	require.Error(t, err)
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pages").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPageReturnsID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	updated := time.Unix(1700000500, 0).UTC()
	page := mirror.PageRecord{
		Title:    "Example",
		SourceID: "src-1",
		Created:  created,
		Updated:  updated,
	}

	mock.ExpectQuery("INSERT INTO pages").
		WithArgs("Example", "src-1", created, updated, (*string)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.UpsertPage(context.Background(), page)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPageRequiresSourceID(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.UpsertPage(context.Background(), mirror.PageRecord{Title: "x"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTitlesBulkLookup(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	titles := []string{"TitleA", "TitleB", "Missing"}

	mock.ExpectQuery(`SELECT DISTINCT ON \(title\) title, id`).
		WithArgs(titles).
		WillReturnRows(pgxmock.NewRows([]string{"title", "id"}).
			AddRow("TitleA", int64(10)).
			AddRow("TitleB", int64(11)))

	got, err := store.ResolveTitles(context.Background(), titles)
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"TitleA": 10, "TitleB": 11}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveTitlesEmptySkipsQuery(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	got, err := store.ResolveTitles(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListDayPagesPassesRange(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	since := time.Unix(1700000000, 0).UTC()
	updated := since.Add(time.Hour)

	mock.ExpectQuery("SELECT id, title, source_id, updated").
		WithArgs(since, "0101", "0131").
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "source_id", "updated"}).
			AddRow(int64(1), "0101", "s1", updated).
			AddRow(int64(2), "0115", "s2", updated))

	got, err := store.ListDayPages(context.Background(), mirror.DayPageQuery{
		UpdatedSince: since,
		Start:        "0101",
		End:          "0131",
	})
	require.NoError(t, err)
	require.Equal(t, []mirror.DayPage{
		{ID: 1, Title: "0101", SourceID: "s1", Updated: updated},
		{ID: 2, Title: "0115", SourceID: "s2", Updated: updated},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCrossReferencesDeletesThenInserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	refs := []mirror.TemporalCrossReference{
		{SourcePageID: 5, TargetPageID: 10, Year: 2019},
		{SourcePageID: 5, TargetPageID: 11, Year: 2019},
	}

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM temporal_cross_references").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec("INSERT INTO temporal_cross_references").
		WithArgs(int64(5), []int64{10, 11}, []int32{2019, 2019}).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceCrossReferences(context.Background(), 5, refs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCrossReferencesEmptySetOnlyDeletes(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM temporal_cross_references").
		WithArgs(int64(5)).
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectCommit()

	require.NoError(t, store.ReplaceCrossReferences(context.Background(), 5, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReplaceCrossReferencesRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM temporal_cross_references").
		WithArgs(int64(5)).
		WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	err := store.ReplaceCrossReferences(context.Background(), 5, nil)
	require.ErrorContains(t, err, "boom")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountByDayAndYear(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT p.title, r.year, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"title", "year", "count"}).
			AddRow("1225", 2019, int64(2)).
			AddRow("1225", 2021, int64(1)))

	got, err := store.CountByDayAndYear(context.Background())
	require.NoError(t, err)
	require.Equal(t, []mirror.DayYearCount{
		{DayKey: "1225", Year: 2019, Count: 2},
		{DayKey: "1225", Year: 2021, Count: 1},
	}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnclassified(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT p.id, p.title, p.created").
		WithArgs(20).
		WillReturnRows(pgxmock.NewRows([]string{"id", "title", "created"}).
			AddRow(int64(3), "Fresh", created))

	got, err := store.ListUnclassified(context.Background(), 20)
	require.NoError(t, err)
	require.Equal(t, []mirror.UnclassifiedPage{{ID: 3, Title: "Fresh", Created: created}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogLoadMissing(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	log := NewStepLog(store)
	mock.ExpectQuery("SELECT result FROM workflow_steps").
		WithArgs("inst", "step").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := log.Load(context.Background(), "inst", "step")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStepLogSaveAndLoad(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	log := NewStepLog(store)
	mock.ExpectExec("INSERT INTO workflow_steps").
		WithArgs("inst", "step", []byte(`{"n":1}`)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT result FROM workflow_steps").
		WithArgs("inst", "step").
		WillReturnRows(pgxmock.NewRows([]string{"result"}).AddRow([]byte(`{"n":1}`)))

	require.NoError(t, log.Save(context.Background(), "inst", "step", []byte(`{"n":1}`)))
	got, ok, err := log.Load(context.Background(), "inst", "step")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"n":1}`, string(got))
	require.NoError(t, mock.ExpectationsWereMet())
}

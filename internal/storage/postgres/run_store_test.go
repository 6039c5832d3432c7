package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/einthusan-addon/internal/catalog"
)

func TestRecordRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "refresh_runs")
	require.NoError(t, err)

	started := time.Unix(1700000000, 0).UTC()
	run := catalog.RefreshRun{
		ID:          "0190-run",
		Language:    "hindi",
		Mode:        catalog.RefreshFull,
		Status:      catalog.RunPartial,
		Pages:       5,
		FailedPages: 1,
		Records:     80,
		NewRecords:  80,
		StartedAt:   started,
		FinishedAt:  started.Add(42 * time.Second),
	}

	mock.ExpectExec("INSERT INTO refresh_runs").
		WithArgs(
			run.ID,
			run.Language,
			"full",
			"partial",
			run.Pages,
			run.FailedPages,
			run.Records,
			run.NewRecords,
			nil,
			run.StartedAt,
			run.FinishedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.RecordRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordRunPropagatesErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO refresh_runs").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "boom", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	err = store.RecordRun(context.Background(), catalog.RefreshRun{ID: "r", Language: "tamil", Error: "boom"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStoreWithPool(mock, "runs_v2")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS runs_v2").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewRunStoreWithPool(nil, "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewRunStoreWithPool(mock, "runs; DROP TABLE x")
	require.Error(t, err)

	store, err := NewRunStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.RecordRun(context.Background(), catalog.RefreshRun{}))

	_, err = NewRunStore(context.Background(), RunStoreConfig{})
	require.Error(t, err)
}

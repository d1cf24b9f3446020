package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bangumi-scanner/internal/export"
	"github.com/JakeFAU/bangumi-scanner/internal/scan"
)

func testSummary() export.Summary {
	return export.Summary{
		RunID:      uuid.MustParse("0b0f3c1e-6d3c-4a53-9d8e-3f1a7f0e2b11"),
		RangeBegin: 1,
		RangeEnd:   5,
		Records:    2,
		FinishedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func TestExportUpsertsRecords(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exp, err := NewWithPool(mock, "")
	require.NoError(t, err)

	summary := testSummary()
	records := []scan.Record{scan.NewRecord(1, "T1", ""), scan.NewRecord(3, "T3", "")}

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS bangumi_titles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	for _, rec := range records {
		mock.ExpectExec("INSERT INTO bangumi_titles").
			WithArgs(rec.ID, rec.Title, rec.URL, summary.RunID.String(), summary.FinishedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()

	require.NoError(t, exp.Export(context.Background(), summary, records))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exp, err := NewWithPool(mock, "catalog.titles")
	require.NoError(t, err)

	boom := errors.New("unique violation")
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS catalog.titles").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("INSERT INTO catalog.titles").
		WillReturnError(boom)
	mock.ExpectRollback()

	err = exp.Export(context.Background(), testSummary(), []scan.Record{scan.NewRecord(1, "T1", "")})
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "upsert id 1")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExportBeginFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	exp, err := NewWithPool(mock, "")
	require.NoError(t, err)

	mock.ExpectBegin().WillReturnError(errors.New("connection refused"))
	err = exp.Export(context.Background(), testSummary(), nil)
	require.ErrorContains(t, err, "begin transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "db.dsn")

	_, err = New(context.Background(), Config{DSN: "postgres://localhost/db", Table: "bad-name"})
	require.ErrorContains(t, err, "invalid table name")

	_, err = NewWithPool(nil, "")
	require.Error(t, err)
}

package store

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

// The checkpoint must run before the vacuum: VACUUM on a database with a
// large un-checkpointed WAL rewrites stale pages.
func TestCompactSQL_StatementOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`PRAGMA wal_checkpoint\(TRUNCATE\)`).
		WillReturnRows(sqlmock.NewRows([]string{"busy", "log", "checkpointed"}).AddRow(0, 12, 12))
	mock.ExpectExec(`VACUUM`).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, compactSQL(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCompactSQL_VacuumFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`PRAGMA wal_checkpoint\(TRUNCATE\)`).
		WillReturnRows(sqlmock.NewRows([]string{"busy", "log", "checkpointed"}).AddRow(0, 0, 0))
	mock.ExpectExec(`VACUUM`).WillReturnError(context.DeadlineExceeded)

	err = compactSQL(context.Background(), db)
	require.Error(t, err)
	require.Contains(t, err.Error(), "vacuum")
}

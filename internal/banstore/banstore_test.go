package banstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestBan_UpsertsRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO banned_ips").
		WithArgs("1.2.3.4", "pool1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Ban(context.Background(), "pool1", "1.2.3.4", time.Now())
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurge_DeletesOlderThanCutoff(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM banned_ips").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	err := s.Purge(context.Background(), 10*time.Minute)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad_ReturnsRows(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	rows := sqlmock.NewRows([]string{"ip", "banned_at"}).
		AddRow("1.2.3.4", now).
		AddRow("5.6.7.8", now)
	mock.ExpectQuery("SELECT ip, banned_at FROM banned_ips").
		WithArgs("pool1").
		WillReturnRows(rows)

	out, err := s.Load(context.Background(), "pool1")
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Contains(t, out, "1.2.3.4")
	require.NoError(t, mock.ExpectationsWereMet())
}

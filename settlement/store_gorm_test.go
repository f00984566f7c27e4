package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockGormStore returns a postgres-dialect store backed by sqlmock.
// Migration is skipped so that only the statements under test are expected.
func newMockGormStore(t *testing.T) (*GormStore, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormConfig().Logger,
	})
	require.NoError(t, err)
	return &GormStore{db: db}, mock
}

func TestGormStore_GetDatabaseError(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery(`SELECT \* FROM "settlements"`).
		WillReturnError(errors.New("connection reset by peer"))

	_, err := store.Get(context.Background(), "abc")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRecordNotFound)
	assert.Contains(t, err.Error(), "connection reset by peer")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetNotFound(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectQuery(`SELECT \* FROM "settlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "signature", "payer", "status", "tx_hash", "valid_before", "created_at"}))

	_, err := store.Get(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrRecordNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_GetRow(t *testing.T) {
	store, mock := newMockGormStore(t)
	created := time.Unix(1_700_000_000, 0).UTC()
	mock.ExpectQuery(`SELECT \* FROM "settlements"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "signature", "payer", "status", "tx_hash", "valid_before", "created_at"}).
			AddRow("abc", "0102", "erd1payer", "completed", "0xhash", int64(1500), created))

	got, err := store.Get(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "0xhash", got.TxHash)
	require.NotNil(t, got.ValidBefore)
	assert.Equal(t, int64(1500), *got.ValidBefore)
}

func TestGormStore_UpdateStatusDatabaseError(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectExec(`UPDATE "settlements"`).
		WillReturnError(errors.New("deadlock detected"))

	err := store.UpdateStatus(context.Background(), "abc", StatusCompleted, "0xhash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "deadlock detected")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_UpdateStatusConditional(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectExec(`UPDATE "settlements" SET .* WHERE id = \$\d+ AND status = \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.UpdateStatus(context.Background(), "abc", StatusFailed, "")
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_DeleteExpiredDatabaseError(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectExec(`DELETE FROM "settlements" WHERE valid_before IS NOT NULL AND valid_before <`).
		WillReturnError(errors.New("disk full"))

	deleted, err := store.DeleteExpired(context.Background(), time.Unix(1000, 0))
	require.Error(t, err)
	assert.Equal(t, 0, deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStore_DeleteExpiredCount(t *testing.T) {
	store, mock := newMockGormStore(t)
	mock.ExpectExec(`DELETE FROM "settlements"`).
		WithArgs(int64(1000)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	deleted, err := store.DeleteExpired(context.Background(), time.Unix(1000, 0))
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
}

func TestOpenGorm_MigrationFailureClosesConnection(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	backend, err := openGorm(postgres.New(postgres.Config{Conn: sqlDB}), "postgres")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to migrate settlements table")
	assert.True(t, backend == nil, "expected a nil backend, got %#v", backend)
	assert.NoError(t, mock.ExpectationsWereMet())
}

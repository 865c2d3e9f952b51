package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/engagement-tracker/internal/kv"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	store, err := NewWithPool(mock, "")
	require.NoError(t, err)
	return store, mock
}

func TestStoreGetReturnsValue(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM engagement_records").
		WithArgs("cookie-consent").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("true"))

	v, ok, err := store.Get(context.Background(), "cookie-consent")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "true", v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetMissingKey(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM engagement_records").
		WithArgs("marketing-attribution").
		WillReturnError(pgx.ErrNoRows)

	_, ok, err := store.Get(context.Background(), "marketing-attribution")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreGetWrapsQueryError(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("SELECT value FROM engagement_records").
		WithArgs("cookie-consent").
		WillReturnError(errors.New("connection reset"))

	_, ok, err := store.Get(context.Background(), "cookie-consent")
	require.Error(t, err)
	require.Contains(t, err.Error(), "connection reset")
	require.False(t, ok)
}

func TestStoreSetUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO engagement_records").
		WithArgs("cookie-consent-date", "2024-01-01T00:00:00Z").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Set(context.Background(), "cookie-consent-date", "2024-01-01T00:00:00Z"))
	require.ErrorIs(t, store.Set(context.Background(), "", "x"), kv.ErrEmptyKey)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRemoveAndMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS engagement_records").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectExec("DELETE FROM engagement_records").
		WithArgs("cookie-preferences").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Remove(context.Background(), "cookie-preferences"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewWithPool(mock, "records; DROP TABLE x")
	require.Error(t, err)

	_, err = NewWithPool(nil, "records")
	require.Error(t, err)
}

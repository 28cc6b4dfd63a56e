package runstore_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nucleus/geo-linker/internal/runstore"
)

func newMockStore(t *testing.T) (*runstore.PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS geo_linker_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	store, err := runstore.NewPostgresStoreWithDB(db)
	require.NoError(t, err)
	return store, mock
}

func TestNewPostgresStore_RequiresEnvVar(t *testing.T) {
	os.Unsetenv("RUNSTORE_DATABASE_URL")
	os.Unsetenv("DATABASE_URL")
	_, err := runstore.NewPostgresStore()
	require.Error(t, err)
}

func TestNewPostgresStoreWithDB_RejectsNilDB(t *testing.T) {
	_, err := runstore.NewPostgresStoreWithDB(nil)
	require.Error(t, err)
}

func TestUpsert_InsertsNewRunAtVersionOne(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM geo_linker_runs WHERE run_id").
		WithArgs("run-1").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO geo_linker_runs").
		WithArgs("run-1", string(runstore.StatusRunning), []byte(`{}`), "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	version, err := store.Upsert(context.Background(), runstore.RunRecord{
		RunID: "run-1", Status: runstore.StatusRunning, ManifestJSON: []byte(`{}`),
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_RejectsVersionMismatchOnExistingRow(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"version"}).AddRow(int64(3))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM geo_linker_runs WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := store.Upsert(context.Background(), runstore.RunRecord{
		RunID: "run-1", Status: runstore.StatusCompleted,
	}, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version mismatch")
}

func TestUpsert_UpdatesExistingRowAndIncrementsVersion(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"version"}).AddRow(int64(2))
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT version FROM geo_linker_runs WHERE run_id").
		WithArgs("run-1").
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE geo_linker_runs SET").
		WithArgs(string(runstore.StatusCompleted), []byte(`{"ok":true}`), "", int64(3), "run-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	version, err := store.Upsert(context.Background(), runstore.RunRecord{
		RunID: "run-1", Status: runstore.StatusCompleted, ManifestJSON: []byte(`{"ok":true}`),
	}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)
}

func TestGet_ReturnsNilWithoutErrorWhenRunMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT status, manifest, error_message, version FROM geo_linker_runs").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	rec, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestGet_ReturnsRecordWhenPresent(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"status", "manifest", "error_message", "version"}).
		AddRow(string(runstore.StatusFailed), []byte(`{"a":1}`), "boom", int64(5))
	mock.ExpectQuery("SELECT status, manifest, error_message, version FROM geo_linker_runs").
		WithArgs("run-9").
		WillReturnRows(rows)

	rec, err := store.Get(context.Background(), "run-9")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "run-9", rec.RunID)
	assert.Equal(t, runstore.StatusFailed, rec.Status)
	assert.Equal(t, "boom", rec.ErrorMessage)
	assert.Equal(t, int64(5), rec.Version)
}

func TestListByStatus_DefaultsLimitWhenNonPositive(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"run_id"}).AddRow("run-1").AddRow("run-2")
	mock.ExpectQuery("SELECT run_id FROM geo_linker_runs WHERE status").
		WithArgs(string(runstore.StatusRunning), 100).
		WillReturnRows(rows)

	ids, err := store.ListByStatus(context.Background(), runstore.StatusRunning, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1", "run-2"}, ids)
}

package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

func TestPublishNewVersionAdvancesPointer(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT active_config").
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"active_config"}).
			AddRow([]byte(`{"ver":3,"cc":"deadbeef"}`)))
	mock.ExpectExec("INSERT INTO sensor_configs").
		WithArgs("t1", "s1", 4, "cafef00d", `{"ver":1}`, "admin@t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sensors").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresConfigsRepo(db, zap.NewNop())
	ver, err := repo.PublishNewVersion(context.Background(), "t1", "s1", `{"ver":1}`, "cafef00d", "admin@t1")
	require.NoError(t, err)
	require.Equal(t, 4, ver)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishNewVersionStartsAtOne(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT active_config").
		WithArgs("t1", "s1").
		WillReturnRows(sqlmock.NewRows([]string{"active_config"}).AddRow(nil))
	mock.ExpectExec("INSERT INTO sensor_configs").
		WithArgs("t1", "s1", 1, "cafef00d", `{"ver":1}`, "admin@t1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE sensors").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresConfigsRepo(db, zap.NewNop())
	ver, err := repo.PublishNewVersion(context.Background(), "t1", "s1", `{"ver":1}`, "cafef00d", "admin@t1")
	require.NoError(t, err)
	require.Equal(t, 1, ver)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishNewVersionUnknownSensor(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT active_config").
		WithArgs("t1", "nope").
		WillReturnRows(sqlmock.NewRows([]string{"active_config"}))
	mock.ExpectRollback()

	repo := NewPostgresConfigsRepo(db, zap.NewNop())
	_, err = repo.PublishNewVersion(context.Background(), "t1", "nope", `{}`, "00000000", "admin@t1")
	require.True(t, errors.Is(err, domain.ErrSensorNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetVersionNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT tenant_id::text, sensor_id::text, ver, crc, plan_json").
		WithArgs("t1", "s1", 9).
		WillReturnRows(sqlmock.NewRows([]string{
			"tenant_id", "sensor_id", "ver", "crc", "plan_json",
			"created_by", "published_at", "republished_at", "republished_by",
		}))

	repo := NewPostgresConfigsRepo(db, zap.NewNop())
	_, err = repo.GetVersion(context.Background(), "t1", "s1", 9)
	require.True(t, errors.Is(err, domain.ErrConfigNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

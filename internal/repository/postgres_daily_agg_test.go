package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agromind-sense/internal/domain"
)

var testDay = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func TestMergeDayInsertsNewAggregate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT metrics, seen").
		WithArgs("t1", "s1", "20260310").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO daily_agg").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 3)
	err = repo.MergeDay(context.Background(), "t1", "s1", "20260310", testDay,
		map[string]map[string]float64{"202603101200": {"vwc_percent": 41}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeDaySkipsWriteWhenAllSeen(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT metrics, seen").
		WithArgs("t1", "s1", "20260310").
		WillReturnRows(sqlmock.NewRows([]string{"metrics", "seen"}).
			AddRow([]byte(`{"vwc_percent":{"min":41,"max":41,"sum":41,"count":1}}`),
				[]byte(`{"202603101200":true}`)))
	// No INSERT: the update set is fully contained in the seen set.
	mock.ExpectCommit()

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 3)
	err = repo.MergeDay(context.Background(), "t1", "s1", "20260310", testDay,
		map[string]map[string]float64{"202603101200": {"vwc_percent": 41}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeDayRetriesSerializationConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conflict := &pq.Error{Code: "40001"}

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT metrics, seen").WillReturnError(conflict)
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT metrics, seen").
		WillReturnError(sql.ErrNoRows)
	mock.ExpectExec("INSERT INTO daily_agg").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 3)
	err = repo.MergeDay(context.Background(), "t1", "s1", "20260310", testDay,
		map[string]map[string]float64{"202603101200": {"vwc_percent": 41}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeDayExhaustsRetries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	conflict := &pq.Error{Code: "40001"}
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT metrics, seen").WillReturnError(conflict)
		mock.ExpectRollback()
	}

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 2)
	err = repo.MergeDay(context.Background(), "t1", "s1", "20260310", testDay,
		map[string]map[string]float64{"202603101200": {"vwc_percent": 41}})
	require.True(t, errors.Is(err, domain.ErrTxRetryExhausted))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeDayEmptyUpdateIsNoOp(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 3)
	err = repo.MergeDay(context.Background(), "t1", "s1", "20260310", testDay, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryDaysScansAggregates(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("SELECT tenant_id::text, sensor_id::text, day, day_start, metrics, seen, updated_at").
		WithArgs("t1", "s1", testDay, 10).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "sensor_id", "day", "day_start", "metrics", "seen", "updated_at"}).
			AddRow("t1", "s1", "20260310", testDay,
				[]byte(`{"vwc_percent":{"min":41,"max":43,"sum":126,"count":3}}`),
				[]byte(`{"202603101200":true}`), now))

	repo := NewPostgresDailyAggRepo(db, zap.NewNop(), 3)
	out, err := repo.QueryDays(context.Background(), "t1", "s1", testDay, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, 126.0, out[0].Metrics["vwc_percent"].Sum)
	require.True(t, out[0].Seen["202603101200"])
	require.NoError(t, mock.ExpectationsWereMet())
}

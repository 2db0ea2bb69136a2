package gorm_test

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"gorm.io/driver/mysql"
	gormdb "gorm.io/gorm"

	"github.com/tigerroll/marlin/pkg/bulk/core/config"
	model "github.com/tigerroll/marlin/pkg/bulk/core/domain/model"
	"github.com/tigerroll/marlin/pkg/bulk/core/domain/repository"
	gormrepo "github.com/tigerroll/marlin/pkg/bulk/infrastructure/repository/gorm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupLedgerMock sets up the GORM mock environment for ledger repository tests.
func setupLedgerMock(t *testing.T) (*gormdb.DB, sqlmock.Sqlmock, *gormrepo.GormLedgerRepository) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gormdb.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gormdb.Config{})
	require.NoError(t, err)

	cfg := config.NewConfig()
	repo := gormrepo.NewGormLedgerRepository(gormDB, &cfg.Marlin.Undo)
	return gormDB, mock, repo
}

func closeLedgerMock(gormDB *gormdb.DB, mock sqlmock.Sqlmock) {
	mock.ExpectClose()
	sqlDB, _ := gormDB.DB()
	sqlDB.Close()
}

func TestGormLedgerRepository_IncrementCounters(t *testing.T) {
	gormDB, mock, repo := setupLedgerMock(t)
	defer closeLedgerMock(gormDB, mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bulk_execution` SET")).
		WithArgs(int64(2), sqlmock.AnyArg(), int64(5), "exec-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.IncrementCounters(context.Background(), "exec-1", 5, 2)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRepository_IncrementCounters_UnknownExecution(t *testing.T) {
	gormDB, mock, repo := setupLedgerMock(t)
	defer closeLedgerMock(gormDB, mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `bulk_execution` SET")).
		WithArgs(int64(0), sqlmock.AnyArg(), int64(1), "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := repo.IncrementCounters(context.Background(), "gone", 1, 0)
	assert.True(t, errors.Is(err, repository.ErrExecutionNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRepository_SaveExecution(t *testing.T) {
	gormDB, mock, repo := setupLedgerMock(t)
	defer closeLedgerMock(gormDB, mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `bulk_execution`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	execution := model.NewExecution("orders", model.NewIDFilter("o-1"), "delete", model.NewActionParams(), "alice")
	err := repo.SaveExecution(context.Background(), execution)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRepository_SaveBatch(t *testing.T) {
	gormDB, mock, repo := setupLedgerMock(t)
	defer closeLedgerMock(gormDB, mock)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `bulk_batch`")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	batch := model.NewBatch("exec-1", 0, []string{"o-1", "o-2"})
	err := repo.SaveBatch(context.Background(), batch)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormLedgerRepository_CountUnfinishedBatches(t *testing.T) {
	gormDB, mock, repo := setupLedgerMock(t)
	defer closeLedgerMock(gormDB, mock)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT count(*) FROM `bulk_batch`")).
		WithArgs("exec-1", model.BatchStatusCompleted, model.BatchStatusFailed, model.BatchStatusCancelled).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	count, err := repo.CountUnfinishedBatches(context.Background(), "exec-1")
	assert.NoError(t, err)
	assert.Equal(t, int64(3), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencove/billing-api/internal/models"
)

func TestInstallmentBulkCreateCommitsAllRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewInstallmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO installments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO installments").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	due := time.Now().UTC()
	installments := []models.Installment{
		{EnrollmentID: "enr-1", Number: 1, Amount: 50000, Currency: "NGN", DueAt: due, Status: models.InstallmentPending},
		{EnrollmentID: "enr-1", Number: 2, Amount: 50000, Currency: "NGN", DueAt: due.AddDate(0, 0, 28), Status: models.InstallmentPending},
	}
	require.NoError(t, repo.BulkCreate(context.Background(), installments))
	assert.NotEmpty(t, installments[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallmentBulkCreateRollsBackOnFailure(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewInstallmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO installments").WillReturnError(assert.AnError)
	mock.ExpectRollback()

	installments := []models.Installment{
		{EnrollmentID: "enr-1", Number: 1, Amount: 50000, Currency: "NGN", DueAt: time.Now(), Status: models.InstallmentPending},
	}
	err := repo.BulkCreate(context.Background(), installments)
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInstallmentMarkMissedOnlyTouchesPending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewInstallmentRepository(db)

	mock.ExpectExec("UPDATE installments SET status = \\$2").
		WithArgs("inst-1", string(models.InstallmentMissed), sqlmock.AnyArg(), string(models.InstallmentPending)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkMissed(context.Background(), "inst-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	appErrors "github.com/unclebandit/mailpacer-backend/internal/errors"
)

var capacityColumns = []string{"domain_id", "organization_id", "date", "sent_count", "created_at", "updated_at"}

func newCapacityMock(t *testing.T) (*CapacityRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &CapacityRepository{DB: db}, mock
}

func TestIncrementIfBelow_ReturnsUpdatedRow(t *testing.T) {
	repo, mock := newCapacityMock(t)
	now := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)INSERT INTO daily_capacity.*ON CONFLICT \(domain_id, date\) DO UPDATE.*WHERE daily_capacity\.sent_count < \$4`).
		WithArgs(int64(10), int64(1), "2026-03-10", 5).
		WillReturnRows(sqlmock.NewRows(capacityColumns).AddRow(10, 1, "2026-03-10", 3, now, now))

	rec, err := repo.IncrementIfBelow(context.Background(), 10, 1, "2026-03-10", 5)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec.SentCount != 3 || rec.Date != "2026-03-10" {
		t.Errorf("unexpected record %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIncrementIfBelow_NoRowMeansLimitReached(t *testing.T) {
	repo, mock := newCapacityMock(t)
	mock.ExpectQuery(`INSERT INTO daily_capacity`).
		WillReturnRows(sqlmock.NewRows(capacityColumns))

	_, err := repo.IncrementIfBelow(context.Background(), 10, 1, "2026-03-10", 5)
	if !errors.Is(err, appErrors.ErrDailyLimitExceeded) {
		t.Fatalf("expected daily limit exceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIncrementIfBelow_ZeroLimitSkipsQuery(t *testing.T) {
	repo, mock := newCapacityMock(t)

	_, err := repo.IncrementIfBelow(context.Background(), 10, 1, "2026-03-10", 0)
	if !errors.Is(err, appErrors.ErrDailyLimitExceeded) {
		t.Fatalf("expected daily limit exceeded, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIncrementIfBelow_DriverErrorPassesThrough(t *testing.T) {
	repo, mock := newCapacityMock(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(`INSERT INTO daily_capacity`).WillReturnError(boom)

	_, err := repo.IncrementIfBelow(context.Background(), 10, 1, "2026-03-10", 5)
	if !errors.Is(err, boom) || errors.Is(err, appErrors.ErrDailyLimitExceeded) {
		t.Fatalf("expected driver error, got %v", err)
	}
}

func TestCapacityRelease_GuardsAgainstNegative(t *testing.T) {
	repo, mock := newCapacityMock(t)
	mock.ExpectExec(`(?s)UPDATE daily_capacity.*sent_count = sent_count - 1.*AND sent_count > 0`).
		WithArgs(int64(10), "2026-03-10").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.Release(context.Background(), 10, "2026-03-10"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

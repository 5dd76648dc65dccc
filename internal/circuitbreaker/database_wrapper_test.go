package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap/zaptest"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("Failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestDatabaseWrapperNormalOperations(t *testing.T) {
	db, mock := newMockDB(t)
	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, "db-wrapper-test", logger)
	ctx := context.Background()

	mock.ExpectPing()
	if err := wrapper.PingContext(ctx); err != nil {
		t.Errorf("PingContext failed: %v", err)
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs("run-1").
		WillReturnResult(sqlmock.NewResult(1, 1))

	result, err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES (?)", "run-1")
	if err != nil {
		t.Errorf("ExecContext failed: %v", err)
	}
	affected, _ := result.RowsAffected()
	if affected != 1 {
		t.Errorf("Expected 1 affected row, got %d", affected)
	}

	rows := sqlmock.NewRows([]string{"topic"}).AddRow("renewable energy")
	mock.ExpectQuery("SELECT topic FROM runs").WillReturnRows(rows)

	var topic string
	if err := wrapper.GetContext(ctx, &topic, "SELECT topic FROM runs WHERE id = ?", "run-1"); err != nil {
		t.Errorf("GetContext failed: %v", err)
	}
	if topic != "renewable energy" {
		t.Errorf("Expected topic 'renewable energy', got %q", topic)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestDatabaseWrapperNoRowsDoesNotTrip(t *testing.T) {
	db, mock := newMockDB(t)
	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, "db-norows-test", logger)
	ctx := context.Background()

	threshold := int(DatabaseProfile().FailureThreshold)
	for i := 0; i < threshold+1; i++ {
		mock.ExpectQuery("SELECT topic FROM runs").WillReturnError(sql.ErrNoRows)
	}

	var topic string
	for i := 0; i < threshold+1; i++ {
		err := wrapper.GetContext(ctx, &topic, "SELECT topic FROM runs WHERE id = ?", "missing")
		if !errors.Is(err, sql.ErrNoRows) {
			t.Fatalf("Expected sql.ErrNoRows, got %v", err)
		}
	}

	if wrapper.IsOpen() {
		t.Error("Circuit breaker should not open on sql.ErrNoRows")
	}
}

func TestDatabaseWrapperBreakerOpensOnFailures(t *testing.T) {
	db, mock := newMockDB(t)
	logger := zaptest.NewLogger(t)
	wrapper := NewDatabaseWrapper(db, "db-breaker-test", logger)
	ctx := context.Background()

	dbErr := errors.New("connection refused")
	threshold := int(DatabaseProfile().FailureThreshold)
	for i := 0; i < threshold; i++ {
		mock.ExpectExec("INSERT INTO runs").WillReturnError(dbErr)
	}

	for i := 0; i < threshold; i++ {
		if _, err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES (?)", "run-1"); err == nil {
			t.Fatal("Expected exec to fail")
		}
	}

	if !wrapper.IsOpen() {
		t.Error("Expected circuit breaker to open after consecutive failures")
	}

	if _, err := wrapper.ExecContext(ctx, "INSERT INTO runs (id) VALUES (?)", "run-2"); err != ErrCircuitBreakerOpen {
		t.Errorf("Expected circuit breaker open error, got %v", err)
	}
}

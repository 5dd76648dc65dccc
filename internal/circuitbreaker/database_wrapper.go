package circuitbreaker

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper wraps sqlx database operations with a circuit breaker
type DatabaseWrapper struct {
	db      *sqlx.DB
	cb      *CircuitBreaker
	service string
	logger  *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, service string, logger *zap.Logger) *DatabaseWrapper {
	cb := NewCircuitBreaker("database", DatabaseProfile().ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker("database", service, cb)

	return &DatabaseWrapper{
		db:      db,
		cb:      cb,
		service: service,
		logger:  logger,
	}
}

func (dw *DatabaseWrapper) record(success bool) {
	GlobalMetricsCollector.RecordRequest("database", dw.service, dw.cb.State(), success)
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.PingContext(ctx)
	})
	dw.record(err == nil)
	return err
}

// ExecContext wraps Exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var result sql.Result

	err := dw.cb.Execute(ctx, func() error {
		var err2 error
		result, err2 = dw.db.ExecContext(ctx, query, args...)
		return err2
	})

	dw.record(err == nil)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetContext wraps sqlx Get with circuit breaker. sql.ErrNoRows does not
// count as a breaker failure
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	var queryErr error

	err := dw.cb.Execute(ctx, func() error {
		queryErr = dw.db.GetContext(ctx, dest, query, args...)
		if queryErr == sql.ErrNoRows {
			return nil
		}
		return queryErr
	})

	dw.record(err == nil)

	if err != nil {
		return err
	}
	return queryErr
}

// SelectContext wraps sqlx Select with circuit breaker
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	err := dw.cb.Execute(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, query, args...)
	})
	dw.record(err == nil)
	return err
}

// Close closes the underlying database handle
func (dw *DatabaseWrapper) Close() error {
	return dw.db.Close()
}

// DB returns the underlying sqlx handle for operations not covered by the wrapper
func (dw *DatabaseWrapper) DB() *sqlx.DB {
	return dw.db
}

// IsOpen reports whether the circuit breaker is open
func (dw *DatabaseWrapper) IsOpen() bool {
	return dw.cb.State() == StateOpen
}

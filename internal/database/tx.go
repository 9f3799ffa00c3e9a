package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/progate-hackathon-strawberry-flavor/STRIDE-backend/internal/apperr"
)

type txKey struct{}

// queryer は *sql.DB と *sql.Tx の共通部分です。
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

// conn はコンテキストにトランザクションがあればそれを、無ければdbを返します。
func conn(ctx context.Context, db *sql.DB) queryer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return db
}

func inTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok && tx != nil
}

type sqlTxManager struct {
	db *sql.DB
}

// NewTxManager returns a TxManager backed by db.
func NewTxManager(db *sql.DB) TxManager {
	return &sqlTxManager{db: db}
}

func (m *sqlTxManager) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inTx(ctx) {
		return fn(ctx)
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "トランザクションの開始に失敗しました")
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(err, "トランザクションのコミットに失敗しました")
	}
	return nil
}

// classify wraps a storage error. Contention and connectivity failures become KindTransient
// so the caller may retry the same idempotent operation.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return apperr.Wrap(apperr.KindTransient, "storage_unavailable", err, msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "40", // serialization_failure, deadlock_detected
			"08", // connection exception
			"53", // insufficient resources
			"57": // operator intervention (query_canceled, admin_shutdown)
			return true
		}
	}
	return false
}

package core

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
)

type (
	// DBExecutor runs queries against either the connection pool or an open
	// transaction. Repositories take it as an optional trailing argument so a
	// service can span several repository calls with one transaction.
	DBExecutor interface {
		sqlx.ExecerContext
		sqlx.QueryerContext
	}

	DB interface {
		DBExecutor

		// BeginTx returns a DBTransactor (not *sql.Tx) so test stores can
		// implement transactional semantics too.
		BeginTx(ctx context.Context, opts *sql.TxOptions) (DBTransactor, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}
)

// Atomic runs fn inside a serializable transaction, rolling back on error or
// panic. No partial application of fn's writes can ever persist.
func Atomic(ctx context.Context, db DB, fn func(tx DBTransactor) error) (err error) {
	tx, err := db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()
	err = fn(tx)
	return err
}

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

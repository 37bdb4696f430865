package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ReadTx runs fn inside a read transaction so every query observes the same
// point in time. On SQLite the single pooled connection makes this exclusive;
// on Postgres it is a REPEATABLE READ snapshot.
//
// fn must only use tx; touching the DB directly from inside fn deadlocks on SQLite.
func (s *DB) ReadTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var opts *sql.TxOptions
	if s.dialect == DialectPostgres {
		opts = &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	tx, err := s.BeginTxx(ctx, opts)
	if err != nil {
		return Classify(fmt.Errorf("begin read tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	// Nothing was written; commit only releases the snapshot.
	return Classify(tx.Commit())
}

// WriteTx runs fn inside a read-write transaction, committing on success.
func (s *DB) WriteTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.BeginTxx(ctx, nil)
	if err != nil {
		return Classify(fmt.Errorf("begin tx: %w", err))
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return Classify(tx.Commit())
}

// Package postgres is the pgvector-backed implementation of store.Driver,
// following the teacher corpus's lib/pq + pgvector-go wiring
// (store/db/postgres/episodic_memory_embedding.go).
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/chatmemory/engine/internal/store"
)

// DB is the Postgres-backed store.Driver.
type DB struct {
	db execer
}

// execer is satisfied by both *sql.DB and *sql.Tx so the memory/message
// query methods can run unchanged inside or outside a transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Open connects to Postgres and applies the schema.
func Open(ctx context.Context, dsn string) (*DB, error) {
	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(err, "failed to ping postgres")
	}

	d := &DB{db: sqlDB}
	if err := d.migrate(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) migrate(ctx context.Context) error {
	raw, ok := d.db.(*sql.DB)
	if !ok {
		return errors.New("migrate must run against the root connection")
	}
	if _, err := raw.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}
	return nil
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	raw, ok := d.db.(*sql.DB)
	if !ok {
		return nil
	}
	return raw.Close()
}

// WithTx implements store.Driver.WithTx, giving fn a view of the store
// backed by the same *sql.Tx for every call it makes.
func (d *DB) WithTx(ctx context.Context, fn func(store.Tx) error) error {
	raw, ok := d.db.(*sql.DB)
	if !ok {
		return errors.New("nested transactions are not supported")
	}

	tx, err := raw.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	txDB := &DB{db: tx}
	if err := fn(txDB); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrap(err, rbErr.Error())
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit transaction")
	}
	return nil
}

var _ store.Driver = (*DB)(nil)

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/affinidi/affinidi-webvh-service/internal/common"
	"github.com/affinidi/affinidi-webvh-service/internal/server/store/migrations"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Postgres keeps the whole keyspace in a single webvh_kv table. PutBatch
// executes inside one transaction, which gives the required all-or-nothing
// semantics.
type Postgres struct {
	pool *pgxpool.Pool
}

func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	if err := runMigrations(ctx, dsn); err != nil {
		return nil, fmt.Errorf("%w: migrations: %v", common.ErrorStore, err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: pg connect: %v", common.ErrorStore, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: pg ping: %v", common.ErrorStore, err)
	}
	return &Postgres{pool: pool}, nil
}

// runMigrations uses goose over database/sql (goose does not speak pgx
// natively), then the pool takes over for regular traffic.
func runMigrations(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, `SELECT v FROM webvh_kv WHERE k = $1`, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", common.ErrorNotFound, key)
		}
		return nil, fmt.Errorf("%w: pg select: %v", common.ErrorStore, err)
	}
	return v, nil
}

func (p *Postgres) Has(ctx context.Context, key string) (bool, error) {
	var ok bool
	err := p.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM webvh_kv WHERE k = $1)`, key).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("%w: pg exists: %v", common.ErrorStore, err)
	}
	return ok, nil
}

func (p *Postgres) ScanPrefix(ctx context.Context, prefix string) ([]KV, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT k, v FROM webvh_kv WHERE k LIKE $1 || '%' ORDER BY k`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: pg scan: %v", common.ErrorStore, err)
	}
	defer rows.Close()

	var out []KV
	for rows.Next() {
		var kv KV
		if err := rows.Scan(&kv.Key, &kv.Value); err != nil {
			return nil, fmt.Errorf("%w: pg scan row: %v", common.ErrorStore, err)
		}
		out = append(out, kv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: pg scan rows: %v", common.ErrorStore, err)
	}
	return out, nil
}

func (p *Postgres) PutBatch(ctx context.Context, puts []KV, deletes []string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: pg begin: %v", common.ErrorStore, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, kv := range puts {
		_, err := tx.Exec(ctx,
			`INSERT INTO webvh_kv (k, v) VALUES ($1, $2)
			 ON CONFLICT (k) DO UPDATE SET v = EXCLUDED.v`, kv.Key, kv.Value)
		if err != nil {
			return fmt.Errorf("%w: pg upsert: %v", common.ErrorStore, err)
		}
	}
	for _, k := range deletes {
		if _, err := tx.Exec(ctx, `DELETE FROM webvh_kv WHERE k = $1`, k); err != nil {
			return fmt.Errorf("%w: pg delete: %v", common.ErrorStore, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: pg commit: %v", common.ErrorStore, err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PoolConfig struct {
	DSN         string
	AppName     string
	MaxConns    int32
	MinConns    int32
	HealthCheck time.Duration
}

func NewPool(ctx context.Context, conf PoolConfig) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(conf.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if conf.MaxConns > 0 {
		pc.MaxConns = conf.MaxConns
	}
	if conf.MinConns > 0 {
		pc.MinConns = conf.MinConns
	}
	if conf.HealthCheck > 0 {
		pc.HealthCheckPeriod = conf.HealthCheck
	}
	if conf.AppName != "" {
		pc.ConnConfig.RuntimeParams["application_name"] = conf.AppName
	}
	return pgxpool.NewWithConfig(ctx, pc)
}

// PgTxManager все транзакции идут в один пул; уровень изоляции выбирает вызывающий.
type PgTxManager struct {
	pool *pgxpool.Pool
}

func NewPgTxManager(pool *pgxpool.Pool) *PgTxManager {
	return &PgTxManager{pool: pool}
}

func (m *PgTxManager) Close() { m.pool.Close() }

func (m *PgTxManager) Conn() Transaction { return m.pool }

func (m *PgTxManager) Ping(ctx context.Context) error { return m.pool.Ping(ctx) }

func (m *PgTxManager) RunMaster(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return m.run(ctx, pgx.ReadCommitted, fn)
}

// RunRepeatableRead для захвата команд: чтение и update видят один снимок,
// конфликт отдаётся как serialization failure и повторяется снаружи.
func (m *PgTxManager) RunRepeatableRead(ctx context.Context, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	return m.run(ctx, pgx.RepeatableRead, fn)
}

func (m *PgTxManager) run(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctxTx context.Context, tx pgx.Tx) error) error {
	// BeginTxFunc откатывает при ошибке и панике, коммитит иначе
	err := pgx.BeginTxFunc(ctx, m.pool, pgx.TxOptions{IsoLevel: iso}, func(tx pgx.Tx) error {
		return fn(ctx, tx)
	})
	if err != nil {
		return fmt.Errorf("tx %s: %w", iso, err)
	}
	return nil
}

package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type checkpointRow struct {
	bun.BaseModel `bun:"table:estate_checkpoints,alias:c"`

	ThreadID  string    `bun:"thread_id,pk"`
	State     []byte    `bun:"state,notnull"`
	Version   int64     `bun:"version,notnull,default:1"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

// PostgresStore 把快照写入 Postgres，供多实例部署共享线程状态。
type PostgresStore struct {
	db *bun.DB
}

func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	_, err := db.NewCreateTable().Model((*checkpointRow)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	return p.db.Close()
}

func (p *PostgresStore) Load(ctx context.Context, threadID string) ([]byte, error) {
	var row checkpointRow
	err := p.db.NewSelect().Model(&row).Where("thread_id = ?", threadID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("thread %s: %w", threadID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return row.State, nil
}

func (p *PostgresStore) Save(ctx context.Context, threadID string, state []byte) error {
	if threadID == "" {
		return errors.New("thread id is empty")
	}
	row := &checkpointRow{
		ThreadID:  threadID,
		State:     state,
		Version:   1,
		UpdatedAt: time.Now().UTC(),
	}
	_, err := p.db.NewInsert().Model(row).
		On("CONFLICT (thread_id) DO UPDATE").
		Set("state = EXCLUDED.state").
		Set("updated_at = EXCLUDED.updated_at").
		Set("version = c.version + 1").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := p.db.NewDelete().Model((*checkpointRow)(nil)).Where("thread_id = ?", threadID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

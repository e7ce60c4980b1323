package retention

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

// Report 汇总一次清理各项删除的行数。
type Report struct {
	AuditExpired   int64
	AuditOverflow  int64
	CacheExpired   int64
	CheckpointIdle int64
}

func (r Report) Total() int64 {
	return r.AuditExpired + r.AuditOverflow + r.CacheExpired + r.CheckpointIdle
}

type Collector struct {
	cfg   Config
	store *storage.Storage
}

func NewCollector(cfg Config, store *storage.Storage) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &Collector{cfg: cfg.withDefaults(), store: store}, nil
}

// Run 立即清理一次，之后按 Interval 周期执行，直到 ctx 取消。
func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}

	if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 以 now 为基准执行一轮清理。
func (c *Collector) RunOnce(ctx context.Context, now time.Time) (Report, error) {
	if c == nil || c.store == nil {
		return Report{}, errors.New("retention collector not initialized")
	}

	var (
		mu     sync.Mutex
		report Report
	)
	record := func(dst *int64, n int64) {
		mu.Lock()
		*dst += n
		mu.Unlock()
	}

	tasks := []func(context.Context) error{
		func(ctx context.Context) error {
			n, err := c.store.DeleteAuditRecordsBefore(ctx, now.Add(-c.cfg.AuditKeep))
			record(&report.AuditExpired, n)
			return err
		},
		func(ctx context.Context) error {
			n, err := c.store.DeleteExpiredCache(ctx, now)
			record(&report.CacheExpired, n)
			return err
		},
	}
	if c.cfg.CheckpointIdle > 0 {
		tasks = append(tasks, func(ctx context.Context) error {
			n, err := c.store.DeleteCheckpointsIdleSince(ctx, now.Add(-c.cfg.CheckpointIdle))
			record(&report.CheckpointIdle, n)
			return err
		})
	}

	if err := c.runTasks(ctx, tasks); err != nil {
		return report, err
	}

	// 行数上限要在按时间清理之后计算
	if c.cfg.AuditMaxRows > 0 {
		n, err := c.store.DeleteAuditRecordsKeepLatest(ctx, c.cfg.AuditMaxRows)
		report.AuditOverflow += n
		if err != nil {
			c.cfg.OnError(err)
			return report, err
		}
	}

	if report.Total() > 0 {
		log.Ctx(ctx).Info().
			Int64("audit_expired", report.AuditExpired).
			Int64("audit_overflow", report.AuditOverflow).
			Int64("cache_expired", report.CacheExpired).
			Int64("checkpoints_idle", report.CheckpointIdle).
			Msg("retention pass finished")
	}
	return report, nil
}

func (c *Collector) runTasks(ctx context.Context, tasks []func(context.Context) error) error {
	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return err
		}
	}
	return nil
}

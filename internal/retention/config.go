package retention

import "time"

type ErrorHandler func(err error)

type Config struct {
	// Enabled 控制 serve 期间是否在后台周期清理。
	Enabled bool `mapstructure:"enabled"`
	// Interval 为清理周期；启动时会先立即执行一次。
	Interval time.Duration `mapstructure:"interval"`
	// AuditKeep 为审计记录的保留时长，早于 now-AuditKeep 的记录会被删除。
	AuditKeep time.Duration `mapstructure:"audit_keep"`
	// AuditMaxRows 为审计表的行数上限，超出部分按时间从旧到新删除；0 表示不限制。
	AuditMaxRows int `mapstructure:"audit_max_rows"`
	// CheckpointIdle 为会话快照的最长闲置时间；0 表示不清理快照。
	CheckpointIdle time.Duration `mapstructure:"checkpoint_idle"`

	// Workers 为并发执行清理任务的 worker 数量。
	Workers int `mapstructure:"-"`
	// OnError 为异步错误回调；默认丢弃。
	OnError ErrorHandler `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		Interval:     time.Hour,
		AuditKeep:    30 * 24 * time.Hour,
		AuditMaxRows: 100000,
		Workers:      2,
	}
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.AuditKeep <= 0 {
		c.AuditKeep = 30 * 24 * time.Hour
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.OnError == nil {
		c.OnError = func(error) {}
	}
	return c
}

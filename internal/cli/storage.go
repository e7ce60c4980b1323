package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/retention"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

// storageCmd represents the storage command
var storageCmd = &cobra.Command{
	Use:   "storage",
	Short: "管理存储和数据库",
	Long:  `提供查看数据库概况、清理审计记录与过期数据、查询工具调用审计的命令。`,
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "显示数据库统计概况",
	RunE:  runInfo,
}

var pruneAuditCmd = &cobra.Command{
	Use:   "prune-audit",
	Short: "清理审计记录",
	Long:  `根据用户指定的保留条数或天数，清理旧的审计记录。`,
	RunE:  runPruneAudit,
}

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "按 retention 配置立即清理一次",
	Long:  `忽略定时任务间隔，立即执行一轮清理：过期审计记录、超出上限的审计记录、过期搜索缓存以及闲置的会话快照。`,
	RunE:  runPrune,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "查看工具调用审计记录",
	RunE:  runAudit,
}

var (
	keepAuditCount int
	keepAuditDays  int

	auditUser   string
	auditTrace  string
	auditAction string
	auditLimit  int
)

func init() {
	rootCmd.AddCommand(storageCmd)
	storageCmd.AddCommand(infoCmd, pruneAuditCmd, pruneCmd, auditCmd)

	pruneAuditCmd.Flags().IntVar(&keepAuditCount, "keep", 0, "保留最近的 N 条记录")
	pruneAuditCmd.Flags().IntVar(&keepAuditDays, "days", 0, "保留最近 N 天的记录")

	auditCmd.Flags().StringVarP(&auditUser, "user", "u", "", "只显示该用户（ID 或邮箱）线程的记录")
	auditCmd.Flags().StringVar(&auditTrace, "trace", "", "按 trace id 过滤")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "按工具名过滤")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "最多显示的条数")
}

func runPruneAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if keepAuditCount <= 0 && keepAuditDays <= 0 {
		return fmt.Errorf("必须指定 --keep 或 --days")
	}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var deletedCount int64
	if keepAuditCount > 0 {
		fmt.Printf("Pruning audit records, keeping latest %d records...\n", keepAuditCount)
		count, err := store.DeleteAuditRecordsKeepLatest(ctx, keepAuditCount)
		if err != nil {
			return fmt.Errorf("按条数清理失败: %w", err)
		}
		deletedCount += count
	}

	if keepAuditDays > 0 {
		before := time.Now().UTC().AddDate(0, 0, -keepAuditDays)
		fmt.Printf("Pruning audit records older than %d days (before %s)...\n", keepAuditDays, before.Format(time.RFC3339))
		count, err := store.DeleteAuditRecordsBefore(ctx, before)
		if err != nil {
			return fmt.Errorf("按天数清理失败: %w", err)
		}
		deletedCount += count
	}

	fmt.Printf("Prune completed. Deleted %d records.\n", deletedCount)
	if count, err := store.CountAuditRecords(ctx); err == nil {
		fmt.Printf("Remaining Audit Records: %d\n", count)
	}
	return nil
}

func runPrune(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	collector, err := retention.NewCollector(cfg.Retention, store)
	if err != nil {
		return err
	}

	fmt.Printf("Policy: audit_keep=%s audit_max_rows=%d checkpoint_idle=%s\n",
		cfg.Retention.AuditKeep, cfg.Retention.AuditMaxRows, cfg.Retention.CheckpointIdle)
	report, err := collector.RunOnce(ctx, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("清理失败: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Task\tDeleted")
	fmt.Fprintln(w, "----\t-------")
	fmt.Fprintf(w, "Expired audit records\t%d\n", report.AuditExpired)
	fmt.Fprintf(w, "Overflow audit records\t%d\n", report.AuditOverflow)
	fmt.Fprintf(w, "Expired search cache\t%d\n", report.CacheExpired)
	fmt.Fprintf(w, "Idle checkpoints\t%d\n", report.CheckpointIdle)
	fmt.Fprintf(w, "Total\t%d\n", report.Total())
	return w.Flush()
}

func runAudit(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	q := storage.AuditQuery{TraceID: auditTrace, Action: auditAction, Limit: auditLimit, Desc: true}
	if auditUser != "" {
		u, err := resolveUser(ctx, store, auditUser)
		if err != nil {
			return fmt.Errorf("查找用户失败: %w", err)
		}
		q.ThreadID = u.ThreadID
	}

	recs, err := store.QueryAuditRecords(ctx, q)
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		fmt.Println("No audit records.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Time\tTrace\tTool\tStatus\tDuration\tParams")
	for _, r := range recs {
		dur := "-"
		if !r.FinishedAt.IsZero() && !r.StartedAt.IsZero() {
			dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			shortID(r.TraceID), r.Action, r.Status, dur, clip(r.ParamsJSON, 60))
	}
	return w.Flush()
}

func runInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	// 1. 获取数据库文件信息
	var dbSizeStr string
	if cfg.Storage.InMemory {
		dbSizeStr = "in-memory"
	} else {
		dbPath := cfg.Storage.Path
		if absPath, err := filepath.Abs(dbPath); err == nil {
			dbPath = absPath
		}
		info, err := os.Stat(dbPath)
		switch {
		case os.IsNotExist(err):
			dbSizeStr = "Not Found (Will be created on first run)"
		case err != nil:
			dbSizeStr = fmt.Sprintf("Error: %v", err)
		default:
			dbSizeStr = fmt.Sprintf("%.2f MB (%s)", float64(info.Size())/1024/1024, dbPath)
		}
	}

	// 2. 连接数据库
	store, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Printf("Database File: %s\n", dbSizeStr)
		return err
	}
	defer store.Close()

	// 3. 获取统计信息
	counts := []struct {
		table string
		count func(context.Context) (int64, error)
	}{
		{"Projects", store.CountProjects},
		{"Units", store.CountUnits},
		{"Users", store.CountUsers},
		{"Checkpoints", store.CountCheckpoints},
		{"AuditRecords", store.CountAuditRecords},
	}

	fmt.Printf("Database File: %s\n", dbSizeStr)
	fmt.Printf("Checkpoint Driver: %s\n\n", cfg.Checkpoint.Driver)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "Table\tCount")
	fmt.Fprintln(w, "-----\t-----")
	for _, c := range counts {
		n, err := c.count(ctx)
		if err != nil {
			fmt.Fprintf(w, "%s\terror: %v\n", c.table, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%d\n", c.table, n)
	}
	return w.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

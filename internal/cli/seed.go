package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/wwwzy/EstateAgent/internal/embedding"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"golang.org/x/sync/errgroup"
)

const (
	embedBatchSize   = 32
	embedConcurrency = 2
)

var (
	seedFile      string
	seedSkipEmbed bool
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "导入楼盘与在售单元数据",
	Long: `从 YAML 或 JSON 文件导入项目与单元，按项目名 upsert。
配置了 tools.embedding.provider 时，同时为项目描述生成向量，供语义搜索使用。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		ds, err := storage.LoadDataset(seedFile)
		if err != nil {
			return err
		}

		store, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		projects, stats, err := store.ImportDataset(ctx, ds)
		if err != nil {
			return fmt.Errorf("导入失败: %w", err)
		}
		fmt.Printf("Imported %d projects, %d units.\n", stats.Projects, stats.Units)

		if seedSkipEmbed {
			return nil
		}
		engine, err := embedding.NewEngine(ctx, cfg.Tools.Embedding)
		if err != nil {
			return fmt.Errorf("创建 embedding 引擎失败: %w", err)
		}
		if engine == nil {
			fmt.Println("Embedding provider not configured, semantic search will use keyword matching.")
			return nil
		}

		n, err := embedProjects(ctx, engine, store, projects)
		if err != nil {
			return err
		}
		fmt.Printf("Embedded %d projects with %s.\n", n, engine.Name())
		return nil
	},
}

// projectEmbeddingStore 是生成向量时需要的写接口。
type projectEmbeddingStore interface {
	SetProjectEmbedding(ctx context.Context, id uint64, vec []float32) error
}

// embedProjects 分批生成向量并写回；批次之间有限并发。
func embedProjects(ctx context.Context, engine embedding.Engine, store projectEmbeddingStore, projects []storage.Project) (int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(projects); start += embedBatchSize {
		batch := projects[start:min(start+embedBatchSize, len(projects))]
		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, p := range batch {
				texts[i] = embeddingText(p)
			}
			vecs, err := engine.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed batch: %w", err)
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("embed batch: got %d vectors for %d texts", len(vecs), len(batch))
			}
			for i, p := range batch {
				if err := store.SetProjectEmbedding(gctx, p.ID, vecs[i]); err != nil {
					return err
				}
			}
			log.Debug().Int("batch", len(batch)).Msg("embedded projects")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(projects), nil
}

// embeddingText 是项目参与向量化的文本：名称、区域、开发商与描述。
func embeddingText(p storage.Project) string {
	parts := []string{p.Name, p.LocationName, p.DeveloperName, p.Description}
	var kept []string
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, ". ")
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "数据文件 (.yaml/.yml/.json)")
	seedCmd.Flags().BoolVar(&seedSkipEmbed, "skip-embeddings", false, "只导入数据，不生成向量")
	_ = seedCmd.MarkFlagRequired("file")
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/checkpoint"
	"github.com/wwwzy/EstateAgent/internal/config"
	"github.com/wwwzy/EstateAgent/internal/embedding"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"github.com/wwwzy/EstateAgent/internal/tools"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

// app 汇总一次命令运行所需的全部组件，closers 按逆序释放。
type app struct {
	store    *storage.Storage
	engine   *agent.Engine
	embedder embedding.Engine
	closers  []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close component failed")
		}
	}
	a.closers = nil
}

// openStore 只打开数据库，供不需要模型的命令使用。
func openStore(ctx context.Context, c *config.Config) (*storage.Storage, error) {
	store, err := storage.Open(ctx, c.Storage)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}
	return store, nil
}

func openCheckpointStore(ctx context.Context, c config.CheckpointConfig, store *storage.Storage) (checkpoint.Store, func() error, error) {
	switch strings.ToLower(c.Driver) {
	case config.CheckpointMemory:
		return checkpoint.NewMemoryStore(), nil, nil
	case config.CheckpointPostgres:
		pg, err := checkpoint.OpenPostgres(ctx, c.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("连接 postgres checkpoint 存储失败: %w", err)
		}
		return pg, pg.Close, nil
	case "", config.CheckpointSQLite:
		s, err := checkpoint.NewSQLiteStore(store)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		return nil, nil, fmt.Errorf("未知的 checkpoint driver: %s", c.Driver)
	}
}

// buildApp 按配置装配存储、模型、工具与引擎。可选工具依赖未配置或不可用时只记录日志并跳过。
func buildApp(ctx context.Context, c *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	store, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	cps, closeCP, err := openCheckpointStore(ctx, c.Checkpoint, store)
	if err != nil {
		return nil, err
	}
	if closeCP != nil {
		a.closers = append(a.closers, closeCP)
	}

	chatModel, err := agent.NewChatModel(ctx, c.Model)
	if err != nil {
		return nil, fmt.Errorf("创建对话模型失败: %w", err)
	}

	deps := tools.Deps{
		Projects: store,
		Memories: store,
		Geo:      geo.NewClient(c.Tools.OSM),
	}

	web := websearch.NewClient(c.Tools.Tavily, store)
	if web.Enabled() {
		deps.Web = web
	} else {
		log.Info().Msg("未配置 Tavily API key，网页检索类工具不可用")
	}

	embedder, err := embedding.NewEngine(ctx, c.Tools.Embedding)
	if err != nil {
		return nil, fmt.Errorf("创建 embedding 引擎失败: %w", err)
	}
	if embedder != nil {
		deps.Embedder = embedder
		a.embedder = embedder
	}

	runner, err := openSandbox(ctx, c.Tools.Sandbox)
	if err != nil {
		return nil, err
	}
	if runner != nil {
		deps.Sandbox = runner
		a.closers = append(a.closers, runner.Close)
	}

	engine, err := agent.NewEngine(ctx, agent.Deps{
		Model:    chatModel,
		Tools:    agent.WrapWithAudit(tools.New(deps), store),
		Store:    cps,
		Profiles: agent.NewStoreProfiles(store),
	}, agent.Options{
		MaxIterations: c.Agent.MaxIterations,
		ModelTimeout:  c.Agent.ModelTimeout,
		ToolTimeout:   c.Agent.ToolTimeout,
		TurnTimeout:   c.Agent.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 agent 引擎失败: %w", err)
	}
	a.engine = engine

	log.Info().
		Strs("tools", engine.Registry().Names()).
		Str("checkpoint", c.Checkpoint.Driver).
		Str("model_provider", c.Model.Provider).
		Msg("agent 已就绪")
	return a, nil
}

// openSandbox 在启用时连接 Docker；daemon 不可达时降级为不注册 python 工具。
func openSandbox(ctx context.Context, c sandbox.Config) (*sandbox.DockerRunner, error) {
	runner, err := sandbox.NewDockerRunner(c)
	if errors.Is(err, sandbox.ErrDisabled) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("创建 python 沙箱失败: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := runner.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("docker 不可用，python 数据分析工具不会注册")
		_ = runner.Close()
		return nil, nil
	}
	return runner, nil
}

// resolveUser 接受用户 ID 或邮箱。
func resolveUser(ctx context.Context, store *storage.Storage, ref string) (*storage.User, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, errors.New("需要指定用户 (--user，ID 或邮箱)")
	}
	if strings.Contains(ref, "@") {
		return store.GetUserByEmail(ctx, ref)
	}
	return store.GetUser(ctx, ref)
}

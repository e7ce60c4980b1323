package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

var errNoUser = errors.New("no user email bound to this conversation; memories are unavailable")

// memoryNamespace 以当前轮次的用户邮箱划分命名空间。
func memoryNamespace(ctx context.Context) (string, error) {
	email := strings.ToLower(strings.TrimSpace(agent.UserEmailFrom(ctx)))
	if email == "" {
		return "", errNoUser
	}
	return fmt.Sprintf("real_estate_assistant/%s/memories", email), nil
}

// ignoredEmail 模型给出的 user_email 与会话用户不一致时只记录日志。
func ignoredEmail(ctx context.Context, toolName, given string) {
	given = strings.TrimSpace(given)
	if given == "" || strings.EqualFold(given, agent.UserEmailFrom(ctx)) {
		return
	}
	log.Ctx(ctx).Warn().Str("tool", toolName).Str("given_email", given).Msg("ignoring user_email argument that does not match the conversation user")
}

type memoryView struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

func toMemoryView(m storage.Memory) memoryView {
	return memoryView{ID: m.ID, Content: m.Content, CreatedAt: m.CreatedAt}
}

// ManageMemoryTool 保存或删除关于用户的长期记忆。
type ManageMemoryTool struct {
	store MemoryStore
}

func (t *ManageMemoryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "manage_memory",
		Desc: "Save a durable fact about the user (preferences, constraints, decisions) or delete a saved memory by id.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"action": {
				Desc:     "save or delete",
				Type:     schema.String,
				Enum:     []string{"save", "delete"},
				Required: true,
			},
			"content": {
				Desc: "The fact to remember (for save)",
				Type: schema.String,
			},
			"memory_id": {
				Desc: "Id of the memory to delete (for delete)",
				Type: schema.String,
			},
		}),
	}, nil
}

func (t *ManageMemoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Action    string `json:"action"`
		Content   string `json:"content"`
		MemoryID  string `json:"memory_id"`
		UserEmail string `json:"user_email"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	ignoredEmail(ctx, "manage_memory", args.UserEmail)
	ns, err := memoryNamespace(ctx)
	if err != nil {
		return "", err
	}

	switch strings.ToLower(strings.TrimSpace(args.Action)) {
	case "save":
		if strings.TrimSpace(args.Content) == "" {
			return "", errors.New("content is required to save a memory")
		}
		m, err := t.store.InsertMemory(ctx, ns, args.Content)
		if err != nil {
			return "", err
		}
		return encodeResult(map[string]any{"status": "saved", "memory": toMemoryView(*m)})
	case "delete":
		id := strings.TrimSpace(args.MemoryID)
		if id == "" {
			return "", errors.New("memory_id is required to delete a memory")
		}
		if err := t.store.DeleteMemory(ctx, ns, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Sprintf("No memory with id %s for this user.", id), nil
			}
			return "", err
		}
		return encodeResult(map[string]any{"status": "deleted", "memory_id": id})
	default:
		return "", fmt.Errorf("unknown action %q (use save or delete)", args.Action)
	}
}

// SearchMemoryTool 按关键字检索当前用户的记忆；query 为空时返回最近的记忆。
type SearchMemoryTool struct {
	store MemoryStore
}

func (t *SearchMemoryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: "search_memory",
		Desc: "Search what was previously remembered about the user.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Desc: "Keywords to look for; empty returns the most recent memories",
				Type: schema.String,
			},
			"limit": {
				Desc: "Maximum results (default 5, max 20)",
				Type: schema.Integer,
			},
		}),
	}, nil
}

func (t *SearchMemoryTool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...tool.Option) (string, error) {
	var args struct {
		Query     string `json:"query"`
		Limit     int    `json:"limit"`
		UserEmail string `json:"user_email"`
	}
	if err := decodeArgs(argumentsInJSON, &args); err != nil {
		return "", err
	}
	ignoredEmail(ctx, "search_memory", args.UserEmail)
	ns, err := memoryNamespace(ctx)
	if err != nil {
		return "", err
	}
	if args.Limit == 0 {
		args.Limit = 5
	}
	args.Limit = clamp(args.Limit, 1, 20)

	all, err := t.store.ListMemories(ctx, ns, 200)
	if err != nil {
		return "", err
	}

	terms := keywordTerms(args.Query)
	type scored struct {
		m     storage.Memory
		score int
	}
	var hits []scored
	for _, m := range all {
		if len(terms) == 0 {
			hits = append(hits, scored{m: m})
			continue
		}
		lower := strings.ToLower(m.Content)
		n := 0
		for _, term := range terms {
			if strings.Contains(lower, term) {
				n++
			}
		}
		if n > 0 {
			hits = append(hits, scored{m: m, score: n})
		}
	}
	// 得分相同时保持时间倒序
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > args.Limit {
		hits = hits[:args.Limit]
	}

	out := make([]memoryView, 0, len(hits))
	for _, h := range hits {
		out = append(out, toMemoryView(h.m))
	}
	return encodeResult(map[string]any{"query": args.Query, "count": len(out), "memories": out})
}

// Package tools 实现房产助手可调用的工具集合。每个工具都是一个 eino InvokableTool，
// 参数与返回值均为 JSON。
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/rs/zerolog/log"
	"github.com/wwwzy/EstateAgent/internal/agent"
	"github.com/wwwzy/EstateAgent/internal/embedding"
	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/sandbox"
	"github.com/wwwzy/EstateAgent/internal/storage"
	"github.com/wwwzy/EstateAgent/internal/websearch"
)

// ProjectStore 是项目类工具需要的只读查询，*storage.Storage 实现了它。
type ProjectStore interface {
	SearchProjects(ctx context.Context, q storage.ProjectQuery) ([]storage.Project, error)
	FindProjectByName(ctx context.Context, name string) (*storage.Project, error)
	ProjectsWithCoordinates(ctx context.Context) ([]storage.Project, error)
	ProjectsWithEmbeddings(ctx context.Context, location string, maxPrice *int64) ([]storage.Project, error)
	CountUnitsByBedrooms(ctx context.Context, bedrooms int) (map[string]int64, error)
	ListUnits(ctx context.Context, q storage.UnitQuery) ([]storage.Unit, error)
}

type MemoryStore interface {
	InsertMemory(ctx context.Context, namespace, content string) (*storage.Memory, error)
	DeleteMemory(ctx context.Context, namespace, id string) error
	ListMemories(ctx context.Context, namespace string, limit int) ([]storage.Memory, error)
}

// Geocoder 由 *geo.Client 实现。
type Geocoder interface {
	GeocodeInEgypt(ctx context.Context, name string) (*geo.Place, error)
	Overpass(ctx context.Context, query string) ([]geo.Element, error)
}

// WebSearcher 由 *websearch.Client 实现。
type WebSearcher interface {
	Search(ctx context.Context, r websearch.Request) (*websearch.Response, error)
}

// Deps 汇总工具的外部依赖。为 nil 的依赖对应的工具不会注册。
type Deps struct {
	Projects ProjectStore
	Memories MemoryStore
	Geo      Geocoder
	Web      WebSearcher
	Embedder embedding.Engine
	Sandbox  sandbox.Runner
}

// New 按依赖构建工具目录，顺序即展示给模型的顺序。
func New(d Deps) []tool.BaseTool {
	var out []tool.BaseTool
	if d.Projects != nil {
		out = append(out,
			&ProjectMatcherTool{store: d.Projects},
			&SemanticSearchTool{store: d.Projects, embedder: d.Embedder},
			&ProjectDetailsTool{store: d.Projects},
			&ProjectAvailabilityTool{store: d.Projects},
			&ProjectInfoTool{store: d.Projects},
			&CompareProjectsTool{store: d.Projects},
			&MapsLinkTool{store: d.Projects},
		)
	}
	if d.Projects != nil && d.Geo != nil {
		out = append(out,
			&FindPropertiesTool{store: d.Projects, geo: d.Geo},
			&NearbyPlacesTool{store: d.Projects, geo: d.Geo},
		)
	}
	if d.Geo != nil {
		out = append(out, &NeighborhoodTool{geo: d.Geo, data: mustCatalog()})
	}
	if d.Web != nil {
		out = append(out,
			&ListingSearchTool{web: d.Web, data: mustCatalog()},
			&MarketIntelligenceTool{web: d.Web, data: mustCatalog()},
		)
	}
	if d.Memories != nil {
		out = append(out,
			&ManageMemoryTool{store: d.Memories},
			&SearchMemoryTool{store: d.Memories},
		)
	}
	if d.Sandbox != nil && d.Projects != nil {
		out = append(out, &PythonQueryTool{store: d.Projects, runner: d.Sandbox})
	}
	return out
}

func decodeArgs(argumentsInJSON string, v any) error {
	if strings.TrimSpace(argumentsInJSON) == "" {
		argumentsInJSON = "{}"
	}
	if err := json.Unmarshal([]byte(argumentsInJSON), v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func encodeResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal result: %w", err)
	}
	return string(data), nil
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n]) + "..."
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatEGP(v int64) string {
	return agent.FormatEGP(v)
}

// logWarn 记录工具内部可恢复的失败，不影响返回给模型的结果。
func logWarn(ctx context.Context, toolName string, err error) {
	log.Ctx(ctx).Warn().Err(err).Str("tool", toolName).Msg("tool degraded")
}

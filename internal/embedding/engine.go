// Package embedding 为项目描述与用户查询生成向量，用于语义检索。
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	ProviderOpenAI = "openai"
	ProviderGenAI  = "genai"
)

// Engine 生成文本向量。
type Engine interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Name() string
}

// Config 中 Provider 为空表示不启用向量检索，语义搜索退化为关键字匹配。
type Config struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
}

func DefaultConfig() Config {
	return Config{}
}

// NewEngine 按 Provider 创建引擎；未启用时返回 (nil, nil)。
func NewEngine(ctx context.Context, cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "":
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL, cfg.Model)
	case ProviderGenAI:
		return NewGenAIEngine(ctx, cfg.APIKey, cfg.Model)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use %q or %q)", cfg.Provider, ProviderOpenAI, ProviderGenAI)
	}
}

// CosineSimilarity 返回 [-1, 1] 的余弦相似度。
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vector dimension mismatch: %d != %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, errors.New("empty vector")
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// Scored 是一个候选及其相似度。
type Scored struct {
	Index      int
	Similarity float64
}

// TopK 按与 query 的相似度从高到低返回前 k 个候选的下标；维度不匹配的候选被跳过。
func TopK(query []float32, candidates [][]float32, k int) []Scored {
	out := make([]Scored, 0, len(candidates))
	for i, c := range candidates {
		sim, err := CosineSimilarity(query, c)
		if err != nil {
			continue
		}
		out = append(out, Scored{Index: i, Similarity: sim})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
